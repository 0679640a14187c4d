package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/session"
)

// Scenario defines a reading-session scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Book is the stored Book the session starts from.
	Book BookSetup `yaml:"book"`

	// Sections are ingested before the first step.
	Sections []SectionSetup `yaml:"sections,omitempty"`

	// Settings are the session's initial reading settings.
	Settings *SettingsSetup `yaml:"settings,omitempty"`

	// Translator enables translation with the mock translator. Without it
	// the session runs with translation off.
	Translator *TranslatorSetup `yaml:"translator,omitempty"`

	// Steps run in order, each handled to completion before the next.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// BookSetup seeds the stored Book.
type BookSetup struct {
	URI                 string    `yaml:"uri"`
	Title               string    `yaml:"title,omitempty"`
	Cfi                 string    `yaml:"cfi,omitempty"`
	Page                int       `yaml:"page,omitempty"`
	TotalPages          int       `yaml:"total_pages,omitempty"`
	SectionsPercentages []float64 `yaml:"sections_percentages,omitempty"`

	// InitialLocations is any YAML value; it is stored as its JSON form.
	InitialLocations any `yaml:"initial_locations,omitempty"`
}

// SectionSetup seeds one ingested section. Translated maps element
// indexes to content that is stored as already translated.
type SectionSetup struct {
	Href       string         `yaml:"href"`
	Elements   []string       `yaml:"elements"`
	Translated map[int]string `yaml:"translated,omitempty"`
}

// SettingsSetup is a reading settings value.
type SettingsSetup struct {
	FontSize   int     `yaml:"font_size"`
	Theme      string  `yaml:"theme,omitempty"`
	LineHeight float64 `yaml:"line_height,omitempty"`
	FontFamily string  `yaml:"font_family,omitempty"`
}

// Settings converts to the bridge value.
func (s SettingsSetup) Settings() bridge.Settings {
	return bridge.Settings{
		FontSize:   s.FontSize,
		Theme:      s.Theme,
		LineHeight: s.LineHeight,
		FontFamily: s.FontFamily,
	}
}

// TranslatorSetup configures the mock translator and the pipeline.
type TranslatorSetup struct {
	// Prefix is prepended to every translated text. Default "~".
	Prefix string `yaml:"prefix,omitempty"`

	// FailOn fails every chunk holding a text that contains it.
	FailOn string `yaml:"fail_on,omitempty"`

	// Drop removes items from every answer to provoke length mismatches.
	Drop int `yaml:"drop,omitempty"`

	ChunkLimit int    `yaml:"chunk_limit,omitempty"`
	Stagger    string `yaml:"stagger,omitempty"`
	MaxStagger string `yaml:"max_stagger,omitempty"`

	// Disabled starts the session with translation switched off.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Step is one scenario input. Exactly one field is set.
type Step struct {
	// Message is a renderer message, as a mapping or a JSON string. It is
	// decoded and validated exactly like bytes from a renderer.
	Message any `yaml:"message,omitempty"`

	Settings    *SettingsSetup `yaml:"settings,omitempty"`
	Turn        string         `yaml:"turn,omitempty"` // next | prev
	Seek        *int           `yaml:"seek,omitempty"`
	Translation *bool          `yaml:"translation,omitempty"`

	// Advance moves the translation clock, e.g. "300ms", and runs every
	// chunk that became due.
	Advance string `yaml:"advance,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Command is the wire name of a command (command_contains, command_count).
	Command string `yaml:"command,omitempty"`

	// Script narrows injectScript commands to one script kind.
	Script string `yaml:"script,omitempty"`

	// Args are expected command arguments, subset match (command_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Count is the expected number of occurrences (command_count).
	Count int `yaml:"count,omitempty"`

	// Commands is the expected order (command_order). An entry may name a
	// script kind as "injectScript:replaceTextElement".
	Commands []string `yaml:"commands,omitempty"`

	// Phase is the expected reconciler phase (phase).
	Phase string `yaml:"phase,omitempty"`

	// Table, Where and Expect query the store (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertPhase           = "phase"
	AssertCommandContains = "command_contains"
	AssertCommandOrder    = "command_order"
	AssertCommandCount    = "command_count"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Book.URI == "" {
		return fmt.Errorf("book.uri is required")
	}
	if s.Book.Page < 0 || s.Book.Page > s.Book.TotalPages {
		return fmt.Errorf("book.page %d outside [0, %d]", s.Book.Page, s.Book.TotalPages)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, sec := range s.Sections {
		if sec.Href == "" {
			return fmt.Errorf("sections[%d]: href is required", i)
		}
		for idx := range sec.Translated {
			if idx < 0 || idx >= len(sec.Elements) {
				return fmt.Errorf("sections[%d]: translated index %d out of range", i, idx)
			}
		}
	}

	if t := s.Translator; t != nil {
		for field, v := range map[string]string{"stagger": t.Stagger, "max_stagger": t.MaxStagger} {
			if _, err := parseDuration(v); err != nil {
				return fmt.Errorf("translator.%s: %w", field, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Message != nil {
		set++
		if _, err := decodeMessage(step.Message); err != nil {
			return err
		}
	}
	if step.Settings != nil {
		set++
	}
	if step.Turn != "" {
		set++
		if _, err := parseDirection(step.Turn); err != nil {
			return err
		}
	}
	if step.Seek != nil {
		set++
	}
	if step.Translation != nil {
		set++
	}
	if step.Advance != "" {
		set++
		if _, err := parseDuration(step.Advance); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of message, settings, turn, seek, translation, advance is required (got %d)", set)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPhase:
		if _, err := parsePhase(a.Phase); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertCommandContains:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for command_contains", index)
		}
	case AssertCommandOrder:
		if len(a.Commands) == 0 {
			return fmt.Errorf("assertions[%d]: commands list is required for command_order", index)
		}
	case AssertCommandCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for command_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for command_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// decodeMessage turns a step's message into a bridge message through the
// renderer wire codec.
func decodeMessage(v any) (bridge.Message, error) {
	var data []byte
	switch m := v.(type) {
	case string:
		data = []byte(m)
	default:
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("message: %w", err)
		}
		data = raw
	}
	msg, err := bridge.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	return msg, nil
}

func parseDirection(s string) (session.Direction, error) {
	switch s {
	case "next":
		return session.Next, nil
	case "prev":
		return session.Prev, nil
	}
	return 0, fmt.Errorf("turn must be next or prev, got %q", s)
}

func parsePhase(s string) (session.Phase, error) {
	for _, p := range []session.Phase{session.Paginating, session.Loaded, session.Repaginating} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
