// Package headless is an in-process renderer for documents without a UI.
// It speaks the renderer side of the bridge: it executes commands and the
// scripts built by the bridge package, and reports back through the same
// messages a UI renderer posts.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
)

// Renderer renders one EPUB at a time. Messages go to the sink passed to
// New, outside of the renderer's lock, in the order they were produced.
type Renderer struct {
	sink   func(bridge.Message)
	logger *slog.Logger
	budget int

	mu        sync.Mutex
	doc       *document
	settings  bridge.Settings
	pages     []page
	current   int
	displayed int  // section whose elements were last reported, -1 if none
	located   bool // locations manifest reported for this document
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// WithPageBudget sets the characters per page at default settings.
func WithPageBudget(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.budget = n
		}
	}
}

// New creates a Renderer reporting to sink.
func New(sink func(bridge.Message), opts ...Option) *Renderer {
	r := &Renderer{
		sink:      sink,
		logger:    slog.Default(),
		budget:    DefaultPageBudget,
		displayed: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send implements bridge.Renderer.
func (r *Renderer) Send(ctx context.Context, cmd bridge.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	out, err := r.execute(cmd)
	r.mu.Unlock()

	for _, msg := range out {
		r.sink(msg)
	}
	return err
}

// Page returns the displayed page index and the page count.
func (r *Renderer) Page() (current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, len(r.pages)
}

// Title returns the loaded document's title.
func (r *Renderer) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return ""
	}
	return r.doc.title
}

// Text returns the units on the displayed page with translations applied.
func (r *Renderer) Text() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pages) == 0 {
		return nil
	}
	p := r.pages[r.current]
	if p.last < p.first {
		return nil
	}
	units := r.doc.sections[p.section].units
	return append([]string(nil), units[p.first:p.last+1]...)
}

// execute runs cmd and returns the messages it produced. Failures that a
// UI renderer would report are returned both as an Error message and as
// the error.
func (r *Renderer) execute(cmd bridge.Command) ([]bridge.Message, error) {
	var (
		out []bridge.Message
		err error
	)
	switch c := cmd.(type) {
	case bridge.Load:
		out, err = r.load(c.Src)
	case bridge.GoToLocation:
		out, err = r.goTo(c.Cfi)
	case bridge.GoNext:
		out, err = r.move(1)
	case bridge.GoPrevious:
		out, err = r.move(-1)
	case bridge.InjectScript:
		out, err = r.inject(c.Script)
	default:
		err = fmt.Errorf("unsupported command %q", cmd.CommandName())
	}
	if err != nil {
		r.logger.Warn("renderer command failed", "command", cmd.CommandName(), "err", err)
		out = append(out, bridge.Error{Text: err.Error()})
	}
	return out, err
}

func (r *Renderer) load(src string) ([]bridge.Message, error) {
	doc, err := openDocument(src)
	if err != nil {
		return nil, err
	}
	r.doc = doc
	r.pages = nil
	r.current = 0
	r.displayed = -1
	r.located = false
	r.logger.Info("document opened", "title", doc.title, "sections", len(doc.sections))
	return []bridge.Message{
		bridge.Log{Text: fmt.Sprintf("opened %q with %d sections", doc.title, len(doc.sections))},
		bridge.Ready{},
	}, nil
}

func (r *Renderer) requireDocument() error {
	if r.doc == nil {
		return fmt.Errorf("no document loaded")
	}
	if r.pages == nil {
		r.pages = paginate(r.doc, pageBudget(r.budget, r.settings))
	}
	return nil
}

func (r *Renderer) goTo(token string) ([]bridge.Message, error) {
	if err := r.requireDocument(); err != nil {
		return nil, err
	}
	idx, err := r.resolve(token)
	if err != nil {
		return nil, err
	}
	r.current = idx
	return r.display(), nil
}

// resolve maps a location token to a page index. The canonical start is
// the first page; a cfi resolves to the page holding its unit.
func (r *Renderer) resolve(token string) (int, error) {
	if token == "" || token == entity.CanonicalStart {
		return 0, nil
	}
	var spine, step int
	if _, err := fmt.Sscanf(token, "epubcfi(/6/%d!/4/%d)", &spine, &step); err != nil {
		return 0, fmt.Errorf("invalid location %q", token)
	}
	sec, unit := spine/2-1, step/2-1
	for i, p := range r.pages {
		if p.contains(sec, unit) || (p.section == sec && p.last < p.first) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("location %q is outside the document", token)
}

// move turns by delta pages, staying on the first or last page at the
// ends. A relocation is reported either way.
func (r *Renderer) move(delta int) ([]bridge.Message, error) {
	if err := r.requireDocument(); err != nil {
		return nil, err
	}
	r.current = min(max(r.current+delta, 0), len(r.pages)-1)
	return r.display(), nil
}

// display reports the displayed page, preceded by the section's text units
// whenever the section changes. Entering a section re-renders it from the
// source, dropping replaced text.
func (r *Renderer) display() []bridge.Message {
	p := r.pages[r.current]
	sec := &r.doc.sections[p.section]

	var out []bridge.Message
	if r.displayed != p.section {
		r.displayed = p.section
		copy(sec.units, sec.original)
		units := make([]string, len(sec.units))
		for i, u := range sec.units {
			units[i] = entity.EscapeSpaces(u)
		}
		out = append(out, bridge.ElementsInSection{Href: sec.href, TextElements: units})
	}
	return append(out, bridge.LocationChange{
		TotalLocations: len(r.pages),
		Start:          bridge.Location{Cfi: cfi(p), Location: r.current, Href: sec.href},
		Progress:       entity.ProgressOf(r.current, len(r.pages)),
	})
}

func (r *Renderer) inject(script string) ([]bridge.Message, error) {
	parsed, err := bridge.ParseScript(script)
	if err != nil {
		return nil, err
	}

	switch parsed.Kind {
	case bridge.ScriptApplySettings:
		return r.applySettings(parsed.Settings)
	case bridge.ScriptUpdateSections:
		return r.updateSections()
	case bridge.ScriptFindCurrentElementIndex:
		if err := r.requireDocument(); err != nil {
			return nil, err
		}
		return []bridge.Message{bridge.CurrentElementIndex{Index: max(r.pages[r.current].first, 0)}}, nil
	case bridge.ScriptReplaceTextElement:
		return nil, r.replace(parsed.Index, parsed.Text)
	default:
		return nil, fmt.Errorf("unhandled script kind %s", parsed.Kind)
	}
}

// applySettings lays the document out for s. The first call after a load
// produces the locations manifest; later changes announce a repagination
// and keep the displayed unit on screen.
func (r *Renderer) applySettings(s bridge.Settings) ([]bridge.Message, error) {
	if r.doc == nil {
		r.settings = s
		return nil, nil
	}

	if !r.located {
		r.settings = s
		r.pages = paginate(r.doc, pageBudget(r.budget, s))
		r.current = min(r.current, len(r.pages)-1)
		r.located = true
		msg, err := r.locationsReady()
		if err != nil {
			return nil, err
		}
		return []bridge.Message{msg}, nil
	}

	if s == r.settings {
		return nil, nil
	}
	anchor := r.pages[r.current]
	r.settings = s
	r.pages = paginate(r.doc, pageBudget(r.budget, s))
	r.current = 0
	for i, p := range r.pages {
		if p.contains(anchor.section, anchor.first) || (p.section == anchor.section && p.last < p.first) {
			r.current = i
			break
		}
	}
	r.logger.Debug("repaginated", "pages", len(r.pages), "page", r.current)
	return []bridge.Message{bridge.UpdateSections{IsLoading: true}}, nil
}

type tocEntry struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

func (r *Renderer) locationsReady() (bridge.Message, error) {
	locations := make([]string, len(r.pages))
	for i, p := range r.pages {
		locations[i] = cfi(p)
	}
	toc := make([]tocEntry, len(r.doc.sections))
	for i, s := range r.doc.sections {
		toc[i] = tocEntry{Label: s.label, Href: s.href}
	}

	locJSON, err := json.Marshal(locations)
	if err != nil {
		return nil, fmt.Errorf("marshal locations: %w", err)
	}
	tocJSON, err := json.Marshal(toc)
	if err != nil {
		return nil, fmt.Errorf("marshal toc: %w", err)
	}
	return bridge.LocationsReady{Locations: locJSON, Toc: tocJSON}, nil
}

func (r *Renderer) updateSections() ([]bridge.Message, error) {
	if err := r.requireDocument(); err != nil {
		return nil, err
	}
	return []bridge.Message{bridge.UpdateSections{
		IsLoading:           false,
		SectionsPercentages: sectionPercentages(r.doc, r.pages),
		TotalPages:          len(r.pages),
	}}, nil
}

// replace swaps the text of unit index of the displayed section. A replace
// carries no href; the session cancels translation before navigating.
func (r *Renderer) replace(index int, text string) error {
	if r.displayed < 0 {
		return fmt.Errorf("no section displayed")
	}
	units := r.doc.sections[r.displayed].units
	if index < 0 || index >= len(units) {
		return fmt.Errorf("text element %d out of range (%d elements)", index, len(units))
	}
	units[index] = strings.TrimSpace(text)
	return nil
}
