package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
	"github.com/roach88/lectern/internal/session"
	"github.com/roach88/lectern/internal/store"
	"github.com/roach88/lectern/internal/testutil"
	"github.com/roach88/lectern/internal/translate"
)

// Harness is the scenario execution engine.
type Harness struct {
	store    *store.Store
	session  *session.Session
	pipeline *translate.Pipeline
	recorder *bridge.Recorder
	clock    *testutil.ManualClock
	logger   *slog.Logger
	bookID   string

	// Commands arrive from the session and from translation chunks.
	mu     sync.Mutex
	seq    int64
	result *Result
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger for the session and pipeline. Default: logs
// are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database with fixed IDs
// 2. Seed the Book and sections
// 3. Wire the session to a recording renderer and, if configured, a mock
// translation pipeline on a manual clock
// 4. Handle every step in order
// 5. Evaluate assertions and return the result with trace and errors
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		recorder: bridge.NewRecorder(),
		clock:    testutil.NewManualClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	st, err := store.Open(":memory:",
		store.WithIDGenerator(entity.NewFixedGenerator("id")),
		store.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}

	h.recorder.OnSend(h.record)

	sopts := []session.Option{session.WithLogger(h.logger)}
	if scenario.Settings != nil {
		sopts = append(sopts, session.WithSettings(scenario.Settings.Settings()))
	}
	if t := scenario.Translator; t != nil {
		h.pipeline = h.newPipeline(t)
		defer h.pipeline.Cancel()
		sopts = append(sopts, session.WithPipeline(h.pipeline))
	}
	h.session = session.New(h.bookID, st, h.recorder, sopts...)

	if t := scenario.Translator; t != nil && t.Disabled {
		if err := h.session.Handle(ctx, session.Event{Type: session.EventTypeTranslation, Enabled: false}); err != nil {
			return nil, fmt.Errorf("disable translation: %w", err)
		}
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result := h.snapshot()
	result.Phase = h.session.Phase().String()

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// seed writes the scenario's Book and sections.
func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	title := s.Book.Title
	if title == "" {
		title = s.Name
	}
	book, err := h.store.CreateBook(ctx, s.Book.URI, title)
	if err != nil {
		return err
	}
	h.bookID = book.ID

	b := s.Book
	if b.TotalPages > 0 {
		progress := entity.ProgressOf(b.Page, b.TotalPages)
		if err := h.store.ChangePagination(ctx, book.ID, b.TotalPages, b.Page, progress); err != nil {
			return err
		}
	}
	if b.Cfi != "" {
		if err := h.store.ChangeCfiLocation(ctx, book.ID, b.Cfi); err != nil {
			return err
		}
	}
	if len(b.SectionsPercentages) > 0 {
		if err := h.store.ChangeSectionsPercentages(ctx, book.ID, b.SectionsPercentages); err != nil {
			return err
		}
	}
	if b.InitialLocations != nil {
		raw, err := json.Marshal(b.InitialLocations)
		if err != nil {
			return fmt.Errorf("initial_locations: %w", err)
		}
		if _, err := h.store.ChangeInitialLocations(ctx, book.ID, raw); err != nil {
			return err
		}
	}

	for _, sec := range s.Sections {
		units := make([]string, len(sec.Elements))
		for i, e := range sec.Elements {
			units[i] = entity.EscapeSpaces(e)
		}
		section, _, err := session.Ingest(ctx, h.store, book.ID, sec.Href, units)
		if err != nil {
			return err
		}
		for idx, content := range sec.Translated {
			if err := h.store.ChangeContent(ctx, section.ID, idx, content); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Harness) newPipeline(t *TranslatorSetup) *translate.Pipeline {
	mock := translate.NewMock()
	prefix := t.Prefix
	if prefix == "" {
		prefix = "~"
	}
	mock.Transform = func(s string) string { return prefix + s }
	mock.Drop = t.Drop
	if t.FailOn != "" {
		mock.FailIf = func(texts []string) error {
			for _, s := range texts {
				if strings.Contains(s, t.FailOn) {
					return errors.New("mock translator failure")
				}
			}
			return nil
		}
	}

	// Validated on load.
	stagger, _ := parseDuration(t.Stagger)
	maxStagger, _ := parseDuration(t.MaxStagger)

	opts := []translate.Option{
		translate.WithClock(h.clock),
		translate.WithLogger(h.logger),
	}
	if t.ChunkLimit > 0 {
		opts = append(opts, translate.WithChunkLimit(t.ChunkLimit))
	}
	if t.Stagger != "" || t.MaxStagger != "" {
		if t.Stagger == "" {
			stagger = translate.DefaultStagger
		}
		opts = append(opts, translate.WithStagger(stagger, maxStagger))
	}
	return translate.NewPipeline(mock, h.store, h.recorder, opts...)
}

// execute handles one step to completion.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Message != nil:
		msg, err := decodeMessage(step.Message)
		if err != nil {
			return err
		}
		h.step("message:" + msg.MessageType())
		return h.handle(ctx, session.Event{Type: session.EventTypeMessage, Message: msg})

	case step.Settings != nil:
		h.step("settings")
		return h.handle(ctx, session.Event{Type: session.EventTypeSettings, Settings: step.Settings.Settings()})

	case step.Turn != "":
		dir, err := parseDirection(step.Turn)
		if err != nil {
			return err
		}
		h.step("turn:" + step.Turn)
		return h.handle(ctx, session.Event{Type: session.EventTypePageTurn, Direction: dir})

	case step.Seek != nil:
		h.step("seek:" + strconv.Itoa(*step.Seek))
		return h.handle(ctx, session.Event{Type: session.EventTypeSeek, Page: *step.Seek})

	case step.Translation != nil:
		state := "off"
		if *step.Translation {
			state = "on"
		}
		h.step("translation:" + state)
		return h.handle(ctx, session.Event{Type: session.EventTypeTranslation, Enabled: *step.Translation})

	case step.Advance != "":
		d, err := parseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.step("advance:" + step.Advance)
		h.clock.AdvanceAndWait(d)
		return nil
	}
	return fmt.Errorf("empty step")
}

// handle runs one event. Handler errors are part of the scenario's
// behavior, not harness failures; they are logged like the session loop
// does.
func (h *Harness) handle(ctx context.Context, e session.Event) error {
	if err := h.session.Handle(ctx, e); err != nil {
		h.logger.Warn("scenario event failed", "event", e.Type.String(), "err", err)
	}
	return nil
}

func (h *Harness) step(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.result.Trace = append(h.result.Trace, TraceEvent{Seq: h.seq, Type: TraceStep, Step: name})
}

func (h *Harness) record(cmd bridge.Command) {
	event := commandEvent(cmd)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	event.Seq = h.seq
	h.result.Trace = append(h.result.Trace, event)
}

func (h *Harness) snapshot() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := *h.result
	r.Trace = append([]TraceEvent(nil), h.result.Trace...)
	return &r
}

// commandEvent describes cmd with its arguments. Scripts are parsed back so
// the trace shows their kind and arguments rather than JavaScript.
func commandEvent(cmd bridge.Command) TraceEvent {
	e := TraceEvent{Type: TraceCommand, Command: cmd.CommandName()}

	var args any
	switch c := cmd.(type) {
	case bridge.Load:
		args = map[string]any{"src": c.Src}
	case bridge.GoToLocation:
		args = map[string]any{"cfi": c.Cfi}
	case bridge.InjectScript:
		s, err := bridge.ParseScript(c.Script)
		e.Script = s.Kind.String()
		if err != nil {
			break
		}
		switch s.Kind {
		case bridge.ScriptReplaceTextElement:
			args = map[string]any{"index": s.Index, "text": s.Text}
		case bridge.ScriptUpdateSections:
			args = map[string]any{"toc": s.Toc}
		case bridge.ScriptApplySettings:
			args = s.Settings
		}
	}
	if args != nil {
		if raw, err := json.Marshal(args); err == nil {
			e.Args = raw
		}
	}
	return e
}
