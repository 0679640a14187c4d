package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
	"github.com/roach88/lectern/internal/translate"
)

// ErrClosed is returned when an event is sent to a stopped session.
var ErrClosed = errors.New("session closed")

// Loader resolves a document URI to a path the renderer can open.
type Loader interface {
	Load(ctx context.Context, uri string) (string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, uri string) (string, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, uri string) (string, error) {
	return f(ctx, uri)
}

// Notifier shows a blocking notice to the reader.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, title, message string)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, title, message string) {
	f(ctx, title, message)
}

// Session reconciles one Book with one renderer.
//
// Thread-safety model:
//   - Deliver, ChangeSettings, TurnPage, Seek, SetTranslation, Stop: safe
//     from any goroutine
//   - Run, Handle: from exactly one goroutine
type Session struct {
	bookID   string
	repo     entity.Repository
	renderer bridge.Renderer
	pipeline *translate.Pipeline
	notifier Notifier
	logger   *slog.Logger

	queue *eventQueue

	// Loop-owned state.
	machine     *Machine
	settings    bridge.Settings
	translation bool
	currentHref string
	toc         json.RawMessage
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithPipeline enables translation with p.
func WithPipeline(p *translate.Pipeline) Option {
	return func(s *Session) {
		s.pipeline = p
		s.translation = p != nil
	}
}

// WithSettings sets the initial reading settings.
func WithSettings(settings bridge.Settings) Option {
	return func(s *Session) { s.settings = settings }
}

// WithNotifier sets where load failures are reported. Default: the logger.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// New creates a session for bookID in the Paginating phase.
func New(bookID string, repo entity.Repository, renderer bridge.Renderer, opts ...Option) *Session {
	s := &Session{
		bookID:   bookID,
		repo:     repo,
		renderer: renderer,
		logger:   slog.Default(),
		queue:    newEventQueue(),
		machine:  NewMachine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("book", bookID)
	if s.notifier == nil {
		logger := s.logger
		s.notifier = NotifierFunc(func(_ context.Context, title, message string) {
			logger.Error(message, "title", title)
		})
	}
	return s
}

// Phase returns the reconciler phase. Call from the loop goroutine or after
// Run has returned.
func (s *Session) Phase() Phase {
	return s.machine.Phase()
}

// Open resolves the Book's URI through loader and tells the renderer to
// load the result. A load failure is reported through the Notifier and
// returned.
func (s *Session) Open(ctx context.Context, loader Loader) error {
	book, err := s.repo.Book(ctx, s.bookID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	src, err := loader.Load(ctx, book.URI)
	if err != nil {
		s.notifier.Notify(ctx, "Error", "There is some error occurred. Couldn't load the book. Please try again later.")
		return fmt.Errorf("load %s: %w", book.URI, err)
	}
	return s.renderer.Send(ctx, bridge.Load{Src: src})
}

// Deliver queues a renderer message. Its signature fits bridge.Conn.Receive.
func (s *Session) Deliver(msg bridge.Message) {
	if !s.queue.Enqueue(Event{Type: EventTypeMessage, Message: msg}) {
		s.logger.Debug("message after stop", "type", msg.MessageType())
	}
}

// ChangeSettings queues a reading settings change.
func (s *Session) ChangeSettings(settings bridge.Settings) error {
	return s.enqueue(Event{Type: EventTypeSettings, Settings: settings})
}

// TurnPage queues a one-page move.
func (s *Session) TurnPage(dir Direction) error {
	return s.enqueue(Event{Type: EventTypePageTurn, Direction: dir})
}

// Seek queues a jump to page.
func (s *Session) Seek(page int) error {
	return s.enqueue(Event{Type: EventTypeSeek, Page: page})
}

// SetTranslation queues switching translation on or off. Switching it off
// cancels the active run.
func (s *Session) SetTranslation(enabled bool) error {
	return s.enqueue(Event{Type: EventTypeTranslation, Enabled: enabled})
}

// Sync blocks until every event queued before it has been handled by Run.
func (s *Session) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !s.queue.Enqueue(Event{processed: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) enqueue(e Event) error {
	if !s.queue.Enqueue(e) {
		return ErrClosed
	}
	return nil
}

// Run handles events until ctx is cancelled or Stop is called. Any active
// translation run is cancelled on the way out.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session starting", "phase", s.machine.Phase().String())
	defer func() {
		if s.pipeline != nil {
			s.pipeline.Cancel()
		}
	}()

	for {
		event, ok := s.queue.TryDequeue()
		if ok {
			if err := s.Handle(ctx, event); err != nil {
				s.logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("session stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// A wakeup can be stale; only a closed, drained queue ends the loop.
			if s.queue.Len() == 0 && s.queue.Closed() {
				s.logger.Info("session stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it has drained.
func (s *Session) Stop() {
	s.queue.Close()
}

// Handle processes one event synchronously. It is what Run calls for every
// dequeued event; tests and the scenario harness call it directly.
func (s *Session) Handle(ctx context.Context, event Event) error {
	if event.processed != nil {
		defer close(event.processed)
	}

	switch event.Type {
	case EventTypeMessage:
		if event.Message == nil {
			return fmt.Errorf("message event missing message")
		}
		return s.handleMessage(ctx, event.Message)
	case EventTypeSettings:
		return s.onSettings(ctx, event.Settings)
	case EventTypePageTurn:
		return s.onPageTurn(ctx, event.Direction)
	case EventTypeSeek:
		return s.onSeek(ctx, event.Page)
	case EventTypeTranslation:
		s.onTranslation(event.Enabled)
		return nil
	case 0:
		// Sync barrier.
		return nil
	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func (s *Session) handleMessage(ctx context.Context, msg bridge.Message) error {
	switch m := msg.(type) {
	case bridge.Ready:
		return s.onReady(ctx)
	case bridge.LocationsReady:
		return s.onLocationsReady(ctx, m)
	case bridge.LocationChange:
		return s.onLocationChange(ctx, m)
	case bridge.UpdateSections:
		return s.onUpdateSections(ctx, m)
	case bridge.ChangeLocationCfi:
		return s.onChangeLocationCfi(ctx, m)
	case bridge.ElementsInSection:
		return s.onElementsInSection(ctx, m)
	case bridge.CurrentElementIndex:
		return s.onCurrentElementIndex(ctx, m)
	case bridge.Log:
		s.logger.Info("renderer log", "text", m.Text)
	case bridge.Error:
		s.logger.Error("renderer error", "text", m.Text)
	default:
		s.logger.Debug("ignoring renderer message", "type", msg.MessageType())
	}
	return nil
}

func (s *Session) logEventError(event Event, err error) {
	attrs := []any{"event", event.Type.String(), "phase", s.machine.Phase().String(), "err", err}
	if event.Message != nil {
		attrs = append(attrs, "type", event.Message.MessageType())
	}
	s.logger.Error("session event failed", attrs...)
}

func (s *Session) send(ctx context.Context, cmd bridge.Command) {
	if err := s.renderer.Send(ctx, cmd); err != nil {
		s.logger.Warn("renderer command failed", "command", cmd.CommandName(), "err", err)
	}
}

func (s *Session) inject(ctx context.Context, script string) {
	s.send(ctx, bridge.InjectScript{Script: script})
}
