package translate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
)

// DefaultStagger is the delay added per chunk index before its request.
const DefaultStagger = 300 * time.Millisecond

// ContentStore is the persistence a run writes translations to.
type ContentStore interface {
	ChangeContent(ctx context.Context, sectionID string, index int, content string) error
}

// Pipeline starts translation runs. It is safe for concurrent use.
type Pipeline struct {
	translator Translator
	store      ContentStore
	renderer   bridge.Renderer
	clock      Clock
	logger     *slog.Logger

	limit      int
	stagger    time.Duration
	maxStagger time.Duration

	mu     sync.Mutex
	active *Run
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for staggering. Default SystemClock.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithChunkLimit sets the per-request character budget.
func WithChunkLimit(n int) Option {
	return func(p *Pipeline) { p.limit = n }
}

// WithStagger sets the per-index start delay and its cap. A zero max leaves
// the delay unbounded.
func WithStagger(step, max time.Duration) Option {
	return func(p *Pipeline) {
		p.stagger = step
		p.maxStagger = max
	}
}

// NewPipeline creates a pipeline.
func NewPipeline(t Translator, store ContentStore, r bridge.Renderer, opts ...Option) *Pipeline {
	p := &Pipeline{
		translator: t,
		store:      store,
		renderer:   r,
		clock:      SystemClock,
		logger:     slog.Default(),
		limit:      DefaultChunkLimit,
		stagger:    DefaultStagger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start cancels the active run, if any, and starts a new one over elements.
// All chunk timers are armed before Start returns.
func (p *Pipeline) Start(ctx context.Context, elements []entity.TextElement) *Run {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		p.active.Cancel()
	}

	chunks := Chunk(elements, p.limit)
	run := newRun(ctx, p, chunks)
	p.active = run

	p.logger.Info("translation started", "chunks", len(chunks), "elements", len(elements))
	run.schedule()
	return run
}

// Cancel cancels the active run and waits until it can apply nothing more.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		p.active.Cancel()
		p.active = nil
	}
}

// Active returns the most recently started run that is still unresolved,
// or nil.
func (p *Pipeline) Active() *Run {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return nil
	}
	select {
	case <-p.active.Done():
		return nil
	default:
		return p.active
	}
}

// delay returns the start delay for chunk i.
func (p *Pipeline) delay(i int) time.Duration {
	d := p.stagger * time.Duration(i)
	if p.maxStagger > 0 && d > p.maxStagger {
		return p.maxStagger
	}
	return d
}
