package translate

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
)

// Result summarizes a run.
type Result struct {
	Chunks   int          `json:"chunks"`
	Applied  int          `json:"applied"` // elements overwritten
	Skipped  int          `json:"skipped"` // chunks not applied because of cancellation
	Failures []ChunkError `json:"failures,omitempty"`
}

// ChunkError records why a chunk was left untranslated.
type ChunkError struct {
	Chunk int   `json:"chunk"`
	Err   error `json:"-"`
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Chunk, e.Err)
}

// Run is one translation pass over a list of elements.
type Run struct {
	p      *Pipeline
	ctx    context.Context
	cancel context.CancelFunc
	chunks [][]entity.TextElement
	timers []Timer

	// applyMu is held while a chunk checks the token and applies one
	// element. Cancel takes it after cancelling, so nothing applies once
	// Cancel has returned.
	applyMu sync.Mutex

	mu        sync.Mutex
	result    Result
	chunkDone []chan struct{}
	finished  []bool
	pending   int
	done      chan struct{}
}

func newRun(parent context.Context, p *Pipeline, chunks [][]entity.TextElement) *Run {
	ctx, cancel := context.WithCancel(parent)
	r := &Run{
		p:         p,
		ctx:       ctx,
		cancel:    cancel,
		chunks:    chunks,
		timers:    make([]Timer, len(chunks)),
		chunkDone: make([]chan struct{}, len(chunks)),
		finished:  make([]bool, len(chunks)),
		pending:   len(chunks),
		done:      make(chan struct{}),
		result:    Result{Chunks: len(chunks)},
	}
	for i := range r.chunkDone {
		r.chunkDone[i] = make(chan struct{})
	}
	if len(chunks) == 0 {
		close(r.done)
		cancel()
	}
	return r
}

func (r *Run) schedule() {
	for i := range r.chunks {
		r.timers[i] = r.p.clock.AfterFunc(r.p.delay(i), func() { r.runChunk(i) })
	}
}

// Chunks returns the chunk partition of this run.
func (r *Run) Chunks() [][]entity.TextElement {
	return r.chunks
}

// Cancel stops pending chunks and waits until no chunk is applying. After
// Cancel returns the run writes nothing. Safe to call more than once.
func (r *Run) Cancel() {
	r.cancel()
	for i, t := range r.timers {
		if t != nil && t.Stop() {
			r.finish(i, true)
		}
	}
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
}

// ChunkDone returns a channel closed once chunk i has resolved.
func (r *Run) ChunkDone(i int) <-chan struct{} {
	if i < 0 || i >= len(r.chunkDone) {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.chunkDone[i]
}

// Done returns a channel closed once every chunk has resolved.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run resolves or ctx is done. Chunk failures are not
// returned; see Result.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns a snapshot of the run's outcome so far.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.result
	res.Failures = append([]ChunkError(nil), r.result.Failures...)
	return res
}

func (r *Run) runChunk(i int) {
	if r.ctx.Err() != nil {
		r.finish(i, true)
		return
	}

	chunk := r.chunks[i]
	texts := make([]string, len(chunk))
	for j, el := range chunk {
		texts[j] = el.Plain()
	}

	out, err := r.p.translator.Translate(r.ctx, texts)
	if err == nil {
		err = checkLength(len(texts), len(out))
	}
	if err != nil {
		if r.ctx.Err() != nil {
			r.finish(i, true)
			return
		}
		r.fail(i, err)
		return
	}

	for j, el := range chunk {
		applied, err := r.apply(el, out[j])
		if err != nil {
			r.fail(i, err)
			return
		}
		if !applied {
			r.finish(i, true)
			return
		}
	}
	r.finish(i, false)
}

// apply writes one translation and pushes it to the renderer. It reports
// false if the run was cancelled first.
func (r *Run) apply(el entity.TextElement, text string) (bool, error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if r.ctx.Err() != nil {
		return false, nil
	}

	// Once started, an element's write and its replace command both go out.
	ctx := context.WithoutCancel(r.ctx)
	if err := r.p.store.ChangeContent(ctx, el.SectionID, el.Index, text); err != nil {
		return false, fmt.Errorf("store element %d: %w", el.Index, err)
	}
	if err := r.p.renderer.Send(ctx, bridge.InjectScript{Script: bridge.ReplaceTextElementScript(text, el.Index)}); err != nil {
		r.p.logger.Warn("replace command not delivered", "index", el.Index, "err", err)
	}

	r.mu.Lock()
	r.result.Applied++
	r.mu.Unlock()
	return true, nil
}

func (r *Run) fail(i int, err error) {
	r.p.logger.Warn("translation chunk failed", "chunk", i, "elements", len(r.chunks[i]), "err", err)
	r.mu.Lock()
	r.result.Failures = append(r.result.Failures, ChunkError{Chunk: i, Err: err})
	r.mu.Unlock()
	r.finish(i, false)
}

// finish resolves chunk i exactly once.
func (r *Run) finish(i int, skipped bool) {
	r.mu.Lock()
	if r.finished[i] {
		r.mu.Unlock()
		return
	}
	r.finished[i] = true
	if skipped {
		r.result.Skipped++
	}
	r.pending--
	last := r.pending == 0
	r.mu.Unlock()

	close(r.chunkDone[i])
	if last {
		r.cancel()
		close(r.done)
	}
}
