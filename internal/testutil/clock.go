package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/lectern/internal/translate"
)

// ManualClock is a translate.Clock whose time only moves on Advance.
//
// Timers fire in deadline order, ties in registration order. On Advance
// each due callback runs on its own goroutine, as with time.AfterFunc; use
// Run.ChunkDone to wait on the work it starts. AdvanceAndWait runs them
// inline instead. A timer armed with d <= 0
// still waits for the next Advance, even Advance(0).
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Duration
	seq      int
	fn       func()
	done     bool
}

// NewManualClock creates a clock at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc implements translate.Clock.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) translate.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	t := &manualTimer{clock: c, deadline: c.now + d, seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d and fires every timer now due.
func (c *ManualClock) Advance(d time.Duration) {
	for _, fn := range c.advance(d) {
		go fn()
	}
}

// AdvanceAndWait moves time forward by d and runs every due callback on
// the calling goroutine, one after another in firing order.
func (c *ManualClock) AdvanceAndWait(d time.Duration) {
	for _, fn := range c.advance(d) {
		fn()
	}
}

// advance moves time and returns the due callbacks in firing order.
func (c *ManualClock) advance(d time.Duration) []func() {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.deadline <= c.now {
			t.done = true
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	c.timers = kept
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	fns := make([]func(), len(due))
	for i, t := range due {
		fns[i] = t.fn
	}
	return fns
}

// Now returns the elapsed manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns how many timers are armed and not yet fired or stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop implements translate.Timer.
func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}
