package session

import (
	"sync"

	"github.com/roach88/lectern/internal/bridge"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeMessage carries a renderer message.
	EventTypeMessage EventType = iota + 1
	// EventTypeSettings carries new reading settings.
	EventTypeSettings
	// EventTypePageTurn moves one page forward or back.
	EventTypePageTurn
	// EventTypeSeek jumps to a page, as a progress bar does.
	EventTypeSeek
	// EventTypeTranslation switches translation on or off.
	EventTypeTranslation
)

func (t EventType) String() string {
	switch t {
	case EventTypeMessage:
		return "message"
	case EventTypeSettings:
		return "settings"
	case EventTypePageTurn:
		return "page_turn"
	case EventTypeSeek:
		return "seek"
	case EventTypeTranslation:
		return "translation"
	default:
		return "unknown"
	}
}

// Direction is a page-turn direction.
type Direction int

const (
	Next Direction = iota + 1
	Prev
)

func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

// Event is one unit of work for the session loop.
type Event struct {
	Type      EventType
	Message   bridge.Message
	Settings  bridge.Settings
	Direction Direction
	Page      int
	Enabled   bool

	// processed, when set, is closed after the event is handled.
	processed chan struct{}
}

// eventQueue is an unbounded, thread-safe FIFO of events.
//
// Producers are the renderer transport and host callers; the single
// consumer is Session.Run. The signal channel (buffer 1) coalesces wakeups
// so the consumer can wait on it next to ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Clear the slot so the backing array does not pin the message.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that receives when events may be available. It is
// closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting events and wakes the consumer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
