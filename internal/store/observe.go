package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/lectern/internal/entity"
)

// Observe streams the book's committed state: the current value first, then
// one snapshot per committed update, until cancel is called or ctx ends.
//
// Delivery never blocks writers: each subscriber owns an unbounded queue
// drained by its own goroutine, so a slow reader sees every update late
// rather than stalling the session loop.
func (s *Store) Observe(ctx context.Context, id string) (<-chan entity.Book, func(), error) {
	var sub *subscriber
	var readErr error

	// Reading under the broker lock orders the initial snapshot before any
	// update published after it.
	s.broker.withLock(func() {
		current, err := s.Book(ctx, id)
		if err != nil {
			readErr = err
			return
		}
		sub = s.broker.subscribeLocked(id)
		sub.push(current)
	})
	if readErr != nil {
		return nil, nil, fmt.Errorf("observe book: %w", readErr)
	}

	out := make(chan entity.Book)
	go func() {
		sub.pump(ctx, out)
		s.broker.unsubscribe(id, sub)
	}()

	cancel := func() { s.broker.unsubscribe(id, sub) }
	return out, cancel, nil
}

// publish re-reads the committed book and fans it out to subscribers.
func (s *Store) publish(ctx context.Context, id string) {
	if !s.broker.has(id) {
		return
	}
	book, err := s.Book(ctx, id)
	if err != nil {
		s.logger.Warn("observe: re-read after commit failed", "book", id, "err", err)
		return
	}
	s.broker.publish(book)
}

type broker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[*subscriber]struct{})}
}

func (b *broker) withLock(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

func (b *broker) subscribeLocked(id string) *subscriber {
	sub := newSubscriber()
	if b.closed {
		sub.close()
		return sub
	}
	if b.subs[id] == nil {
		b.subs[id] = make(map[*subscriber]struct{})
	}
	b.subs[id][sub] = struct{}{}
	return sub
}

func (b *broker) has(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[id]) > 0
}

func (b *broker) publish(book entity.Book) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[book.ID] {
		sub.push(book)
	}
}

func (b *broker) unsubscribe(id string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[id]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, id)
		}
	}
	sub.close()
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			sub.close()
		}
		delete(b.subs, id)
	}
}

// subscriber is an unbounded FIFO of snapshots with a coalescing signal,
// the same shape as a single-consumer event queue.
type subscriber struct {
	mu      sync.Mutex
	pending []entity.Book
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(book entity.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, book)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (entity.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return entity.Book{}, false
	}
	book := s.pending[0]
	s.pending[0] = entity.Book{}
	s.pending = s.pending[1:]
	return book, true
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
}

// pump delivers snapshots in order and closes out when the subscription ends.
func (s *subscriber) pump(ctx context.Context, out chan<- entity.Book) {
	defer close(out)
	for {
		if book, ok := s.pop(); ok {
			select {
			case out <- book:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-s.signal:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
