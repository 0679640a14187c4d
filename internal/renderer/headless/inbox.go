package headless

import (
	"sync"

	"github.com/roach88/lectern/internal/bridge"
)

// Inbox queues renderer messages for a host that handles them on its own
// goroutine. Push fits New's sink; translation timers may push from other
// goroutines.
type Inbox struct {
	mu   sync.Mutex
	msgs []bridge.Message
}

// Push appends m.
func (b *Inbox) Push(m bridge.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

// Pop removes and returns the oldest message.
func (b *Inbox) Pop() (bridge.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) == 0 {
		return nil, false
	}
	m := b.msgs[0]
	b.msgs = b.msgs[1:]
	return m, true
}

// Len returns the number of queued messages.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}
