package backup

import (
	"sync"

	"github.com/desertthunder/bulkup/internal/tasks"
)

// inbox is an unbounded queue of worker events. Push never blocks.
type inbox struct {
	mu     sync.Mutex
	events []tasks.Event
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) Push(e tasks.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// C signals that events may be waiting.
func (b *inbox) C() <-chan struct{} { return b.notify }

// Drain removes and returns every queued event in arrival order.
func (b *inbox) Drain() []tasks.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}
