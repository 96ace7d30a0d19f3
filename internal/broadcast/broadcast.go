package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/bulkup/internal/models"
)

// Kind names a message type on the wire.
type Kind string

const (
	KindSnapshot    Kind = "snapshot"
	KindDirectory   Kind = "directory"
	KindForcedPause Kind = "forced_pause"
	KindLog         Kind = "log"
	KindWorkers     Kind = "workers"
)

// Message is one status update.
//
// View is shared with every subscriber and with snapshot readers and must not be mutated.
type Message struct {
	Kind      Kind                    `json:"type"`
	Seq       uint64                  `json:"seq"`
	View      *models.SessionView     `json:"view,omitempty"`
	Directory *models.DirectoryRecord `json:"directory,omitempty"`
	Log       *models.LogEntry        `json:"log,omitempty"`
	Workers   []models.SlotView       `json:"workers,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	At        time.Time               `json:"at"`
}

// Subscription is a receive-only view of one subscriber queue.
type Subscription struct {
	id      uint64
	ch      chan Message
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// C returns the message channel. It is closed on unsubscribe.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped returns how many messages were discarded because the subscriber fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// offer enqueues m, discarding the oldest queued message when full.
func (s *Subscription) offer(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broadcaster delivers every published message to all current subscribers.
type Broadcaster struct {
	size int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// New creates a broadcaster whose subscribers buffer up to size messages (at least 1).
func New(size int) *Broadcaster {
	return &Broadcaster{size: max(size, 1), subs: make(map[uint64]*Subscription)}
}

// Publish hands m to every subscriber. Slow subscribers lose their oldest messages.
func (b *Broadcaster) Publish(m Message) {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.offer(m)
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{id: b.nextID, ch: make(chan Message, b.size)}
	b.subs[s.id] = s
	return s
}

// Unsubscribe removes s and closes its channel. Unsubscribing twice is a no-op.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	s.close()
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
