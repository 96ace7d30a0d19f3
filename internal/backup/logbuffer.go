package backup

import (
	"sync"
	"time"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// LogBuffer keeps the most recent user-facing backup log entries.
type LogBuffer struct {
	mu   sync.Mutex
	ring *shared.Ring[models.LogEntry]
}

// NewLogBuffer creates a buffer holding size entries, 1000 when size is not positive.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1000
	}
	return &LogBuffer{ring: shared.NewRing[models.LogEntry](size)}
}

// Add stores e, stamping it with the current time when At is unset, and returns the stored entry.
func (b *LogBuffer) Add(e models.LogEntry) models.LogEntry {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.Push(e)
	return e
}

// Last returns up to n of the newest entries, oldest first. n <= 0 returns everything.
func (b *LogBuffer) Last(n int) []models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return b.ring.Items()
	}
	return b.ring.Last(n)
}

func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}
