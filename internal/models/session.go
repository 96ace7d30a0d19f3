package models

import (
	"fmt"
	"time"
)

// DirectoryRecord is one top-level directory unit within a [Session].
type DirectoryRecord struct {
	Name             string          `json:"name"`
	SourcePath       string          `json:"source_path"`
	DestinationPath  string          `json:"destination_path"`
	SizeBytes        int64           `json:"size_bytes"`
	Selected         bool            `json:"selected"`
	Status           DirectoryStatus `json:"status"`
	ProgressPercent  float64         `json:"progress_percent"`
	BytesTransferred int64           `json:"bytes_transferred"`
	FilesTransferred int             `json:"files_transferred"`
	RatePerSecond    float64         `json:"rate_per_second,omitempty"`
	CurrentFile      string          `json:"current_file,omitempty"`
	LastErrorSummary string          `json:"last_error_summary,omitempty"`
	Diagnostics      []string        `json:"diagnostics,omitempty"`
	Attempts         int             `json:"attempts"`
	Cancelled        bool            `json:"cancelled,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// Transition moves the record to status to, rejecting edges outside the directory lifecycle.
func (d *DirectoryRecord) Transition(to DirectoryStatus) error {
	if !d.Status.CanTransition(to) {
		return fmt.Errorf("directory %s: %s -> %s not allowed", d.Name, d.Status, to)
	}
	d.Status = to
	return nil
}

// CompletedBytes is the share of SizeBytes counted toward session progress.
func (d DirectoryRecord) CompletedBytes() int64 {
	if d.Status == Completed {
		return d.SizeBytes
	}
	if d.BytesTransferred > d.SizeBytes {
		return d.SizeBytes
	}
	return d.BytesTransferred
}

// Session is the full state of one backup run, spanning all directory units.
type Session struct {
	ID                 string            `json:"id"`
	State              SessionState      `json:"state"`
	Order              Order             `json:"order"`
	SourceRoot         string            `json:"source_root"`
	Destination        string            `json:"destination"`
	Directories        []DirectoryRecord `json:"directories"`
	TotalSizeBytes     int64             `json:"total_size_bytes"`
	CompletedSizeBytes int64             `json:"completed_size_bytes"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewSession creates a Stopped session over the scanned directories.
func NewSession(id, sourceRoot, destination string, dirs []DirectoryRecord, order Order, now time.Time) *Session {
	s := &Session{
		ID:          id,
		State:       Stopped,
		Order:       order,
		SourceRoot:  sourceRoot,
		Destination: destination,
		Directories: dirs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Recompute()
	return s
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Directories = make([]DirectoryRecord, len(s.Directories))
	for i, d := range s.Directories {
		if d.Diagnostics != nil {
			d.Diagnostics = append([]string(nil), d.Diagnostics...)
		}
		c.Directories[i] = d
	}
	return &c
}

// Find returns the index of the named directory.
func (s *Session) Find(name string) (int, bool) {
	for i := range s.Directories {
		if s.Directories[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// Recompute refreshes the size totals from the directory records.
//
// Totals only count selected directories.
func (s *Session) Recompute() {
	var total, done int64
	for _, d := range s.Directories {
		if !d.Selected {
			continue
		}
		total += d.SizeBytes
		done += d.CompletedBytes()
	}
	s.TotalSizeBytes = total
	s.CompletedSizeBytes = done
}

// HasProgress reports whether any directory was worked on in this session.
func (s *Session) HasProgress() bool {
	for _, d := range s.Directories {
		if d.Attempts > 0 || d.BytesTransferred > 0 || d.Status.Terminal() {
			return true
		}
	}
	return false
}

// Summary condenses the session into a history entry.
//
// stopped marks an explicit stop rather than a natural finish.
func (s *Session) Summary(stopped bool, now time.Time) SessionSummary {
	sum := SessionSummary{
		SessionID:     s.ID,
		StartedAt:     s.StartedAt,
		CompletedAt:   now,
		TotalSize:     s.TotalSizeBytes,
		CompletedSize: s.CompletedSizeBytes,
	}
	for _, d := range s.Directories {
		if !d.Selected {
			continue
		}
		sum.Directories++
		switch d.Status {
		case Completed:
			sum.Completed++
		case Error:
			sum.Errors++
		case Skipped:
			sum.Skipped++
		}
	}

	switch {
	case stopped:
		sum.Status = SummaryStopped
	case sum.Errors > 0:
		sum.Status = SummaryCompletedWithErrors
	default:
		sum.Status = SummaryCompleted
	}
	return sum
}

// SessionSummary is the archived outcome of a session.
type SessionSummary struct {
	ID            string        `json:"id"`
	Sequence      int           `json:"sequence"`
	SessionID     string        `json:"session_id"`
	Status        SummaryStatus `json:"status"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
	TotalSize     int64         `json:"total_size"`
	CompletedSize int64         `json:"completed_size"`
	Directories   int           `json:"directories"`
	Completed     int           `json:"completed"`
	Errors        int           `json:"errors"`
	Skipped       int           `json:"skipped"`
}

// Duration returns how long the session ran, or zero when it never started.
func (s SessionSummary) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}
