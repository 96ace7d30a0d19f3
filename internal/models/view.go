package models

import "time"

// Readiness is the answer of a destination readiness check.
type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// ResourceSnapshot is one host resource sample used for worker sizing.
type ResourceSnapshot struct {
	CPUPercent           float64   `json:"cpu_percent"`
	AvailableMemoryBytes uint64    `json:"available_memory_bytes"`
	LoadAverage          float64   `json:"load_average"`
	Timestamp            time.Time `json:"timestamp"`
}

// ProgressSample is an instantaneous transfer rate reading.
type ProgressSample struct {
	At   time.Time
	Rate float64
}

// SlotView describes one worker slot for status output.
type SlotView struct {
	ID        int       `json:"id"`
	State     SlotState `json:"state"`
	Directory string    `json:"directory,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
}

// SessionView is the immutable status snapshot served to pollers and pushed to subscribers.
//
// Views are never mutated after publication.
type SessionView struct {
	Seq            uint64            `json:"seq"`
	State          SessionState      `json:"state"`
	Session        *Session          `json:"session"`
	Workers        []SlotView        `json:"workers"`
	DesiredWorkers int               `json:"desired_workers"`
	QueueLength    int               `json:"queue_length"`
	Resources      *ResourceSnapshot `json:"resources,omitempty"`
	Scanning       bool              `json:"scanning"`
	ForcedPause    bool              `json:"forced_pause"`
	ScanWarnings   []string          `json:"scan_warnings,omitempty"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// Directory returns the named directory record from the view.
func (v SessionView) Directory(name string) (DirectoryRecord, bool) {
	if v.Session == nil {
		return DirectoryRecord{}, false
	}
	if i, ok := v.Session.Find(name); ok {
		return v.Session.Directories[i], true
	}
	return DirectoryRecord{}, false
}

// BusyWorkers counts slots currently bound to a task.
func (v SessionView) BusyWorkers() int {
	n := 0
	for _, w := range v.Workers {
		if w.State == SlotBusy || w.State == SlotDraining {
			n++
		}
	}
	return n
}

// LogEntry is a user-facing backup log line.
type LogEntry struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Directory string    `json:"directory,omitempty"`
	At        time.Time `json:"at"`
}
