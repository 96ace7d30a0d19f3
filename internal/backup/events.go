package backup

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/bulkup/internal/broadcast"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/tasks"
)

// applyEvents folds a batch of worker events into the session.
//
// A batch containing any status change is checkpointed and published as a snapshot.
// Progress-only batches mark the session dirty and publish per-directory deltas.
func (m *Manager) applyEvents(events []tasks.Event) {
	if len(events) == 0 || m.session == nil {
		return
	}

	transition := false
	for _, ev := range events {
		if m.applyEvent(ev) {
			transition = true
		}
	}
	m.session.Recompute()
	m.session.UpdatedAt = time.Now()

	if transition {
		m.transitioned()
		m.maybeComplete()
		return
	}
	m.publishDeltas()
}

// applyEvent reports whether ev changed a directory status.
func (m *Manager) applyEvent(ev tasks.Event) bool {
	i, ok := m.session.Find(ev.Directory)
	if !ok {
		m.logger.Warn("event for unknown directory", "directory", ev.Directory, "kind", ev.Kind)
		return false
	}
	d := &m.session.Directories[i]

	switch ev.Kind {
	case tasks.EventDispatched:
		if err := d.Transition(models.InProgress); err != nil {
			m.logger.Warn("ignoring dispatch", "err", err)
			return false
		}
		at := ev.At
		d.Attempts = max(d.Attempts+1, ev.Attempt)
		d.StartedAt = &at
		d.FinishedAt = nil
		d.LastErrorSummary = ""
		d.Diagnostics = nil
		d.Cancelled = false
		d.CurrentFile = ""
		m.note(log.InfoLevel, d.Name, "transfer started (attempt %d, worker %d)", d.Attempts, ev.Slot)
		return true

	case tasks.EventProgress:
		if d.Status != models.InProgress {
			return false
		}
		applyProgress(d, ev)
		m.dirty = true
		m.changed[d.Name] = true
		return false

	case tasks.EventFinished:
		if d.Status != models.InProgress {
			m.logger.Warn("ignoring finish", "directory", d.Name, "status", d.Status)
			return false
		}
		applyProgress(d, ev)
		if ev.Outcome == tasks.OutcomeCancelled && m.closing {
			// Left in progress so the next Restore marks it interrupted and retryable.
			return false
		}
		at := ev.At
		d.FinishedAt = &at
		d.RatePerSecond = 0

		switch ev.Outcome {
		case tasks.OutcomeCompleted:
			d.Transition(models.Completed)
			d.ProgressPercent = 100
			d.BytesTransferred = max(d.BytesTransferred, d.SizeBytes)
			d.CurrentFile = ""
			m.note(log.InfoLevel, d.Name, "transfer completed: %d files", d.FilesTransferred)
		case tasks.OutcomeCancelled:
			d.Transition(models.Skipped)
			d.Cancelled = true
			d.LastErrorSummary = ""
			m.note(log.InfoLevel, d.Name, "transfer cancelled")
		default:
			d.Transition(models.Error)
			d.LastErrorSummary = ev.Summary
			if d.LastErrorSummary == "" {
				d.LastErrorSummary = "transfer failed"
			}
			d.Diagnostics = ev.Diagnostics
			m.note(log.ErrorLevel, d.Name, "transfer failed: %s", d.LastErrorSummary)
		}
		return true
	}
	return false
}

// applyProgress keeps percent, bytes and file counts monotonic.
func applyProgress(d *models.DirectoryRecord, ev tasks.Event) {
	d.ProgressPercent = max(d.ProgressPercent, float64(ev.Progress.Percent))
	d.BytesTransferred = max(d.BytesTransferred, ev.Progress.Bytes)
	d.FilesTransferred = max(d.FilesTransferred, ev.Files)
	d.RatePerSecond = ev.Progress.Rate
	if ev.CurrentFile != "" {
		d.CurrentFile = ev.CurrentFile
	}
}

// transitioned checkpoints and publishes after a state or status change.
func (m *Manager) transitioned() {
	if m.session != nil {
		m.session.Recompute()
		m.session.UpdatedAt = time.Now()
	}
	m.checkpoint(nil)
	m.publishSnapshot()
}

// checkpoint submits the session with any unsaved log entries and returns the version to wait on.
func (m *Manager) checkpoint(sum *models.SessionSummary) uint64 {
	var s *models.Session
	if m.session != nil {
		s = m.session.Clone()
	}
	logs := m.pendingLogs
	m.pendingLogs = nil
	m.dirty = false
	return m.ckpt.Submit(s, sum, logs)
}

// note records a user-facing log entry and mirrors it to the process log.
func (m *Manager) note(level log.Level, directory, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e := models.LogEntry{Level: level.String(), Message: msg, Directory: directory}
	if m.session != nil {
		e.SessionID = m.session.ID
	}
	e = m.logs.Add(e)
	m.pendingLogs = append(m.pendingLogs, e)

	if directory != "" {
		m.logger.Log(level, msg, "directory", directory)
	} else {
		m.logger.Log(level, msg)
	}
	m.bus.Publish(broadcast.Message{Kind: broadcast.KindLog, Log: &e, At: e.At})
}

func (m *Manager) buildView() *models.SessionView {
	m.seq++
	v := &models.SessionView{
		Seq:            m.seq,
		State:          m.state(),
		Session:        m.session.Clone(),
		Workers:        m.pool.Slots(),
		DesiredWorkers: m.desired,
		QueueLength:    m.pool.QueueLen(),
		Scanning:       m.scanning,
		ForcedPause:    m.forcedPause,
		ScanWarnings:   append([]string(nil), m.scanWarnings...),
		GeneratedAt:    time.Now(),
	}
	if m.monitor != nil {
		v.Resources = m.monitor.Latest()
	}
	return v
}

// publishSnapshot replaces the shared view and pushes it whole.
func (m *Manager) publishSnapshot() {
	v := m.buildView()
	m.view.Store(v)
	clear(m.changed)
	m.bus.Publish(broadcast.Message{Kind: broadcast.KindSnapshot, Seq: v.Seq, View: v, At: v.GeneratedAt})
}

// publishDeltas replaces the shared view and pushes only the directories that moved.
func (m *Manager) publishDeltas() {
	v := m.buildView()
	m.view.Store(v)
	for name := range m.changed {
		if i, ok := v.Session.Find(name); ok {
			m.bus.Publish(broadcast.Message{Kind: broadcast.KindDirectory, Seq: v.Seq, Directory: &v.Session.Directories[i], At: v.GeneratedAt})
		}
	}
	clear(m.changed)
}

func (m *Manager) publishWorkers() {
	v := m.buildView()
	m.view.Store(v)
	m.bus.Publish(broadcast.Message{Kind: broadcast.KindWorkers, Seq: v.Seq, Workers: v.Workers, At: v.GeneratedAt})
}
