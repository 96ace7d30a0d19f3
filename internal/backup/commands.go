package backup

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/scanner"
	"github.com/desertthunder/bulkup/internal/shared"
	"github.com/desertthunder/bulkup/internal/tasks"
)

func (m *Manager) state() models.SessionState {
	if m.session == nil {
		return models.Stopped
	}
	return m.session.State
}

// busy rejects control commands while a scan or a stop is in flight.
func (m *Manager) busy() error {
	switch {
	case m.scanning:
		return shared.ErrScanInProgress
	case m.stopping:
		return fmt.Errorf("%w: stop in progress", shared.ErrInvalidTransition)
	}
	return nil
}

func (m *Manager) start(reply chan<- error) {
	if err := m.busy(); err != nil {
		reply <- err
		return
	}

	switch m.state() {
	case models.Running:
		reply <- fmt.Errorf("%w: already running", shared.ErrInvalidTransition)
	case models.Paused:
		m.forcedPause = false
		m.enqueueEligible()
		m.session.State = models.Running
		m.pool.Resume()
		m.note(log.InfoLevel, "", "backup resumed")
		m.transitioned()
		m.maybeComplete()
		reply <- nil
	default:
		if m.session == nil || (!m.hasWork() && m.session.HasProgress()) {
			m.beginScan(func(res *scanner.Result, err error) {
				if err != nil {
					reply <- err
					return
				}
				reply <- m.begin()
			})
			return
		}
		reply <- m.begin()
	}
}

// begin moves a stopped session to running.
func (m *Manager) begin() error {
	if !slices.ContainsFunc(m.session.Directories, func(d models.DirectoryRecord) bool { return d.Selected }) {
		return shared.ErrNothingSelected
	}
	if !m.hasWork() {
		return fmt.Errorf("%w: every selected directory is finished, rescan to start over", shared.ErrNothingSelected)
	}

	now := time.Now()
	m.forcedPause = false
	m.session.StartedAt = &now
	m.session.State = models.Running
	n := m.enqueueEligible()
	m.pool.Resume()

	m.note(log.InfoLevel, "", "backup started: %d directories, %s", n, shared.FormatBytes(m.session.TotalSizeBytes))
	m.transitioned()
	m.maybeComplete()
	return nil
}

// hasWork reports whether a start would queue anything.
func (m *Manager) hasWork() bool {
	for _, d := range m.session.Directories {
		if !d.Selected {
			continue
		}
		switch d.Status {
		case models.Pending, models.Queued:
			return true
		case models.Error:
			if m.canRetry(d) {
				return true
			}
		}
	}
	return false
}

func (m *Manager) canRetry(d models.DirectoryRecord) bool {
	return m.maxAttempts == 0 || d.Attempts < m.maxAttempts
}

// enqueueEligible queues every selected directory that is pending, left queued by a stop,
// or failed with attempts to spare. Starting is the explicit request that retries failures.
func (m *Manager) enqueueEligible() int {
	var batch []tasks.Task
	for i := range m.session.Directories {
		d := &m.session.Directories[i]
		if !d.Selected || m.pool.Tracked(d.Name) {
			continue
		}
		switch d.Status {
		case models.Pending:
		case models.Queued:
		case models.Error:
			if !m.canRetry(*d) {
				continue
			}
		default:
			continue
		}
		if d.Status != models.Queued {
			if err := d.Transition(models.Queued); err != nil {
				m.logger.Warn("cannot queue directory", "err", err)
				continue
			}
		}
		batch = append(batch, m.task(i))
	}
	m.pool.Enqueue(batch...)
	return len(batch)
}

func (m *Manager) task(i int) tasks.Task {
	d := m.session.Directories[i]
	return tasks.Task{
		Name:        d.Name,
		Source:      d.SourcePath,
		Destination: d.DestinationPath,
		Size:        d.SizeBytes,
		Index:       i,
		Attempt:     d.Attempts + 1,
	}
}

func (m *Manager) pause(reply chan<- error) {
	if m.stopping {
		reply <- fmt.Errorf("%w: stop in progress", shared.ErrInvalidTransition)
		return
	}
	switch m.state() {
	case models.Paused:
		reply <- nil
	case models.Running:
		m.pool.Pause()
		m.session.State = models.Paused
		m.note(log.InfoLevel, "", "backup paused")
		m.transitioned()
		reply <- nil
	default:
		reply <- fmt.Errorf("%w: cannot pause a stopped backup", shared.ErrInvalidTransition)
	}
}

// stop hands StopAll to a helper goroutine; the reply is sent once the stopped session is saved.
func (m *Manager) stop(reply chan<- error) {
	if m.stopping {
		m.stopWaiters = append(m.stopWaiters, reply)
		return
	}
	if m.state() == models.Stopped {
		reply <- fmt.Errorf("%w: backup is not running", shared.ErrInvalidTransition)
		return
	}

	m.stopping = true
	m.stopWaiters = append(m.stopWaiters, reply)
	m.pool.Pause()
	m.note(log.InfoLevel, "", "stopping backup")
	m.publishSnapshot()

	grace := m.stopGrace
	go func() {
		m.stopDone <- m.pool.StopAll(m.runCtx, grace)
	}()
}

func (m *Manager) finishStop(dropped []string) {
	// Every terminal event was posted before StopAll returned.
	m.applyEvents(m.inbox.Drain())

	if len(dropped) > 0 {
		m.note(log.InfoLevel, "", "%d queued directories left for the next start", len(dropped))
	}
	m.stopping = false
	m.forcedPause = false
	version := m.finish(true)

	waiters := m.stopWaiters
	m.stopWaiters = nil
	wait := m.ckpt.Wait(version)
	go func() {
		err := <-wait
		for _, w := range waiters {
			w <- err
		}
	}()
}

// finish settles the session as stopped, archiving a summary when anything was done.
func (m *Manager) finish(stopped bool) uint64 {
	now := time.Now()
	m.pool.Pause()
	m.session.State = models.Stopped
	m.session.Recompute()
	m.session.UpdatedAt = now

	var sum *models.SessionSummary
	if m.session.HasProgress() {
		s := m.session.Summary(stopped, now)
		sum = &s
		m.note(log.InfoLevel, "", "backup %s: %d completed, %d errors, %d skipped",
			s.Status, s.Completed, s.Errors, s.Skipped)
	}
	v := m.checkpoint(sum)
	m.publishSnapshot()
	return v
}

// maybeComplete stops a running session once no selected directory is queued or transferring.
func (m *Manager) maybeComplete() {
	if m.session == nil || m.session.State != models.Running || m.stopping {
		return
	}
	for _, d := range m.session.Directories {
		if d.Selected && (d.Status == models.Queued || d.Status == models.InProgress) {
			return
		}
	}
	m.finish(false)
}

func (m *Manager) selectDirs(names []string) error {
	if err := m.busy(); err != nil {
		return err
	}
	if m.state() != models.Stopped {
		return shared.ErrSelectWhileRunning
	}
	if m.session == nil {
		return fmt.Errorf("%w: no directories scanned yet", shared.ErrUnknownDirectory)
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := m.session.Find(n); !ok {
			return fmt.Errorf("%w: %s", shared.ErrUnknownDirectory, n)
		}
		want[n] = true
	}

	for i := range m.session.Directories {
		m.session.Directories[i].Selected = want[m.session.Directories[i].Name]
	}
	m.note(log.InfoLevel, "", "%d directories selected", len(want))
	m.transitioned()
	return nil
}

func (m *Manager) retry(names []string) error {
	if err := m.busy(); err != nil {
		return err
	}
	if m.session == nil {
		return fmt.Errorf("%w: no session", shared.ErrUnknownDirectory)
	}

	idx := make([]int, 0, len(names))
	for _, n := range names {
		i, ok := m.session.Find(n)
		if !ok {
			return fmt.Errorf("%w: %s", shared.ErrUnknownDirectory, n)
		}
		d := m.session.Directories[i]
		switch {
		case d.Status != models.Error:
			return fmt.Errorf("%w: %s is %s", shared.ErrNotRetryable, n, d.Status)
		case !m.canRetry(d):
			return fmt.Errorf("%w: %s after %d attempts", shared.ErrRetryLimit, n, d.Attempts)
		case !d.Selected && m.state() != models.Stopped:
			return fmt.Errorf("%w: %s is not selected", shared.ErrSelectWhileRunning, n)
		}
		idx = append(idx, i)
	}

	var batch []tasks.Task
	for _, i := range idx {
		d := &m.session.Directories[i]
		d.Selected = true
		if err := d.Transition(models.Queued); err != nil {
			return err
		}
		m.note(log.InfoLevel, d.Name, "retry requested")
		batch = append(batch, m.task(i))
	}
	if m.state() != models.Stopped {
		m.pool.Enqueue(batch...)
	}
	m.transitioned()
	return nil
}

func (m *Manager) setOrder(order models.Order) error {
	m.order = order
	if m.session == nil {
		m.publishSnapshot()
		return nil
	}
	m.session.Order = order
	scanner.Sort(m.session.Directories, order)
	m.pool.Reorder(displayIndex(m.session))
	m.note(log.InfoLevel, "", "order set to %s", order)
	m.transitioned()
	return nil
}

func (m *Manager) rescan(reply chan<- error) {
	if err := m.busy(); err != nil {
		reply <- err
		return
	}
	if m.state() != models.Stopped {
		reply <- fmt.Errorf("%w: rescan requires a stopped backup", shared.ErrInvalidTransition)
		return
	}
	m.beginScan(func(_ *scanner.Result, err error) { reply <- err })
}

// beginScan runs the scanner off the owner goroutine; then runs on the owner with the result.
func (m *Manager) beginScan(then func(*scanner.Result, error)) {
	m.scanning = true
	m.note(log.InfoLevel, "", "scanning %s", m.sourceRoot)
	m.publishSnapshot()

	ctx := m.runCtx
	go func() {
		res, err := m.scanner.Scan(ctx)
		m.scanDone <- scanResult{res: res, err: err, then: then}
	}()
}

func (m *Manager) finishScan(r scanResult) {
	m.scanning = false
	if r.err != nil {
		m.note(log.ErrorLevel, "", "scan failed: %v", r.err)
		m.publishSnapshot()
		r.then(nil, r.err)
		return
	}

	m.adopt(r.res)
	r.then(r.res, nil)
}

// adopt replaces the session with freshly scanned records, carrying selections over by name.
func (m *Manager) adopt(res *scanner.Result) {
	selected := make(map[string]bool)
	if m.session != nil {
		for _, d := range m.session.Directories {
			selected[d.Name] = d.Selected
		}
	}

	records := slices.Clone(res.Records)
	for i := range records {
		if sel, ok := selected[records[i].Name]; ok {
			records[i].Selected = sel
		}
		if records[i].DestinationPath == "" {
			records[i].DestinationPath = m.destinationFor(records[i].Name)
		}
	}
	scanner.Sort(records, m.order)

	m.session = models.NewSession(shared.GenerateID(), m.sourceRoot, m.destination, records, m.order, time.Now())
	m.scanWarnings = res.WarningStrings()
	m.pool.Reorder(displayIndex(m.session))

	for _, w := range res.Warnings {
		m.note(log.WarnLevel, "", "scan warning: %s", w.Error())
	}
	m.note(log.InfoLevel, "", "scanned %d directories, %s", len(records), shared.FormatBytes(m.session.TotalSizeBytes))
	m.transitioned()
}
