package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/bulkup/internal/broadcast"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/monitor"
	"github.com/desertthunder/bulkup/internal/scanner"
	"github.com/desertthunder/bulkup/internal/shared"
	"github.com/desertthunder/bulkup/internal/tasks"
)

// ReadinessChecker answers whether the destination can receive a backup.
type ReadinessChecker interface {
	IsDestinationReady(ctx context.Context, path string) models.Readiness
}

// DirectoryScanner produces the directory records of a new session.
type DirectoryScanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
}

// Options wires a [Manager]. Store and Checker are required.
type Options struct {
	Config  *shared.Config
	Store   SessionStore
	Checker ReadinessChecker
	Scanner DirectoryScanner
	Runner  tasks.Runner
	Monitor *monitor.Monitor
	Logger  *log.Logger
}

type request struct {
	fn    func(reply chan<- error)
	reply chan error
}

type scanResult struct {
	res  *scanner.Result
	err  error
	then func(*scanner.Result, error)
}

// Manager owns the backup session.
//
// Every mutation happens on the goroutine running [Manager.Run]. Callers talk to it through
// commands, workers through an event inbox. Readers use [Manager.Snapshot] or a subscription,
// both backed by the same immutable view.
type Manager struct {
	store   SessionStore
	checker ReadinessChecker
	scanner DirectoryScanner
	monitor *monitor.Monitor
	pool    *tasks.Pool
	bus     *broadcast.Broadcaster
	logs    *LogBuffer
	ckpt    *checkpointer
	inbox   *inbox
	logger  *log.Logger

	sourceRoot  string
	destination string
	stopGrace   time.Duration
	tick        time.Duration

	cmds     chan request
	scanDone chan scanResult
	stopDone chan []string
	resource chan monitor.Update
	done     chan struct{}
	running  atomic.Bool
	poolStop context.CancelFunc

	view atomic.Pointer[models.SessionView]

	// Owned by the Run goroutine.
	runCtx       context.Context
	seq          uint64
	session      *models.Session
	order        models.Order
	maxAttempts  int
	desired      int
	scanning     bool
	scanWarnings []string
	stopping     bool
	closing      bool
	stopWaiters  []chan<- error
	forcedPause  bool
	dirty        bool
	changed      map[string]bool
	pendingLogs  []models.LogEntry
}

// New creates a manager with a stopped, empty view. Call [Manager.Restore] and then [Manager.Run].
func New(opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Checker == nil {
		return nil, fmt.Errorf("%w: backup manager needs a store and a readiness checker", shared.ErrInvalidConfig)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = shared.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	order, err := models.ParseOrder(cfg.Backup.Order)
	if err != nil {
		return nil, fmt.Errorf("%w: backup.order: %v", shared.ErrInvalidConfig, err)
	}

	if opts.Scanner == nil {
		sc, err := scanner.New(cfg.Backup, logger)
		if err != nil {
			return nil, err
		}
		opts.Scanner = sc
	}
	if opts.Runner == nil {
		opts.Runner = tasks.NewWorker(tasks.WorkerOpts{
			Tool:             cfg.Backup.SyncTool,
			Excludes:         scanner.NewRules(cfg.Backup.Exclude).Patterns(),
			Delete:           cfg.Backup.Delete,
			ExtraArgs:        cfg.Backup.ExtraArgs,
			ProgressInterval: cfg.Timeouts.ProgressInterval,
			Logger:           logger,
		})
	}

	m := &Manager{
		store:       opts.Store,
		checker:     opts.Checker,
		scanner:     opts.Scanner,
		monitor:     opts.Monitor,
		bus:         broadcast.New(cfg.Broadcast.QueueSize),
		logs:        NewLogBuffer(cfg.Log.BufferSize),
		inbox:       newInbox(),
		logger:      shared.WithLogger(logger, "component", "manager"),
		sourceRoot:  shared.ExpandHome(cfg.Backup.SourceRoot),
		destination: shared.ExpandHome(cfg.Backup.Destination),
		stopGrace:   cfg.Timeouts.StopGrace,
		tick:        cfg.Timeouts.CheckpointInterval,
		cmds:        make(chan request),
		scanDone:    make(chan scanResult, 1),
		stopDone:    make(chan []string, 1),
		resource:    make(chan monitor.Update, 1),
		done:        make(chan struct{}),
		order:       order,
		maxAttempts: cfg.Retry.MaxAttempts,
		changed:     make(map[string]bool),
	}
	if m.stopGrace <= 0 {
		m.stopGrace = 30 * time.Second
	}
	if m.tick <= 0 {
		m.tick = 5 * time.Second
	}
	m.ckpt = newCheckpointer(opts.Store, cfg.Retry.PersistAttempts, cfg.Retry.PersistBackoff, logger)

	initial := cfg.Workers.Max
	if m.monitor != nil {
		initial = cfg.Workers.Min
	}
	poolCtx, cancel := context.WithCancel(context.Background())
	m.poolStop = cancel
	m.pool = tasks.NewPool(poolCtx, opts.Runner, m.inbox.Push, tasks.PoolOpts{
		Min:     cfg.Workers.Min,
		Max:     cfg.Workers.Max,
		Initial: initial,
		Logger:  logger,
	})
	m.desired = m.pool.Live()
	m.view.Store(m.buildView())
	return m, nil
}

// Snapshot returns the current status view. It never waits on the owner goroutine.
func (m *Manager) Snapshot() models.SessionView { return *m.view.Load() }

// Subscribe registers for pushed status messages. Receivers should start from [Manager.Snapshot].
func (m *Manager) Subscribe() *broadcast.Subscription { return m.bus.Subscribe() }

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(sub *broadcast.Subscription) { m.bus.Unsubscribe(sub) }

// Logs returns up to limit of the newest backup log entries.
func (m *Manager) Logs(limit int) []models.LogEntry { return m.logs.Last(limit) }

// Destination is the directory sessions are copied into.
func (m *Manager) Destination() string { return m.destination }

// SourceRoot is the directory whose children are backup units.
func (m *Manager) SourceRoot() string { return m.sourceRoot }

// Start begins or resumes the backup.
//
// The destination readiness check runs on the caller's goroutine; when it fails nothing changes
// and the error wraps [shared.ErrStartPrecondition].
func (m *Manager) Start(ctx context.Context) error {
	if r := m.checker.IsDestinationReady(ctx, m.destination); !r.Ready {
		return fmt.Errorf("%w: %s", shared.ErrStartPrecondition, r.Reason)
	}
	return m.do(ctx, m.start)
}

// Pause stops dispatching new directories; running transfers finish.
func (m *Manager) Pause(ctx context.Context) error { return m.do(ctx, m.pause) }

// Stop terminates every transfer and returns once all of them have exited and the
// stopped session is durable.
func (m *Manager) Stop(ctx context.Context) error { return m.do(ctx, m.stop) }

// Select replaces the set of selected directories. Only allowed while stopped.
func (m *Manager) Select(ctx context.Context, names []string) error {
	return m.do(ctx, func(reply chan<- error) { reply <- m.selectDirs(names) })
}

// Retry re-queues directories in the error state.
func (m *Manager) Retry(ctx context.Context, names []string) error {
	return m.do(ctx, func(reply chan<- error) { reply <- m.retry(names) })
}

// SetOrder changes the display order and queue tie-break without rescanning.
func (m *Manager) SetOrder(ctx context.Context, order models.Order) error {
	return m.do(ctx, func(reply chan<- error) { reply <- m.setOrder(order) })
}

// Rescan replaces the session with a fresh scan of the source root, keeping selections by name.
func (m *Manager) Rescan(ctx context.Context) error { return m.do(ctx, m.rescan) }

// Reconfigure applies the hot-reloadable settings: worker bounds and the retry limit.
func (m *Manager) Reconfigure(ctx context.Context, cfg *shared.Config) error {
	return m.do(ctx, func(reply chan<- error) {
		m.maxAttempts = cfg.Retry.MaxAttempts
		if m.monitor != nil {
			m.monitor.SetLimits(monitor.LimitsFromConfig(cfg.Workers))
		}
		live := m.pool.SetBounds(cfg.Workers.Min, cfg.Workers.Max)
		m.desired = min(max(m.desired, cfg.Workers.Min), cfg.Workers.Max)
		m.note(log.InfoLevel, "", "configuration reloaded: workers %d-%d, max attempts %d",
			cfg.Workers.Min, cfg.Workers.Max, cfg.Retry.MaxAttempts)
		m.publishWorkers()
		m.logger.Info("reconfigured", "live", live)
		reply <- nil
	})
}

// do runs fn on the owner goroutine and waits for its reply.
func (m *Manager) do(ctx context.Context, fn func(reply chan<- error)) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case m.cmds <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return shared.ErrManagerClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return shared.ErrManagerClosed
	}
}

// Restore loads the latest session before [Manager.Run] starts.
//
// A session saved as running is downgraded to paused and a forced_pause message is published.
// Directories that were mid-transfer become errors, since no worker survived the restart.
func (m *Manager) Restore(ctx context.Context) error {
	if m.running.Load() {
		return fmt.Errorf("%w: restore must happen before the manager runs", shared.ErrInvalidTransition)
	}

	s, err := m.store.LoadLatest(ctx)
	if errors.Is(err, shared.ErrSessionNotFound) {
		m.logger.Info("no previous session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	now := time.Now()
	interrupted := 0
	for i := range s.Directories {
		d := &s.Directories[i]
		if d.Status != models.InProgress {
			continue
		}
		if err := d.Transition(models.Error); err != nil {
			return err
		}
		d.LastErrorSummary = "interrupted by restart"
		d.FinishedAt = &now
		d.CurrentFile = ""
		d.RatePerSecond = 0
		interrupted++
	}

	wasRunning := s.State == models.Running
	if wasRunning {
		s.State = models.Paused
		m.forcedPause = true
	}
	s.Recompute()
	s.UpdatedAt = now

	if err := m.store.Save(ctx, s); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	m.session = s
	m.order = s.Order
	m.pool.Reorder(displayIndex(s))

	m.logger.Info("session restored", "id", s.ID, "state", s.State, "interrupted", interrupted)
	if wasRunning {
		reason := "session was running when the process stopped"
		m.note(log.WarnLevel, "", "backup paused after restart: %s", reason)
		m.publishSnapshot()
		m.bus.Publish(broadcast.Message{Kind: broadcast.KindForcedPause, Seq: m.seq, Reason: reason})
		return nil
	}
	m.publishSnapshot()
	return nil
}

// Run owns the session until ctx ends or persistence fails for good.
//
// On cancellation every transfer is stopped and the session is saved as it stands, so the next
// [Manager.Restore] resumes it paused. A persistence failure stops all transfers and returns an
// error wrapping [shared.ErrPersistence].
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: manager already running", shared.ErrInvalidTransition)
	}
	defer close(m.done)
	defer m.poolStop()

	m.runCtx = ctx
	go m.ckpt.Run()
	if m.monitor != nil {
		go m.monitor.Run(ctx, m.offerResources)
	}

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil

		case req := <-m.cmds:
			req.fn(req.reply)

		case <-m.inbox.C():
			m.applyEvents(m.inbox.Drain())

		case r := <-m.scanDone:
			m.finishScan(r)

		case dropped := <-m.stopDone:
			m.finishStop(dropped)

		case u := <-m.resource:
			m.applyResources(u)

		case <-ticker.C:
			if m.dirty || len(m.pendingLogs) > 0 {
				m.checkpoint(nil)
			}

		case err := <-m.ckpt.Fatal():
			m.logger.Error("session can no longer be persisted, stopping all transfers", "err", err)
			m.pool.StopAll(context.Background(), m.stopGrace)
			for _, w := range m.stopWaiters {
				w <- err
			}
			m.stopWaiters = nil
			m.bus.Close()
			return err
		}
	}
}

func (m *Manager) shutdown() {
	m.logger.Info("shutting down, stopping transfers")
	m.pool.StopAll(context.Background(), m.stopGrace)
	m.closing = true
	m.applyEvents(m.inbox.Drain())
	if m.session != nil {
		m.checkpoint(nil)
	}
	m.ckpt.Close()
	for _, w := range m.stopWaiters {
		w <- shared.ErrManagerClosed
	}
	m.stopWaiters = nil
	m.bus.Close()
}

// offerResources hands the newest monitor update to the owner, replacing any unread one.
func (m *Manager) offerResources(u monitor.Update) {
	for {
		select {
		case m.resource <- u:
			return
		default:
		}
		select {
		case <-m.resource:
		default:
		}
	}
}

func (m *Manager) applyResources(u monitor.Update) {
	if u.Desired != m.desired {
		live := m.pool.Rescale(u.Desired)
		m.logger.Info("rescaled workers", "desired", u.Desired, "live", live)
		m.desired = u.Desired
	}
	m.publishWorkers()
}

// displayIndex maps directory names to their position in the session order.
func displayIndex(s *models.Session) map[string]int {
	idx := make(map[string]int, len(s.Directories))
	for i, d := range s.Directories {
		idx[d.Name] = i
	}
	return idx
}

func (m *Manager) destinationFor(name string) string {
	return filepath.Join(m.destination, name)
}
