package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

const checkpointMinGap = 50 * time.Millisecond

// SessionStore is the durable persistence the manager writes through.
type SessionStore interface {
	LoadLatest(ctx context.Context) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	AppendHistory(ctx context.Context, sum models.SessionSummary) error
	AppendLogs(ctx context.Context, entries []models.LogEntry) error
}

type checkpoint struct {
	session *models.Session
	history []models.SessionSummary
	logs    []models.LogEntry
}

type saveWaiter struct {
	version uint64
	ch      chan error
}

// checkpointer writes session copies on its own goroutine so the owner never blocks on I/O.
//
// Submitted sessions coalesce: only the newest copy is written. History and log entries accumulate.
// Each write is retried with exponential backoff; when the attempts run out the failure is
// reported on Fatal and the checkpointer stops accepting work.
type checkpointer struct {
	store    SessionStore
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
	logger   *log.Logger

	mu        sync.Mutex
	pending   *checkpoint
	submitted uint64
	saved     uint64
	failed    error
	waiters   []saveWaiter

	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	fatal chan error
	once  sync.Once
}

func newCheckpointer(store SessionStore, attempts int, backoff time.Duration, logger *log.Logger) *checkpointer {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &checkpointer{
		store:    store,
		attempts: attempts,
		backoff:  backoff,
		limiter:  rate.NewLimiter(rate.Every(checkpointMinGap), 1),
		logger:   shared.WithLogger(logger, "component", "checkpoint"),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		fatal:    make(chan error, 1),
	}
}

// Submit queues s (a copy owned by the checkpointer from now on) and returns its version.
// A nil session only queues history and logs.
func (c *checkpointer) Submit(s *models.Session, history *models.SessionSummary, logs []models.LogEntry) uint64 {
	c.mu.Lock()
	if c.pending == nil {
		c.pending = &checkpoint{}
	}
	if s != nil {
		c.pending.session = s
	}
	if history != nil {
		c.pending.history = append(c.pending.history, *history)
	}
	c.pending.logs = append(c.pending.logs, logs...)
	c.submitted++
	v := c.submitted
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return v
}

// Wait returns a channel that receives nil once version v is durable, or the fatal error.
func (c *checkpointer) Wait(v uint64) <-chan error {
	ch := make(chan error, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.failed != nil:
		ch <- c.failed
	case c.saved >= v:
		ch <- nil
	default:
		c.waiters = append(c.waiters, saveWaiter{version: v, ch: ch})
	}
	return ch
}

// Fatal receives at most one error, after which nothing more is written.
func (c *checkpointer) Fatal() <-chan error { return c.fatal }

// Run writes checkpoints until Close. Pending work is flushed before it returns.
func (c *checkpointer) Run() {
	defer close(c.done)
	for {
		select {
		case <-c.wake:
			if !c.flush() {
				return
			}
		case <-c.stop:
			c.flush()
			return
		}
	}
}

// Close flushes pending work and stops Run. It is safe to call more than once.
func (c *checkpointer) Close() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}

// flush writes the pending checkpoint. It reports false after a fatal failure.
func (c *checkpointer) flush() bool {
	c.mu.Lock()
	job, version := c.pending, c.submitted
	c.pending = nil
	c.mu.Unlock()

	if job == nil {
		return true
	}
	c.limiter.Wait(context.Background())

	if job.session != nil {
		if err := c.retry("save session", func(ctx context.Context) error { return c.store.Save(ctx, job.session) }); err != nil {
			c.fail(err)
			return false
		}
	}
	for _, sum := range job.history {
		if err := c.retry("append history", func(ctx context.Context) error { return c.store.AppendHistory(ctx, sum) }); err != nil {
			c.fail(err)
			return false
		}
	}
	if len(job.logs) > 0 {
		if err := c.store.AppendLogs(context.Background(), job.logs); err != nil {
			c.logger.Warn("failed to persist backup log", "entries", len(job.logs), "err", err)
		}
	}

	c.mu.Lock()
	c.saved = version
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.version <= version {
			w.ch <- nil
		} else {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
	c.mu.Unlock()
	return true
}

func (c *checkpointer) retry(op string, fn func(ctx context.Context) error) error {
	var err error
	delay := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = fn(context.Background()); err == nil {
			return nil
		}
		c.logger.Warn("checkpoint failed", "op", op, "attempt", attempt, "of", c.attempts, "err", err)
		if attempt < c.attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", shared.ErrPersistence, op, c.attempts, err)
}

func (c *checkpointer) fail(err error) {
	c.logger.Error("giving up on checkpoints", "err", err)
	c.mu.Lock()
	c.failed = err
	for _, w := range c.waiters {
		w.ch <- err
	}
	c.waiters = nil
	c.mu.Unlock()
	c.fatal <- err
}
