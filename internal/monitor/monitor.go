// Package monitor samples host resources and turns them into a desired worker count.
package monitor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

const (
	mib = 1 << 20

	// cpuPerWorker is the share of CPU one transfer is assumed to use.
	cpuPerWorker = 10.0
)

// Sampler reads one resource snapshot.
type Sampler interface {
	Sample(ctx context.Context) (models.ResourceSnapshot, error)
	Cores() int
}

// HostSampler reads CPU and memory figures of the local host.
type HostSampler struct {
	cores int
}

// NewHostSampler counts logical cores once; the count does not change at runtime.
func NewHostSampler(ctx context.Context) *HostSampler {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		n = 1
	}
	return &HostSampler{cores: n}
}

func (h *HostSampler) Cores() int { return h.cores }

// Sample returns CPU utilisation since the previous call, currently available memory and the
// one-minute load average. Load is left at zero where the platform does not report it.
func (h *HostSampler) Sample(ctx context.Context) (models.ResourceSnapshot, error) {
	snap := models.ResourceSnapshot{Timestamp: time.Now()}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return snap, err
	}
	if len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, err
	}
	snap.AvailableMemoryBytes = vm.Available

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAverage = avg.Load1
	}
	return snap, nil
}

// Limits bound the desired worker count.
type Limits struct {
	Min               int
	Max               int
	UtilizationTarget float64
	MemoryFloor       uint64
	MemoryPerWorker   uint64
	MaxLoadPerCore    float64
	Hysteresis        int
}

// LimitsFromConfig converts the workers config section.
func LimitsFromConfig(cfg shared.WorkersConfig) Limits {
	return Limits{
		Min:               cfg.Min,
		Max:               cfg.Max,
		UtilizationTarget: cfg.UtilizationTarget,
		MemoryFloor:       uint64(max(cfg.MemoryFloorMB, 0)) * mib,
		MemoryPerWorker:   uint64(max(cfg.MemoryPerWorkerMB, 0)) * mib,
		MaxLoadPerCore:    cfg.MaxLoadPerCore,
		Hysteresis:        max(cfg.Hysteresis, 1),
	}
}

// Desired computes clamp(round(cores × target), min, max), lowered under CPU and memory pressure.
//
// At or above the CPU target the result is Min; below it, every 10% of headroom allows one worker
// beyond Min. Below the memory floor the result is Min. Above it, each MemoryPerWorker of headroom
// allows one worker beyond Min. A load average per core above MaxLoadPerCore sheds one more worker.
func Desired(cores int, snap models.ResourceSnapshot, l Limits) int {
	n := int(math.Round(float64(cores) * l.UtilizationTarget))

	target := l.UtilizationTarget * 100
	if snap.CPUPercent >= target {
		n = l.Min
	} else {
		n = min(n, l.Min+int((target-snap.CPUPercent)/cpuPerWorker))
	}

	available := snap.AvailableMemoryBytes

	if available < l.MemoryFloor {
		n = l.Min
	} else if l.MemoryPerWorker > 0 {
		headroom := (available - l.MemoryFloor) / l.MemoryPerWorker
		if headroom < uint64(l.Max) {
			n = min(n, l.Min+int(headroom))
		}
	}

	if l.MaxLoadPerCore > 0 && cores > 0 && snap.LoadAverage/float64(cores) > l.MaxLoadPerCore {
		n--
	}

	return clamp(n, l.Min, l.Max)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Update is emitted for every sample.
type Update struct {
	Snapshot models.ResourceSnapshot
	Desired  int
	Changed  bool
}

// Monitor applies hysteresis to [Desired] over a stream of samples.
//
// A new value must be observed for Hysteresis consecutive samples before it is emitted.
// The first sample is accepted immediately.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	logger   *log.Logger

	mu        sync.Mutex
	limits    Limits
	last      int
	candidate int
	streak    int

	latest atomic.Pointer[models.ResourceSnapshot]
}

// New creates a monitor sampling every interval.
func New(sampler Sampler, limits Limits, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		sampler:  sampler,
		interval: interval,
		limits:   limits,
		logger:   shared.WithLogger(logger, "component", "monitor"),
	}
}

// SetLimits replaces the bounds; the next sample is emitted without waiting for hysteresis.
func (m *Monitor) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = l
	m.last, m.candidate, m.streak = 0, 0, 0
}

// Limits returns the current bounds.
func (m *Monitor) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// Latest returns the most recent snapshot, or nil before the first sample.
func (m *Monitor) Latest() *models.ResourceSnapshot {
	return m.latest.Load()
}

// Observe feeds one snapshot and returns the current desired count and whether it changed.
func (m *Monitor) Observe(snap models.ResourceSnapshot) (int, bool) {
	m.latest.Store(&snap)

	m.mu.Lock()
	defer m.mu.Unlock()

	d := Desired(m.sampler.Cores(), snap, m.limits)

	if m.last == 0 {
		m.last = d
		return d, true
	}
	if d == m.last {
		m.candidate, m.streak = 0, 0
		return d, false
	}

	if d != m.candidate {
		m.candidate, m.streak = d, 1
	} else {
		m.streak++
	}

	if m.streak >= max(m.limits.Hysteresis, 1) {
		m.last = d
		m.candidate, m.streak = 0, 0
		return d, true
	}
	return m.last, false
}

// Run samples until ctx is done, calling emit for every successful sample.
func (m *Monitor) Run(ctx context.Context, emit func(Update)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		snap, err := m.sampler.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("resource sample failed", "err", err)
		} else {
			d, changed := m.Observe(snap)
			if changed {
				m.logger.Debug("desired workers changed", "workers", d, "cpu", snap.CPUPercent, "load", snap.LoadAverage, "available", shared.FormatBytes(int64(snap.AvailableMemoryBytes)))
			}
			emit(Update{Snapshot: snap, Desired: d, Changed: changed})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
