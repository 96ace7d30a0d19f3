package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

type fakeSampler struct {
	mu    sync.Mutex
	cores int
	avail []uint64
	fail  bool
	calls int
}

func (f *fakeSampler) Cores() int { return f.cores }

func (f *fakeSampler) Sample(ctx context.Context) (models.ResourceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return models.ResourceSnapshot{}, errors.New("sample failed")
	}
	var a uint64 = 64 << 30
	if len(f.avail) > 0 {
		a, f.avail = f.avail[0], f.avail[1:]
	}
	return models.ResourceSnapshot{AvailableMemoryBytes: a, Timestamp: time.Now()}, nil
}

func testLimits() Limits {
	return Limits{
		Min:               1,
		Max:               8,
		UtilizationTarget: 0.75,
		MemoryFloor:       512 * mib,
		MemoryPerWorker:   256 * mib,
		MaxLoadPerCore:    0.8,
		Hysteresis:        2,
	}
}

func TestDesired(t *testing.T) {
	tests := []struct {
		name  string
		cores int
		avail uint64
		cpu   float64
		load  float64
		want  int
	}{
		{"plenty of memory", 8, 64 << 30, 0, 0, 6},
		{"clamped to max", 32, 64 << 30, 0, 0, 8},
		{"clamped to min", 1, 64 << 30, 0, 0, 1},
		{"below floor", 8, 100 * mib, 0, 0, 1},
		{"memory caps count", 8, 512*mib + 2*256*mib, 0, 0, 3},
		{"exactly at floor", 8, 512 * mib, 0, 0, 1},
		{"cpu at target", 8, 64 << 30, 75, 0, 1},
		{"cpu saturated", 8, 64 << 30, 100, 0, 1},
		{"cpu headroom caps count", 8, 64 << 30, 50, 0, 3},
		{"small headroom", 8, 64 << 30, 70, 0, 1},
		{"high load sheds one", 8, 64 << 30, 0, 8, 5},
		{"load at limit keeps count", 8, 64 << 30, 0, 6.4, 6},
		{"high load never goes below min", 8, 64 << 30, 100, 16, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := models.ResourceSnapshot{AvailableMemoryBytes: tt.avail, CPUPercent: tt.cpu, LoadAverage: tt.load}
			if got := Desired(tt.cores, snap, testLimits()); got != tt.want {
				t.Errorf("Desired(%d, %+v) = %d, want %d", tt.cores, snap, got, tt.want)
			}
		})
	}
}

func TestDesiredStaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(1, 16).Draw(t, "min")
		l := Limits{
			Min:               lo,
			Max:               rapid.IntRange(lo, 64).Draw(t, "max"),
			UtilizationTarget: rapid.Float64Range(0.01, 1).Draw(t, "target"),
			MemoryFloor:       rapid.Uint64Range(0, 4<<30).Draw(t, "floor"),
			MemoryPerWorker:   rapid.Uint64Range(0, 1<<30).Draw(t, "per"),
			MaxLoadPerCore:    rapid.Float64Range(0, 4).Draw(t, "load limit"),
		}
		cores := rapid.IntRange(1, 256).Draw(t, "cores")
		snap := models.ResourceSnapshot{
			AvailableMemoryBytes: rapid.Uint64Range(0, 256<<30).Draw(t, "avail"),
			CPUPercent:           rapid.Float64Range(0, 100).Draw(t, "cpu"),
			LoadAverage:          rapid.Float64Range(0, 512).Draw(t, "load"),
		}

		got := Desired(cores, snap, l)
		if got < l.Min || got > l.Max {
			t.Fatalf("Desired = %d outside [%d, %d]", got, l.Min, l.Max)
		}
		if snap.CPUPercent >= l.UtilizationTarget*100 && got != l.Min {
			t.Fatalf("Desired = %d with cpu %.1f%% at or above target, want min %d", got, snap.CPUPercent, l.Min)
		}
	})
}

func TestObserveHysteresis(t *testing.T) {
	sampler := &fakeSampler{cores: 8}
	m := New(sampler, testLimits(), time.Second, nil)

	high := models.ResourceSnapshot{AvailableMemoryBytes: 64 << 30}
	low := models.ResourceSnapshot{AvailableMemoryBytes: 100 * mib}

	steps := []struct {
		snap    models.ResourceSnapshot
		want    int
		changed bool
	}{
		{high, 6, true},
		{high, 6, false},
		{low, 6, false},
		{high, 6, false},
		{low, 6, false},
		{low, 1, true},
		{low, 1, false},
		{high, 1, false},
		{high, 6, true},
	}

	for i, s := range steps {
		got, changed := m.Observe(s.snap)
		if got != s.want || changed != s.changed {
			t.Fatalf("step %d: got (%d, %v), want (%d, %v)", i, got, changed, s.want, s.changed)
		}
	}

	if m.Latest() == nil || m.Latest().AvailableMemoryBytes != 64<<30 {
		t.Error("Latest should hold the last observed snapshot")
	}
}

func TestSetLimitsEmitsImmediately(t *testing.T) {
	m := New(&fakeSampler{cores: 8}, testLimits(), time.Second, nil)
	snap := models.ResourceSnapshot{AvailableMemoryBytes: 64 << 30}

	if d, _ := m.Observe(snap); d != 6 {
		t.Fatalf("expected 6, got %d", d)
	}

	l := testLimits()
	l.Max = 2
	m.SetLimits(l)

	d, changed := m.Observe(snap)
	if d != 2 || !changed {
		t.Errorf("expected immediate change to 2, got (%d, %v)", d, changed)
	}
	if m.Limits().Max != 2 {
		t.Errorf("expected max 2, got %d", m.Limits().Max)
	}
}

func TestLimitsFromConfig(t *testing.T) {
	l := LimitsFromConfig(shared.WorkersConfig{Min: 2, Max: 4, UtilizationTarget: 0.5, MemoryFloorMB: 10, MemoryPerWorkerMB: 5, MaxLoadPerCore: 1.5})
	if l.MemoryFloor != 10*mib || l.MemoryPerWorker != 5*mib || l.MaxLoadPerCore != 1.5 {
		t.Errorf("unexpected memory limits: %+v", l)
	}
	if l.Hysteresis != 1 {
		t.Errorf("expected hysteresis defaulted to 1, got %d", l.Hysteresis)
	}
}

func TestRun(t *testing.T) {
	t.Run("EmitsEverySample", func(t *testing.T) {
		sampler := &fakeSampler{cores: 4}
		m := New(sampler, testLimits(), 5*time.Millisecond, nil)

		ctx, cancel := context.WithCancel(context.Background())
		updates := make(chan Update, 16)
		done := make(chan struct{})
		go func() {
			m.Run(ctx, func(u Update) {
				select {
				case updates <- u:
				default:
				}
			})
			close(done)
		}()

		first := <-updates
		if !first.Changed || first.Desired != 3 {
			t.Errorf("expected first update to change to 3, got %+v", first)
		}
		second := <-updates
		if second.Changed {
			t.Errorf("expected stable second update, got %+v", second)
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})

	t.Run("SkipsFailedSamples", func(t *testing.T) {
		sampler := &fakeSampler{cores: 4, fail: true}
		m := New(sampler, testLimits(), 2*time.Millisecond, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		emitted := 0
		m.Run(ctx, func(Update) { emitted++ })
		if emitted != 0 {
			t.Errorf("expected no updates, got %d", emitted)
		}
		if sampler.calls == 0 {
			t.Error("expected sampler to be called")
		}
	})
}
