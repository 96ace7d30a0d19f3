package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestEnumWireNames(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"session running", Running, `"running"`},
		{"session stopped", Stopped, `"stopped"`},
		{"status in progress", InProgress, `"in_progress"`},
		{"status skipped", Skipped, `"skipped"`},
		{"order size", OrderSize, `"size"`},
		{"slot draining", SlotDraining, `"draining"`},
		{"summary with errors", SummaryCompletedWithErrors, `"completed_with_errors"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEnumRejectsUnknown(t *testing.T) {
	t.Run("unknown name", func(t *testing.T) {
		var s DirectoryStatus
		if err := json.Unmarshal([]byte(`"InProgress"`), &s); err == nil {
			t.Error("expected error for non-canonical name")
		}
	})

	t.Run("unknown value", func(t *testing.T) {
		if _, err := json.Marshal(SessionState(42)); err == nil {
			t.Error("expected error for out of range value")
		}
	})

	t.Run("empty order defaults to name", func(t *testing.T) {
		o, err := ParseOrder("")
		if err != nil || o != OrderName {
			t.Errorf("ParseOrder(\"\") = %v, %v", o, err)
		}
	})

	t.Run("bad order", func(t *testing.T) {
		if _, err := ParseOrder("mtime"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestDirectoryTransitions(t *testing.T) {
	tests := []struct {
		from, to DirectoryStatus
		ok       bool
	}{
		{Pending, Queued, true},
		{Pending, InProgress, false},
		{Queued, InProgress, true},
		{Queued, Completed, false},
		{InProgress, Completed, true},
		{InProgress, Error, true},
		{InProgress, Skipped, true},
		{InProgress, Queued, false},
		{Error, Queued, true},
		{Error, InProgress, false},
		{Completed, Queued, false},
		{Skipped, Queued, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			d := DirectoryRecord{Name: "docs", Status: tt.from}
			err := d.Transition(tt.to)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if d.Status != tt.from {
					t.Errorf("status changed to %s on rejected transition", d.Status)
				}
			}
		})
	}
}

func TestTransitionWalkStaysInLifecycle(t *testing.T) {
	all := []DirectoryStatus{Pending, Queued, InProgress, Completed, Error, Skipped}
	rapid.Check(t, func(t *rapid.T) {
		d := DirectoryRecord{Name: "x", Status: Pending}
		steps := rapid.SliceOfN(rapid.SampledFrom(all), 0, 40).Draw(t, "steps")
		for _, to := range steps {
			prev := d.Status
			if err := d.Transition(to); err != nil {
				if d.Status != prev {
					t.Fatalf("rejected %s -> %s mutated status", prev, to)
				}
				continue
			}
			if prev == Completed || prev == Skipped {
				t.Fatalf("left terminal status %s", prev)
			}
		}
	})
}

func TestSessionTotals(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dirs := []DirectoryRecord{
		{Name: "a", SizeBytes: 100, Selected: true, Status: Completed, BytesTransferred: 40},
		{Name: "b", SizeBytes: 200, Selected: true, Status: InProgress, BytesTransferred: 250},
		{Name: "c", SizeBytes: 300, Selected: true, Status: Queued, BytesTransferred: 30},
		{Name: "d", SizeBytes: 400, Selected: false},
	}
	s := NewSession("s1", "/home/u", "/mnt/b", dirs, OrderName, now)

	if s.TotalSizeBytes != 600 {
		t.Errorf("total = %d, want 600", s.TotalSizeBytes)
	}
	if s.CompletedSizeBytes != 100+200+30 {
		t.Errorf("completed = %d, want 330", s.CompletedSizeBytes)
	}
	if s.State != Stopped {
		t.Errorf("new session state = %s", s.State)
	}
}

func TestSessionClone(t *testing.T) {
	s := NewSession("s1", "/src", "/dst", []DirectoryRecord{
		{Name: "a", Selected: true, Diagnostics: []string{"line"}},
	}, OrderName, time.Now())

	c := s.Clone()
	c.Directories[0].Status = Error
	c.Directories[0].Diagnostics[0] = "changed"

	if s.Directories[0].Status != Pending {
		t.Error("clone shares directory slice")
	}
	if s.Directories[0].Diagnostics[0] != "line" {
		t.Error("clone shares diagnostics")
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestSessionSummary(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Minute)

	tests := []struct {
		name    string
		dirs    []DirectoryRecord
		stopped bool
		want    SummaryStatus
	}{
		{
			name: "all completed",
			dirs: []DirectoryRecord{{Name: "a", Selected: true, Status: Completed}},
			want: SummaryCompleted,
		},
		{
			name: "with errors",
			dirs: []DirectoryRecord{
				{Name: "a", Selected: true, Status: Completed},
				{Name: "b", Selected: true, Status: Error},
			},
			want: SummaryCompletedWithErrors,
		},
		{
			name:    "explicit stop wins",
			dirs:    []DirectoryRecord{{Name: "a", Selected: true, Status: Error}},
			stopped: true,
			want:    SummaryStopped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("s", "/", "/d", tt.dirs, OrderName, started)
			s.StartedAt = &started
			sum := s.Summary(tt.stopped, ended)
			if sum.Status != tt.want {
				t.Errorf("status = %s, want %s", sum.Status, tt.want)
			}
			if sum.Duration() != 90*time.Minute {
				t.Errorf("duration = %s", sum.Duration())
			}
			if sum.Directories != len(tt.dirs) {
				t.Errorf("directories = %d", sum.Directories)
			}
		})
	}
}

func TestSessionJSONUsesWireNames(t *testing.T) {
	s := NewSession("s", "/", "/d", []DirectoryRecord{{Name: "a", Selected: true, Status: InProgress}}, OrderSize, time.Now())
	s.State = Paused
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"state":"paused"`, `"status":"in_progress"`, `"order":"size"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("missing %s in %s", want, b)
		}
	}
}

func TestViewHelpers(t *testing.T) {
	v := SessionView{
		Session: NewSession("s", "/", "/d", []DirectoryRecord{{Name: "a"}}, OrderName, time.Now()),
		Workers: []SlotView{{ID: 0, State: SlotBusy}, {ID: 1, State: SlotDraining}, {ID: 2, State: SlotIdle}},
	}
	if v.BusyWorkers() != 2 {
		t.Errorf("busy = %d", v.BusyWorkers())
	}
	if _, ok := v.Directory("a"); !ok {
		t.Error("expected directory a")
	}
	if _, ok := v.Directory("zz"); ok {
		t.Error("unexpected directory")
	}
}
