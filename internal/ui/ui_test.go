package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/bulkup/internal/broadcast"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	names []string
	order models.Order
	err   error
	view  models.SessionView
	bus   *broadcast.Broadcaster
}

func newFakeEngine() *fakeEngine {
	s := models.NewSession("s1", "/src", "/dst", []models.DirectoryRecord{
		{Name: "alpha", SizeBytes: 100, Selected: true, Status: models.Pending},
		{Name: "beta", SizeBytes: 200, Status: models.Error, LastErrorSummary: "rsync exited 23"},
	}, models.OrderName, time.Now())
	return &fakeEngine{
		view: models.SessionView{State: models.Stopped, Session: s},
		bus:  broadcast.New(8),
	}
}

func (f *fakeEngine) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeEngine) Start(context.Context) error { return f.call("start") }
func (f *fakeEngine) Pause(context.Context) error { return f.call("pause") }
func (f *fakeEngine) Stop(context.Context) error  { return f.call("stop") }

func (f *fakeEngine) Select(_ context.Context, names []string) error {
	f.names = names
	return f.call("select")
}

func (f *fakeEngine) Retry(_ context.Context, names []string) error {
	f.names = names
	return f.call("retry")
}

func (f *fakeEngine) SetOrder(_ context.Context, o models.Order) error {
	f.order = o
	return f.call("order")
}

func (f *fakeEngine) Snapshot() models.SessionView { return f.view }

func (f *fakeEngine) Subscribe() *broadcast.Subscription { return f.bus.Subscribe() }

func (f *fakeEngine) Unsubscribe(s *broadcast.Subscription) { f.bus.Unsubscribe(s) }

func (f *fakeEngine) Logs(int) []models.LogEntry {
	return []models.LogEntry{{Level: "info", Message: "scan complete", At: time.Now()}}
}

func keyPress(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// exec runs cmd and feeds its message back into the model.
func exec(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func newTestModel(t *testing.T) (*Model, *fakeEngine) {
	t.Helper()
	e := newFakeEngine()
	m := NewModel(context.Background(), e)
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, e
}

func TestModel(t *testing.T) {
	t.Run("View", func(t *testing.T) {
		t.Run("Renders Directories And Logs", func(t *testing.T) {
			m, _ := newTestModel(t)
			out := m.View()
			for _, want := range []string{"bulkup", "stopped", "alpha", "beta", "[x]", "rsync exited 23", "scan complete"} {
				if !strings.Contains(out, want) {
					t.Errorf("view missing %q:\n%s", want, out)
				}
			}
		})

		t.Run("Empty Session", func(t *testing.T) {
			e := newFakeEngine()
			e.view.Session = nil
			m := NewModel(context.Background(), e)
			defer m.Close()
			if !strings.Contains(m.View(), "No directories yet") {
				t.Errorf("expected empty hint, got %q", m.View())
			}
		})
	})

	t.Run("Keys", func(t *testing.T) {
		tests := []struct {
			name string
			key  string
			call string
		}{
			{name: "Start", key: "s", call: "start"},
			{name: "Pause", key: "p", call: "pause"},
			{name: "Stop", key: "x", call: "stop"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m, e := newTestModel(t)
				_, cmd := m.Update(keyPress(tt.key))
				exec(t, m, cmd)
				if len(e.calls) != 1 || e.calls[0] != tt.call {
					t.Errorf("calls = %v, want [%s]", e.calls, tt.call)
				}
			})
		}

		t.Run("Toggle Selection", func(t *testing.T) {
			m, e := newTestModel(t)
			_, cmd := m.Update(keyPress(" "))
			exec(t, m, cmd)
			if len(e.names) != 0 {
				t.Errorf("deselecting alpha should leave nothing selected, got %v", e.names)
			}

			m.Update(keyPress("j"))
			_, cmd = m.Update(keyPress(" "))
			exec(t, m, cmd)
			if strings.Join(e.names, ",") != "alpha,beta" {
				t.Errorf("names = %v, want [alpha beta]", e.names)
			}
		})

		t.Run("Retry Highlighted", func(t *testing.T) {
			m, e := newTestModel(t)
			m.Update(keyPress("j"))
			_, cmd := m.Update(keyPress("r"))
			exec(t, m, cmd)
			if len(e.names) != 1 || e.names[0] != "beta" {
				t.Errorf("retry names = %v", e.names)
			}
		})

		t.Run("Order Toggles", func(t *testing.T) {
			m, e := newTestModel(t)
			_, cmd := m.Update(keyPress("o"))
			exec(t, m, cmd)
			if e.order != models.OrderSize {
				t.Errorf("order = %v, want size", e.order)
			}
		})

		t.Run("Quit", func(t *testing.T) {
			m, e := newTestModel(t)
			_, cmd := m.Update(keyPress("q"))
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
			if len(e.calls) != 0 {
				t.Errorf("quit should not touch the engine, got %v", e.calls)
			}
		})
	})

	t.Run("Command Errors", func(t *testing.T) {
		m, e := newTestModel(t)
		e.err = shared.ErrStartPrecondition
		_, cmd := m.Update(keyPress("s"))
		exec(t, m, cmd)
		if !errors.Is(m.err, shared.ErrStartPrecondition) {
			t.Fatalf("err = %v", m.err)
		}
		if !strings.Contains(m.View(), "Error:") {
			t.Error("expected error in view")
		}

		e.err = nil
		_, cmd = m.Update(keyPress("p"))
		exec(t, m, cmd)
		if m.err != nil || !strings.Contains(m.View(), "backup paused") {
			t.Errorf("expected error cleared, view:\n%s", m.View())
		}
	})

	t.Run("Broadcasts", func(t *testing.T) {
		t.Run("Refresh From Snapshot", func(t *testing.T) {
			m, e := newTestModel(t)
			e.view.State = models.Running
			e.bus.Publish(broadcast.Message{Kind: broadcast.KindWorkers})

			msg := m.waitForMessage()()
			_, next := m.Update(msg)
			if next == nil {
				t.Error("expected the model to keep listening")
			}
			if m.view.State != models.Running {
				t.Errorf("state = %v, want running", m.view.State)
			}
		})

		t.Run("Log Tail", func(t *testing.T) {
			m, _ := newTestModel(t)
			for i := range recentLogs + 2 {
				entry := models.LogEntry{Level: "warn", Message: "line", Directory: string(rune('a' + i)), At: time.Now()}
				m.Update(broadcastMsg(broadcast.Message{Kind: broadcast.KindLog, Log: &entry}))
			}
			if len(m.logs) != recentLogs {
				t.Errorf("kept %d logs, want %d", len(m.logs), recentLogs)
			}
			if m.logs[len(m.logs)-1].Directory != string(rune('a'+recentLogs+1)) {
				t.Errorf("newest log missing: %+v", m.logs)
			}
		})

		t.Run("Stream Closed", func(t *testing.T) {
			m, e := newTestModel(t)
			e.bus.Close()
			m.Update(m.waitForMessage()())
			if !m.closed || !strings.Contains(m.View(), "engine stopped") {
				t.Error("expected closed stream to be reported")
			}
		})
	})
}
