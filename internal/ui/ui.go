package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/bulkup/internal/broadcast"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

const recentLogs = 5

// Engine is the part of the backup manager the monitor drives.
type Engine interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Select(ctx context.Context, names []string) error
	Retry(ctx context.Context, names []string) error
	SetOrder(ctx context.Context, order models.Order) error
	Snapshot() models.SessionView
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
	Logs(limit int) []models.LogEntry
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	engine  Engine
	sub     *broadcast.Subscription
	view    models.SessionView
	dirs    list.Model
	logs    []models.LogEntry
	flash   string
	err     error
	closed  bool
	width   int
	height  int
	spinner spinner.Model
	help    help.Model
	keys    keyMap
}

// NewModel creates a monitor subscribed to engine. Call [Model.Close] after the program exits.
func NewModel(ctx context.Context, engine Engine) *Model {
	dirs := list.New(nil, directoryDelegate{}, 0, 0)
	dirs.SetShowTitle(false)
	dirs.SetShowHelp(false)
	dirs.SetShowStatusBar(false)
	dirs.SetFilteringEnabled(false)
	dirs.DisableQuitKeybindings()

	m := &Model{
		ctx:     ctx,
		engine:  engine,
		sub:     engine.Subscribe(),
		dirs:    dirs,
		logs:    engine.Logs(recentLogs),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
	m.refresh()
	return m
}

// Close releases the subscription.
func (m *Model) Close() { m.engine.Unsubscribe(m.sub) }

// Init starts listening for published status messages.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForMessage(), m.spinner.Tick)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dirs.SetSize(msg.Width-2, max(msg.Height-14, 3))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgBroadcast:
			bm := msg.data.(broadcast.Message)
			if bm.Kind == broadcast.KindLog && bm.Log != nil {
				m.logs = append(m.logs, *bm.Log)
				if len(m.logs) > recentLogs {
					m.logs = m.logs[len(m.logs)-recentLogs:]
				}
			}
			if bm.Kind == broadcast.KindForcedPause {
				m.flash = "paused after restart: " + bm.Reason
			}
			m.refresh()
			return m, m.waitForMessage()

		case MsgCommandDone:
			res := msg.data.(commandResult)
			m.err = res.err
			if res.err == nil {
				m.flash = res.action
			} else {
				m.flash = ""
			}
			m.refresh()
			return m, nil

		case MsgStreamClosed:
			m.closed = true
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.dirs, cmd = m.dirs.Update(msg)
	return m, cmd
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.start):
		return m, m.run("backup started", m.engine.Start)
	case key.Matches(msg, m.keys.pause):
		return m, m.run("backup paused", m.engine.Pause)
	case key.Matches(msg, m.keys.stop):
		m.flash = "stopping..."
		return m, m.run("backup stopped", m.engine.Stop)
	case key.Matches(msg, m.keys.order):
		next := models.OrderSize
		if m.order() == models.OrderSize {
			next = models.OrderName
		}
		return m, m.run("ordered by "+next.String(), func(ctx context.Context) error {
			return m.engine.SetOrder(ctx, next)
		})
	case key.Matches(msg, m.keys.toggle):
		names, ok := m.toggled()
		if !ok {
			return m, nil
		}
		return m, m.run(fmt.Sprintf("%d selected", len(names)), func(ctx context.Context) error {
			return m.engine.Select(ctx, names)
		})
	case key.Matches(msg, m.keys.retry):
		d, ok := m.current()
		if !ok {
			return m, nil
		}
		return m, m.run("retrying "+d.Name, func(ctx context.Context) error {
			return m.engine.Retry(ctx, []string{d.Name})
		})
	}

	var cmd tea.Cmd
	m.dirs, cmd = m.dirs.Update(msg)
	return m, cmd
}

// refresh reloads the view from the engine snapshot and rebuilds the list items.
func (m *Model) refresh() {
	m.view = m.engine.Snapshot()
	var items []list.Item
	if m.view.Session != nil {
		items = make([]list.Item, len(m.view.Session.Directories))
		for i, d := range m.view.Session.Directories {
			items[i] = directoryItem{dir: d}
		}
	}
	m.dirs.SetItems(items)
}

func (m *Model) current() (models.DirectoryRecord, bool) {
	it, ok := m.dirs.SelectedItem().(directoryItem)
	if !ok {
		return models.DirectoryRecord{}, false
	}
	return it.dir, true
}

// toggled returns the selection with the highlighted directory flipped.
func (m *Model) toggled() ([]string, bool) {
	cur, ok := m.current()
	if !ok || m.view.Session == nil {
		return nil, false
	}
	names := []string{}
	for _, d := range m.view.Session.Directories {
		sel := d.Selected
		if d.Name == cur.Name {
			sel = !sel
		}
		if sel {
			names = append(names, d.Name)
		}
	}
	return names, true
}

func (m *Model) order() models.Order {
	if m.view.Session != nil {
		return m.view.Session.Order
	}
	return models.OrderName
}

func (m *Model) run(done string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return commandDoneMsg(done, fn(ctx))
	}
}

func (m *Model) waitForMessage() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		bm, ok := <-sub.C()
		if !ok {
			return streamClosedMsg()
		}
		return broadcastMsg(bm)
	}
}

// View renders the monitor.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.view.Session == nil {
		b.WriteString(styles.help.Render("No directories yet. Press s to scan and start."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.dirs.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderLogs())
	b.WriteString(m.renderFlash())
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func (m *Model) renderHeader() string {
	v := m.view
	state := styles.stateStyle(v.State).Render(v.State.String())
	if v.ForcedPause {
		state += styles.warn.Render(" (after restart)")
	}
	if v.Scanning {
		state += " " + m.spinner.View() + " scanning"
	}
	lines := []string{styles.title.Render("bulkup") + "  " + state}

	if s := v.Session; s != nil {
		pct := 0.0
		if s.TotalSizeBytes > 0 {
			pct = float64(s.CompletedSizeBytes) / float64(s.TotalSizeBytes) * 100
		}
		lines = append(lines, fmt.Sprintf("%s %5.1f%%  %s of %s  order: %s",
			bar(pct, 30), pct, shared.FormatBytes(s.CompletedSizeBytes), shared.FormatBytes(s.TotalSizeBytes), s.Order))
	}

	workers := fmt.Sprintf("workers %d/%d  queued %d", v.BusyWorkers(), v.DesiredWorkers, v.QueueLength)
	if r := v.Resources; r != nil {
		workers += fmt.Sprintf("  cpu %.0f%%  load %.2f  mem free %s", r.CPUPercent, r.LoadAverage, shared.FormatBytes(int64(r.AvailableMemoryBytes)))
	}
	lines = append(lines, styles.help.Render(workers))
	for _, w := range v.ScanWarnings {
		lines = append(lines, styles.warn.Render("warning: "+w))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderLogs() string {
	var b strings.Builder
	for _, e := range m.logs {
		line := e.Message
		if e.Directory != "" {
			line = e.Directory + ": " + line
		}
		line = truncate(line, max(m.width-12, 40))
		switch e.Level {
		case "error":
			line = styles.err.Render(line)
		case "warn":
			line = styles.warn.Render(line)
		default:
			line = styles.help.Render(line)
		}
		fmt.Fprintf(&b, "%s %s\n", e.At.Format("15:04:05"), line)
	}
	return b.String()
}

func (m *Model) renderFlash() string {
	switch {
	case m.closed:
		return styles.err.Render("engine stopped; press q to quit") + "\n"
	case m.err != nil:
		return styles.err.Render("Error: "+m.err.Error()) + "\n"
	case m.flash != "":
		return styles.ok.Render(m.flash) + "\n"
	}
	return ""
}
