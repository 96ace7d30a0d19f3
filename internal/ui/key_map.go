package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the monitor.
type keyMap struct {
	up     key.Binding
	down   key.Binding
	toggle key.Binding
	start  key.Binding
	pause  key.Binding
	stop   key.Binding
	order  key.Binding
	retry  key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		toggle: key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "select")),
		start:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		pause:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		stop:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		order:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "order")),
		retry:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.start, k.pause, k.stop, k.toggle, k.retry, k.order, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.toggle},
		{k.start, k.pause, k.stop},
		{k.order, k.retry, k.quit},
	}
}
