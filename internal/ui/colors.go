package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/bulkup/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title    lipgloss.Style
	ok       lipgloss.Style
	err      lipgloss.Style
	warn     lipgloss.Style
	help     lipgloss.Style
	active   lipgloss.Style
	cursor   lipgloss.Style
	barFill  lipgloss.Style
	barEmpty lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title:    NewBold(t).MarginBottom(1),
		ok:       NewBold(s),
		err:      NewBold(e),
		warn:     NewStyle(w),
		help:     NewEm(h),
		active:   NewBold(t),
		cursor:   NewBold(t),
		barFill:  NewStyle(s),
		barEmpty: NewStyle(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// statusStyle picks the color of a directory status label.
func (p *Palette) statusStyle(s models.DirectoryStatus) lipgloss.Style {
	switch s {
	case models.Completed:
		return p.ok
	case models.Error:
		return p.err
	case models.InProgress:
		return p.active
	case models.Skipped:
		return p.warn
	}
	return p.help
}

func (p *Palette) stateStyle(s models.SessionState) lipgloss.Style {
	switch s {
	case models.Running:
		return p.ok
	case models.Paused:
		return p.warn
	}
	return p.help
}
