package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

var (
	_ list.Item         = directoryItem{}
	_ list.ItemDelegate = directoryDelegate{}
)

// directoryItem wraps [models.DirectoryRecord] to implement [list.Item].
type directoryItem struct {
	dir models.DirectoryRecord
}

func (i directoryItem) FilterValue() string { return i.dir.Name }
func (i directoryItem) Title() string       { return i.dir.Name }
func (i directoryItem) Description() string {
	desc := fmt.Sprintf("%s • %s", shared.FormatBytes(i.dir.SizeBytes), i.dir.Status)
	switch i.dir.Status {
	case models.InProgress:
		desc = fmt.Sprintf("%s • %.0f%%", desc, i.dir.ProgressPercent)
		if i.dir.CurrentFile != "" {
			desc = fmt.Sprintf("%s • %s", desc, i.dir.CurrentFile)
		}
	case models.Error:
		desc = fmt.Sprintf("%s • %s", desc, i.dir.LastErrorSummary)
	}
	return desc
}

// directoryDelegate renders one directory per line: cursor, checkbox, name, size, status and progress.
type directoryDelegate struct{}

func (directoryDelegate) Height() int                             { return 1 }
func (directoryDelegate) Spacing() int                            { return 0 }
func (directoryDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (directoryDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(directoryItem)
	if !ok {
		return
	}
	d := it.dir

	cursor := "  "
	if index == m.Index() {
		cursor = styles.cursor.Render("> ")
	}
	check := "[ ]"
	if d.Selected {
		check = "[x]"
	}

	line := fmt.Sprintf("%s %-24s %10s  %s",
		check,
		truncate(d.Name, 24),
		shared.FormatBytes(d.SizeBytes),
		styles.statusStyle(d.Status).Render(fmt.Sprintf("%-11s", d.Status)),
	)
	switch d.Status {
	case models.InProgress:
		line += fmt.Sprintf(" %s %3.0f%% %s/s", bar(d.ProgressPercent, 16), d.ProgressPercent, shared.FormatBytes(int64(d.RatePerSecond)))
	case models.Error:
		line += " " + styles.err.Render(truncate(d.LastErrorSummary, 40))
	case models.Completed:
		line += fmt.Sprintf(" %d files", d.FilesTransferred)
	}
	fmt.Fprint(w, cursor+line)
}

// bar draws a fixed-width progress bar for pct in [0, 100].
func bar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return styles.barFill.Render(strings.Repeat("█", filled)) + styles.barEmpty.Render(strings.Repeat("░", width-filled))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
