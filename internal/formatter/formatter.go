// package formatter renders session history, scans and status as JSON, CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// Format names an output format.
type Format string

const (
	JSON     Format = "json"
	CSV      Format = "csv"
	Markdown Format = "markdown"
	Text     Format = "txt"
)

// Formats lists the accepted format names.
var Formats = []Format{JSON, CSV, Markdown, Text}

// ParseFormat accepts a format name or a common alias ("md", "text").
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return JSON, nil
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	case "txt", "text", "":
		return Text, nil
	}
	return "", fmt.Errorf("%w: unknown format %q (want json, csv, markdown or txt)", shared.ErrInvalidFlag, name)
}

// Ext is the file extension for f.
func (f Format) Ext() string {
	if f == Markdown {
		return "md"
	}
	return string(f)
}

const timeLayout = "2006-01-02 15:04:05"

// HistoryToCSV writes one row per archived session.
func HistoryToCSV(items []*models.SessionSummary) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "Session", "Status", "Started", "Completed", "Duration", "TotalBytes", "CompletedBytes", "Directories", "CompletedDirs", "Errors", "Skipped"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, s := range items {
		record := []string{
			strconv.Itoa(s.Sequence),
			s.SessionID,
			s.Status.String(),
			formatTime(s.StartedAt),
			s.CompletedAt.Format(timeLayout),
			formatDuration(s.Duration()),
			strconv.FormatInt(s.TotalSize, 10),
			strconv.FormatInt(s.CompletedSize, 10),
			strconv.Itoa(s.Directories),
			strconv.Itoa(s.Completed),
			strconv.Itoa(s.Errors),
			strconv.Itoa(s.Skipped),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// HistoryToMarkdown renders a heading with totals followed by a table of sessions.
func HistoryToMarkdown(items []*models.SessionSummary) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Backup History\n\n")
	var total int64
	var failed int
	for _, s := range items {
		total += s.CompletedSize
		failed += s.Errors
	}
	fmt.Fprintf(&buf, "**Sessions**: %d\n", len(items))
	fmt.Fprintf(&buf, "**Copied**: %s\n", shared.FormatBytes(total))
	fmt.Fprintf(&buf, "**Failed directories**: %d\n\n", failed)

	if len(items) == 0 {
		return buf.Bytes(), nil
	}

	buf.WriteString("| # | Completed | Status | Duration | Copied | Directories | Errors | Skipped |\n")
	buf.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, s := range items {
		fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s / %s | %d/%d | %d | %d |\n",
			s.Sequence,
			s.CompletedAt.Format(timeLayout),
			s.Status,
			formatDuration(s.Duration()),
			shared.FormatBytes(s.CompletedSize),
			shared.FormatBytes(s.TotalSize),
			s.Completed, s.Directories,
			s.Errors,
			s.Skipped,
		)
	}
	return buf.Bytes(), nil
}

// HistoryToText renders one line per session.
func HistoryToText(items []*models.SessionSummary) ([]byte, error) {
	var buf bytes.Buffer
	if len(items) == 0 {
		buf.WriteString("No backup history.\n")
		return buf.Bytes(), nil
	}
	for _, s := range items {
		fmt.Fprintf(&buf, "#%d  %s  %-21s  %s of %s  %d/%d dirs",
			s.Sequence,
			s.CompletedAt.Format(timeLayout),
			s.Status,
			shared.FormatBytes(s.CompletedSize),
			shared.FormatBytes(s.TotalSize),
			s.Completed, s.Directories,
		)
		if s.Errors > 0 {
			fmt.Fprintf(&buf, ", %d errors", s.Errors)
		}
		if s.Skipped > 0 {
			fmt.Fprintf(&buf, ", %d skipped", s.Skipped)
		}
		if d := s.Duration(); d > 0 {
			fmt.Fprintf(&buf, "  (%s)", formatDuration(d))
		}
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// History renders items in format f.
func History(items []*models.SessionSummary, f Format) ([]byte, error) {
	switch f {
	case JSON:
		return toJSON(items)
	case CSV:
		return HistoryToCSV(items)
	case Markdown:
		return HistoryToMarkdown(items)
	default:
		return HistoryToText(items)
	}
}

// DirectoriesToCSV writes one row per scanned directory.
func DirectoriesToCSV(records []models.DirectoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Name", "Path", "SizeBytes", "Size", "Selected", "Status"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, d := range records {
		record := []string{d.Name, d.SourcePath, strconv.FormatInt(d.SizeBytes, 10), shared.FormatBytes(d.SizeBytes), strconv.FormatBool(d.Selected), d.Status.String()}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// DirectoriesToMarkdown renders scanned directories as a table.
func DirectoriesToMarkdown(records []models.DirectoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	var total int64
	for _, d := range records {
		total += d.SizeBytes
	}

	fmt.Fprintf(&buf, "# Directories\n\n**Count**: %d\n**Total**: %s\n\n", len(records), shared.FormatBytes(total))
	buf.WriteString("| Name | Size | Status |\n|---|---|---|\n")
	for _, d := range records {
		fmt.Fprintf(&buf, "| %s | %s | %s |\n", d.Name, shared.FormatBytes(d.SizeBytes), d.Status)
	}
	return buf.Bytes(), nil
}

// DirectoriesToText renders an aligned name and size listing.
func DirectoriesToText(records []models.DirectoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	width := 4
	var total int64
	for _, d := range records {
		width = max(width, len(d.Name))
		total += d.SizeBytes
	}
	for _, d := range records {
		fmt.Fprintf(&buf, "%-*s  %10s\n", width, d.Name, shared.FormatBytes(d.SizeBytes))
	}
	fmt.Fprintf(&buf, "%-*s  %10s\n", width, fmt.Sprintf("%d directories", len(records)), shared.FormatBytes(total))
	return buf.Bytes(), nil
}

// Directories renders records in format f.
func Directories(records []models.DirectoryRecord, f Format) ([]byte, error) {
	switch f {
	case JSON:
		return toJSON(records)
	case CSV:
		return DirectoriesToCSV(records)
	case Markdown:
		return DirectoriesToMarkdown(records)
	default:
		return DirectoriesToText(records)
	}
}

// StatusToText summarizes a status view for the terminal.
func StatusToText(v *models.SessionView) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "State: %s", v.State)
	if v.ForcedPause {
		buf.WriteString(" (paused after restart)")
	}
	if v.Scanning {
		buf.WriteString(" (scanning)")
	}
	buf.WriteString("\n")

	if v.Session == nil {
		buf.WriteString("No session. Run a scan or start a backup.\n")
		return buf.Bytes()
	}

	s := v.Session
	pct := 0.0
	if s.TotalSizeBytes > 0 {
		pct = float64(s.CompletedSizeBytes) / float64(s.TotalSizeBytes) * 100
	}
	fmt.Fprintf(&buf, "Session: %s\n", s.ID)
	fmt.Fprintf(&buf, "Progress: %s of %s (%.1f%%)\n", shared.FormatBytes(s.CompletedSizeBytes), shared.FormatBytes(s.TotalSizeBytes), pct)
	fmt.Fprintf(&buf, "Workers: %d busy, %d desired, %d queued\n", v.BusyWorkers(), v.DesiredWorkers, v.QueueLength)

	counts := make(map[models.DirectoryStatus]int)
	for _, d := range s.Directories {
		if d.Selected {
			counts[d.Status]++
		}
	}
	fmt.Fprintf(&buf, "Directories: %d completed, %d in progress, %d queued, %d pending, %d errors, %d skipped\n",
		counts[models.Completed], counts[models.InProgress], counts[models.Queued],
		counts[models.Pending], counts[models.Error], counts[models.Skipped])

	for _, d := range s.Directories {
		switch {
		case d.Status == models.InProgress:
			fmt.Fprintf(&buf, "  > %s  %.0f%%  %s/s  %s\n", d.Name, d.ProgressPercent, shared.FormatBytes(int64(d.RatePerSecond)), d.CurrentFile)
		case d.Status == models.Error:
			fmt.Fprintf(&buf, "  ! %s  %s\n", d.Name, d.LastErrorSummary)
		}
	}
	return buf.Bytes()
}

// WriteReport writes data to path, defaulting to bulkup_<name>.<ext>.
func WriteReport(data []byte, name string, f Format, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("bulkup_%s.%s", name, f.Ext())
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func toJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
