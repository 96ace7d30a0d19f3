package tasks

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

// LineKind classifies one line of sync tool output.
type LineKind int

const (
	LineUnknown LineKind = iota
	LineBlank
	LineProgress
	LineItem
	LineStats
)

// Progress is the state reported by the last progress2 line.
type Progress struct {
	Bytes   int64
	Percent int
	Rate    float64 // bytes per second
	ETA     time.Duration
	Xfr     int
	ToCheck int
	Total   int
}

// Stats is the end-of-run summary printed by --stats.
type Stats struct {
	Files            int
	CreatedFiles     int
	FilesTransferred int
	TotalSize        int64
	TransferredSize  int64
	BytesSent        int64
	BytesReceived    int64
}

// Parser interprets rsync output produced with --info=progress2 --itemize-changes --stats.
//
// A Parser holds the state of a single run and is not safe for concurrent use.
type Parser struct {
	Progress    Progress
	Stats       Stats
	CurrentFile string
	Items       int
}

// Feed consumes one line and reports what kind it was.
func (p *Parser) Feed(line string) LineKind {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return LineBlank
	}
	if p.parseProgress(trimmed) {
		return LineProgress
	}
	if p.parseItem(line) {
		return LineItem
	}
	if p.parseStats(trimmed) {
		return LineStats
	}
	return LineUnknown
}

// parseProgress matches "  1,234,567  45%  12.34MB/s  0:01:23 (xfr#12, to-chk=3/40)".
func (p *Parser) parseProgress(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 4 || !strings.HasSuffix(fields[1], "%") || !strings.HasSuffix(fields[2], "/s") {
		return false
	}

	n, ok := parseCount(fields[0])
	if !ok {
		return false
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(fields[1], "%"))
	if err != nil {
		return false
	}

	next := Progress{Bytes: n, Percent: min(max(pct, 0), 100), Xfr: p.Progress.Xfr, ToCheck: p.Progress.ToCheck, Total: p.Progress.Total}
	next.Rate, _ = parseRate(fields[2])
	next.ETA, _ = parseClock(fields[3])

	if len(fields) > 4 {
		p.parseCheckCounts(strings.Join(fields[4:], " "), &next)
	}
	p.Progress = next
	return true
}

// parseCheckCounts reads "(xfr#12, to-chk=3/40)" or the ir-chk variant.
func (p *Parser) parseCheckCounts(s string, pr *Progress) {
	s = strings.Trim(s, "()")
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "xfr#"):
			if v, err := strconv.Atoi(strings.TrimPrefix(part, "xfr#")); err == nil {
				pr.Xfr = v
			}
		case strings.HasPrefix(part, "to-chk="), strings.HasPrefix(part, "ir-chk="):
			_, frac, _ := strings.Cut(part, "=")
			a, b, ok := strings.Cut(frac, "/")
			if !ok {
				continue
			}
			if v, err := strconv.Atoi(a); err == nil {
				pr.ToCheck = v
			}
			if v, err := strconv.Atoi(b); err == nil {
				pr.Total = v
			}
		}
	}
}

// parseItem matches itemize lines such as ">f+++++++++ docs/a.txt" and "*deleting old.txt".
func (p *Parser) parseItem(line string) bool {
	if strings.HasPrefix(line, "*deleting ") {
		p.Items++
		return true
	}
	if len(line) < 13 || line[11] != ' ' {
		return false
	}
	if !strings.ContainsRune("<>ch.", rune(line[0])) || !strings.ContainsRune("fdLDS", rune(line[1])) {
		return false
	}

	p.Items++
	if line[1] == 'f' && (line[0] == '>' || line[0] == '<') {
		p.CurrentFile = strings.TrimSpace(line[12:])
	}
	return true
}

func (p *Parser) parseStats(line string) bool {
	key, value, ok := strings.Cut(line, ":")
	if ok {
		n, _ := parseCount(firstField(value))
		switch key {
		case "Number of files":
			p.Stats.Files = int(n)
		case "Number of created files":
			p.Stats.CreatedFiles = int(n)
		case "Number of regular files transferred":
			p.Stats.FilesTransferred = int(n)
		case "Total file size":
			p.Stats.TotalSize = n
		case "Total transferred file size":
			p.Stats.TransferredSize = n
		case "Total bytes sent":
			p.Stats.BytesSent = n
		case "Total bytes received":
			p.Stats.BytesReceived = n
		case "Number of deleted files", "Literal data", "Matched data", "File list size",
			"File list generation time", "File list transfer time", "Total bytes written", "Total bytes read":
		default:
			return false
		}
		return true
	}

	// "sent 1,234 bytes  received 56 bytes  2,580.00 bytes/sec"
	if strings.HasPrefix(line, "sent ") && strings.Contains(line, " received ") {
		f := strings.Fields(line)
		if len(f) >= 5 {
			p.Stats.BytesSent, _ = parseCount(f[1])
			p.Stats.BytesReceived, _ = parseCount(f[4])
		}
		return true
	}
	return strings.HasPrefix(line, "total size is ")
}

// parseRate converts "12.34MB/s" to bytes per second.
func parseRate(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	units := []struct {
		suffix string
		mult   float64
	}{
		{"GB/s", 1 << 30},
		{"MB/s", 1 << 20},
		{"kB/s", 1 << 10},
		{"KB/s", 1 << 10},
		{"B/s", 1},
	}
	for _, u := range units {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, false
			}
			return v * u.mult, true
		}
	}
	return 0, false
}

// parseClock reads "h:mm:ss" or "m:ss".
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total time.Duration
	for _, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, false
		}
		total = total*60 + time.Duration(v)
	}
	return total * time.Second, true
}

// parseCount reads an integer that may contain thousands separators.
func parseCount(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return v, err == nil
}

func firstField(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// maxLineBytes bounds a single output record.
const maxLineBytes = 1 << 20

// recordReader splits output on both '\r' and '\n', since progress redraws end in '\r'.
//
// A record longer than maxLineBytes is read through to its separator and reported as overlong
// with no text; reading continues with the next record.
type recordReader struct {
	r *bufio.Reader
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record without its separator. err is [io.EOF] once the input is exhausted.
func (rr *recordReader) Next() (rec string, overlong bool, err error) {
	var line []byte
	for {
		n := rr.r.Buffered()
		if n == 0 {
			if _, err := rr.r.Peek(1); err != nil {
				if len(line) > 0 || overlong {
					return string(line), overlong, nil
				}
				return "", false, err
			}
			n = rr.r.Buffered()
		}

		buf, _ := rr.r.Peek(n)
		end := bytes.IndexAny(buf, "\r\n")
		take := end
		if end < 0 {
			take = n
		}
		if !overlong {
			if len(line)+take > maxLineBytes {
				overlong = true
				line = nil
			} else {
				line = append(line, buf[:take]...)
			}
		}

		if end >= 0 {
			rr.r.Discard(end + 1)
			return string(line), overlong, nil
		}
		rr.r.Discard(n)
	}
}
