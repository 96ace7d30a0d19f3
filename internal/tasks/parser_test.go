package tasks

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestParserProgress(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Progress
	}{
		{
			name: "full line",
			line: "  1,234,567  45%   12.50MB/s    0:01:23 (xfr#12, to-chk=3/40)",
			want: Progress{Bytes: 1234567, Percent: 45, Rate: 12.5 * (1 << 20), ETA: 83 * time.Second, Xfr: 12, ToCheck: 3, Total: 40},
		},
		{
			name: "incremental recursion",
			line: "        32,768   0%    1.00kB/s    0:00:10 (xfr#1, ir-chk=1000/2000)",
			want: Progress{Bytes: 32768, Percent: 0, Rate: 1024, ETA: 10 * time.Second, Xfr: 1, ToCheck: 1000, Total: 2000},
		},
		{
			name: "no check counts",
			line: "  100 100%  10.00B/s  0:00:00",
			want: Progress{Bytes: 100, Percent: 100, Rate: 10},
		},
		{
			name: "hour clock",
			line: "  5 1%  1.00GB/s  1:02:03",
			want: Progress{Bytes: 5, Percent: 1, Rate: 1 << 30, ETA: time.Hour + 2*time.Minute + 3*time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Parser{}
			if kind := p.Feed(tt.line); kind != LineProgress {
				t.Fatalf("expected LineProgress, got %d", kind)
			}
			if p.Progress != tt.want {
				t.Errorf("got %+v, want %+v", p.Progress, tt.want)
			}
		})
	}
}

func TestParserKeepsCheckCounts(t *testing.T) {
	p := &Parser{}
	p.Feed("  10  1%  1.00MB/s  0:00:05 (xfr#2, to-chk=8/10)")
	p.Feed("  20  2%  1.00MB/s  0:00:04")
	if p.Progress.Xfr != 2 || p.Progress.Total != 10 {
		t.Errorf("expected counts carried over, got %+v", p.Progress)
	}
}

func TestParserItems(t *testing.T) {
	p := &Parser{}

	lines := []struct {
		line string
		kind LineKind
	}{
		{"cd+++++++++ photos/", LineItem},
		{">f+++++++++ photos/beach.jpg", LineItem},
		{".d..t...... photos/", LineItem},
		{">f.st...... notes with spaces.txt", LineItem},
		{"*deleting old.txt", LineItem},
		{"sending incremental file list", LineUnknown},
		{"rsync: [sender] send_files failed to open \"x\": Permission denied (13)", LineUnknown},
		{"", LineBlank},
	}

	for _, l := range lines {
		if got := p.Feed(l.line); got != l.kind {
			t.Errorf("Feed(%q) = %d, want %d", l.line, got, l.kind)
		}
	}

	if p.CurrentFile != "notes with spaces.txt" {
		t.Errorf("unexpected current file %q", p.CurrentFile)
	}
	if p.Items != 5 {
		t.Errorf("expected 5 items, got %d", p.Items)
	}
}

func TestParserStats(t *testing.T) {
	out := `Number of files: 1,234 (reg: 1,000, dir: 234)
Number of created files: 12
Number of deleted files: 0
Number of regular files transferred: 10
Total file size: 9,876,543 bytes
Total transferred file size: 123,456 bytes
Literal data: 123,456 bytes
Total bytes sent: 130,000
Total bytes received: 250
sent 130,000 bytes  received 250 bytes  86,833.33 bytes/sec
total size is 9,876,543  speedup is 75.83`

	p := &Parser{}
	for _, line := range strings.Split(out, "\n") {
		if kind := p.Feed(line); kind != LineStats {
			t.Errorf("Feed(%q) = %d, want LineStats", line, kind)
		}
	}

	want := Stats{
		Files:            1234,
		CreatedFiles:     12,
		FilesTransferred: 10,
		TotalSize:        9876543,
		TransferredSize:  123456,
		BytesSent:        130000,
		BytesReceived:    250,
	}
	if p.Stats != want {
		t.Errorf("got %+v, want %+v", p.Stats, want)
	}
}

func readRecords(t *testing.T, input string) []string {
	t.Helper()
	rr := newRecordReader(strings.NewReader(input))
	var got []string
	for {
		rec, overlong, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return got
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if overlong {
			rec = "<overlong>"
		}
		got = append(got, rec)
	}
}

func TestRecordReader(t *testing.T) {
	long := strings.Repeat("x", maxLineBytes+10)

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "carriage returns and newlines",
			input: "first\r  10  1%\r  20  2%\nsecond\n\nlast",
			want:  []string{"first", "  10  1%", "  20  2%", "second", "", "last"},
		},
		{
			name:  "overlong record is skipped",
			input: "before\n" + long + "\r  50  50%\nafter\n",
			want:  []string{"before", "<overlong>", "  50  50%", "after"},
		},
		{
			name:  "overlong record at end of input",
			input: "before\n" + long,
			want:  []string{"before", "<overlong>"},
		},
		{
			name:  "record at the limit is kept",
			input: strings.Repeat("y", maxLineBytes) + "\nnext",
			want:  []string{strings.Repeat("y", maxLineBytes), "next"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readRecords(t, tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("record %d: got %.20q, want %.20q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExitSummary(t *testing.T) {
	tests := []struct {
		code int
		last string
		want string
	}{
		{23, "rsync error: some files/attrs were not transferred", "exit code 23: partial transfer due to error (rsync error: some files/attrs were not transferred)"},
		{24, "", "exit code 24: partial transfer due to vanished source files"},
		{99, "", "exit code 99: unknown error"},
	}
	for _, tt := range tests {
		if got := exitSummary(tt.code, tt.last); got != tt.want {
			t.Errorf("exitSummary(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, 100},
		{1<<20 - 1, 100},
		{1 << 20, 80},
		{100<<20 - 1, 80},
		{100 << 20, 60},
		{1 << 30, 40},
	}
	for _, tt := range tests {
		if got := Priority(tt.size); got != tt.want {
			t.Errorf("Priority(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}
