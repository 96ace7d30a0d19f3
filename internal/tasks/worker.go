package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

const (
	outputRingSize   = 100
	diagnosticLines  = 20
	rateSampleWindow = 10
)

// Runner transfers one task. Run blocks until the transfer ends and returns its terminal event.
//
// emit receives progress events from the calling goroutine only.
type Runner interface {
	Run(ctx context.Context, task Task, sig *Signal, emit func(Event)) Event
}

// WorkerOpts configures the sync tool invocation.
type WorkerOpts struct {
	Tool             string
	Excludes         []string
	Delete           bool
	ExtraArgs        []string
	ProgressInterval time.Duration
	Logger           *log.Logger
}

// Worker runs rsync as a child process and streams its output through a [Parser].
type Worker struct {
	tool             string
	excludes         []string
	delete           bool
	extraArgs        []string
	progressInterval time.Duration
	logger           *log.Logger
}

// NewWorker creates a worker from opts, defaulting the tool to rsync.
func NewWorker(opts WorkerOpts) *Worker {
	if opts.Tool == "" {
		opts.Tool = "rsync"
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Worker{
		tool:             opts.Tool,
		excludes:         opts.Excludes,
		delete:           opts.Delete,
		extraArgs:        opts.ExtraArgs,
		progressInterval: opts.ProgressInterval,
		logger:           shared.WithLogger(opts.Logger, "component", "worker"),
	}
}

// Args builds the sync tool argument list for t.
func (w *Worker) Args(t Task) []string {
	args := []string{
		"-a", "--no-perms", "--no-owner", "--no-group",
		"--info=progress2,stats2,flist2", "--stats", "--itemize-changes", "--update",
	}
	if w.delete {
		args = append(args, "--delete")
	}
	for _, p := range w.excludes {
		args = append(args, "--exclude="+p)
	}
	args = append(args, w.extraArgs...)
	return append(args, withSlash(t.Source), withSlash(t.Destination))
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// Run executes the transfer.
//
// A Terminate on sig, or ctx ending, sends SIGTERM to the child's process group; Kill sends SIGKILL.
// Partial output at the destination is left in place.
func (w *Worker) Run(ctx context.Context, t Task, sig *Signal, emit func(Event)) Event {
	logger := w.logger.With("directory", t.Name, "attempt", t.Attempt)
	parser := &Parser{}
	ring := shared.NewRing[string](outputRingSize)

	if err := os.MkdirAll(t.Destination, 0o755); err != nil {
		return errorEvent(t, parser, -1, fmt.Sprintf("failed to create destination: %v", err), nil)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return errorEvent(t, parser, -1, fmt.Sprintf("failed to create output pipe: %v", err), nil)
	}

	cmd := exec.Command(w.tool, w.Args(t)...)
	cmd.Stdin = nil
	cmd.Stdout = pw
	cmd.Stderr = pw
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		summary := fmt.Sprintf("failed to start %s: %v", w.tool, err)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			summary = fmt.Sprintf("%v: %s", shared.ErrSyncToolMissing, w.tool)
		}
		return errorEvent(t, parser, -1, summary, nil)
	}
	pw.Close()
	logger.Debug("transfer started", "pid", cmd.Process.Pid)

	done := make(chan struct{})
	go w.watch(ctx, cmd, sig, done, logger)

	w.stream(pr, t, parser, ring, emit)
	pr.Close()

	waitErr := cmd.Wait()
	close(done)

	switch {
	case waitErr == nil:
		logger.Info("transfer completed", "bytes", parser.Progress.Bytes)
		return completedEvent(t, parser)
	case sig.Terminated():
		logger.Info("transfer cancelled")
		return cancelledEvent(t, parser)
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	diag := ring.Last(diagnosticLines)
	last := ""
	if len(diag) > 0 {
		last = diag[len(diag)-1]
	}
	summary := exitSummary(code, last)
	logger.Warn("transfer failed", "code", code, "summary", summary)
	return errorEvent(t, parser, code, summary, diag)
}

// watch forwards stop requests to the process group until done is closed.
func (w *Worker) watch(ctx context.Context, cmd *exec.Cmd, sig *Signal, done <-chan struct{}, logger *log.Logger) {
	term, kill, ctxDone := sig.TermC(), sig.KillC(), ctx.Done()
	for {
		select {
		case <-done:
			return
		case <-ctxDone:
			ctxDone = nil
			sig.Terminate()
		case <-term:
			term = nil
			if err := terminateGroup(cmd); err != nil {
				logger.Debug("terminate failed", "err", err)
			}
		case <-kill:
			if err := killGroup(cmd); err != nil {
				logger.Debug("kill failed", "err", err)
			}
			return
		}
	}
}

// stream consumes output records until EOF, emitting debounced progress.
func (w *Worker) stream(r io.Reader, t Task, parser *Parser, ring *shared.Ring[string], emit func(Event)) {
	limiter := rate.NewLimiter(rate.Every(w.progressInterval), 1)
	samples := shared.NewRing[models.ProgressSample](rateSampleWindow)
	lastPercent := -1

	records := newRecordReader(r)
	for {
		line, overlong, err := records.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				ring.Push(fmt.Sprintf("output read error: %v", err))
				io.Copy(io.Discard, r)
			}
			return
		}
		if overlong {
			ring.Push(fmt.Sprintf("output record exceeded %d bytes, discarded", maxLineBytes))
			continue
		}

		switch parser.Feed(line) {
		case LineProgress:
			samples.Push(models.ProgressSample{At: time.Now(), Rate: parser.Progress.Rate})
			if parser.Progress.Percent != lastPercent || limiter.Allow() {
				lastPercent = parser.Progress.Percent
				emit(progressEvent(t, parser, smoothedRate(samples.Items())))
			}
		case LineUnknown:
			ring.Push(strings.TrimSpace(line))
		}
	}
}

func smoothedRate(samples []models.ProgressSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Rate
	}
	return sum / float64(len(samples))
}

// CheckSyncTool runs "tool --version" and returns the first output line.
func CheckSyncTool(ctx context.Context, tool string) (string, error) {
	out, err := exec.CommandContext(ctx, tool, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", shared.ErrSyncToolMissing, tool, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
