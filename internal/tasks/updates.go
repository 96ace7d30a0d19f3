package tasks

import (
	"fmt"
	"time"
)

// Task is one directory bound for transfer.
type Task struct {
	Name        string
	Source      string
	Destination string
	Size        int64
	Priority    int
	Index       int // position in the current display order
	Attempt     int
}

// Priority ranks small directories first so quick wins land early.
func Priority(size int64) int {
	switch {
	case size < 1<<20:
		return 100
	case size < 100<<20:
		return 80
	case size < 1<<30:
		return 60
	default:
		return 40
	}
}

// EventKind enumerates worker lifecycle events.
type EventKind int

const (
	EventDispatched EventKind = iota
	EventProgress
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventDispatched:
		return "dispatched"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	default:
		return ""
	}
}

// Outcome is the result of a finished transfer.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return ""
	}
}

// Event is posted by the pool and its workers to the owner of the session.
type Event struct {
	Kind        EventKind
	Directory   string
	Slot        int
	Attempt     int
	Progress    Progress
	CurrentFile string
	Files       int
	Outcome     Outcome
	Summary     string   // empty unless Outcome is OutcomeError
	Diagnostics []string // last output lines on error
	ExitCode    int
	Stats       Stats
	At          time.Time
}

func dispatchedEvent(slot int, t Task) Event {
	return Event{
		Kind:      EventDispatched,
		Directory: t.Name,
		Slot:      slot,
		Attempt:   t.Attempt,
		At:        time.Now(),
	}
}

func progressEvent(t Task, p *Parser, rate float64) Event {
	pr := p.Progress
	pr.Rate = rate
	return Event{
		Kind:        EventProgress,
		Directory:   t.Name,
		Attempt:     t.Attempt,
		Progress:    pr,
		CurrentFile: p.CurrentFile,
		Files:       max(pr.Xfr, p.Items),
		At:          time.Now(),
	}
}

func completedEvent(t Task, p *Parser) Event {
	return Event{
		Kind:      EventFinished,
		Directory: t.Name,
		Attempt:   t.Attempt,
		Outcome:   OutcomeCompleted,
		Progress:  Progress{Bytes: max(t.Size, p.Progress.Bytes), Percent: 100, Xfr: p.Progress.Xfr},
		Files:     max(p.Stats.FilesTransferred, p.Progress.Xfr, p.Items),
		Stats:     p.Stats,
		At:        time.Now(),
	}
}

func cancelledEvent(t Task, p *Parser) Event {
	return Event{
		Kind:      EventFinished,
		Directory: t.Name,
		Attempt:   t.Attempt,
		Outcome:   OutcomeCancelled,
		Progress:  p.Progress,
		At:        time.Now(),
	}
}

func errorEvent(t Task, p *Parser, code int, summary string, diagnostics []string) Event {
	return Event{
		Kind:        EventFinished,
		Directory:   t.Name,
		Attempt:     t.Attempt,
		Outcome:     OutcomeError,
		Progress:    p.Progress,
		Summary:     summary,
		Diagnostics: diagnostics,
		ExitCode:    code,
		Stats:       p.Stats,
		At:          time.Now(),
	}
}

// rsyncExitCodes names the documented rsync exit statuses.
var rsyncExitCodes = map[int]string{
	1:  "syntax or usage error",
	2:  "protocol incompatibility",
	3:  "errors selecting input/output files, dirs",
	4:  "requested action not supported",
	5:  "error starting client-server protocol",
	6:  "daemon unable to append to log-file",
	10: "error in socket I/O",
	11: "error in file I/O",
	12: "error in rsync protocol data stream",
	13: "errors with program diagnostics",
	14: "error in IPC code",
	20: "received SIGUSR1 or SIGINT",
	21: "some error returned by waitpid()",
	22: "error allocating core memory buffers",
	23: "partial transfer due to error",
	24: "partial transfer due to vanished source files",
	25: "the --max-delete limit stopped deletions",
	30: "timeout in data send/receive",
	35: "timeout waiting for daemon connection",
}

// exitSummary renders a one-line description of a failed run.
func exitSummary(code int, lastLine string) string {
	desc, ok := rsyncExitCodes[code]
	if !ok {
		desc = "unknown error"
	}
	s := fmt.Sprintf("exit code %d: %s", code, desc)
	if lastLine != "" {
		s += " (" + lastLine + ")"
	}
	return s
}
