package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/bulkup/internal/formatter"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/repositories"
	"github.com/desertthunder/bulkup/internal/services"
	"github.com/desertthunder/bulkup/internal/shared"
)

// Status prints the server's current session view.
//
// With --query only the selected gjson path of the raw status JSON is printed.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	api, err := r.client(cmd)
	if err != nil {
		return err
	}

	if q := cmd.String("query"); q != "" {
		resp, err := api.Get(ctx, "/api/status")
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
		}
		res := resp.JSON(q)
		if !res.Exists() {
			return fmt.Errorf("%w: no value at %q", shared.ErrInvalidFlag, q)
		}
		return r.writePlain("%s\n", res.String())
	}

	view, err := api.Status(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(view, true)
	}
	return r.writeBytes(formatter.StatusToText(view))
}

// Control returns the action for one of start, pause or stop.
func (r *Runner) Control(action string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		api, err := r.client(cmd)
		if err != nil {
			return err
		}
		r.logger.Debug("control", "action", action)
		view, err := api.Control(ctx, action)
		if err != nil {
			return err
		}
		return r.writePlain("%s: session is %s\n", action, view.State)
	}
}

// Select replaces the selection with the directory names given as arguments.
func (r *Runner) Select(ctx context.Context, cmd *cli.Command) error {
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	names := cmd.Args().Slice()
	if err := api.Select(ctx, names); err != nil {
		return err
	}
	if len(names) == 0 {
		return r.writePlain("selection cleared\n")
	}
	return r.writePlain("selected %d: %s\n", len(names), strings.Join(names, ", "))
}

// Retry re-queues the named directories.
func (r *Runner) Retry(ctx context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one directory name", shared.ErrMissingArgument)
	}
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	if err := api.Retry(ctx, names); err != nil {
		return err
	}
	return r.writePlain("retrying %s\n", strings.Join(names, ", "))
}

// Order changes the server's processing order.
func (r *Runner) Order(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("order")
	if name == "" {
		return fmt.Errorf("%w: order (name or size)", shared.ErrMissingArgument)
	}
	order, err := models.ParseOrder(name)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	if err := api.SetOrder(ctx, order); err != nil {
		return err
	}
	return r.writePlain("ordered by %s\n", order)
}

// Rescan asks the server for a fresh scan of the source root.
func (r *Runner) Rescan(ctx context.Context, cmd *cli.Command) error {
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	if err := api.Rescan(ctx); err != nil {
		return err
	}
	return r.writePlain("rescan started\n")
}

// Logs prints recent backup log entries, oldest first.
func (r *Runner) Logs(ctx context.Context, cmd *cli.Command) error {
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	entries, err := api.Logs(ctx, int(cmd.Int("limit")), cmd.String("session"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(entries, true)
	}
	for _, e := range entries {
		r.writeLogLine(e)
	}
	return nil
}

func (r *Runner) writeLogLine(e models.LogEntry) {
	prefix := ""
	if e.Directory != "" {
		prefix = e.Directory + ": "
	}
	r.writePlain("%s %-5s %s%s\n", e.At.Local().Format(time.TimeOnly), strings.ToUpper(e.Level), prefix, e.Message)
}

// Watch follows the event stream until interrupted.
//
// Directory, log and forced-pause events are printed as lines; snapshots and worker
// changes print a one-line summary. --json prints envelopes unchanged.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	raw := cmd.Bool("json")

	return api.Watch(ctx, func(ev services.Event) error {
		if raw {
			return r.writePlain("%s\n", ev.Data)
		}
		switch ev.Name {
		case "snapshot":
			return r.writePlain("[%s] %s  %s of %s\n",
				ev.Get("data.state").String(),
				ev.Get("data.session.id").String(),
				shared.FormatBytes(ev.Get("data.session.completed_size_bytes").Int()),
				shared.FormatBytes(ev.Get("data.session.total_size_bytes").Int()),
			)
		case "directory":
			line := fmt.Sprintf("%s %s", ev.Get("data.name").String(), ev.Get("data.status").String())
			if s := ev.Get("data.status").String(); s == "in_progress" {
				line += fmt.Sprintf(" %.0f%%", ev.Get("data.progress_percent").Float())
			} else if msg := ev.Get("data.last_error_summary").String(); msg != "" && s == "error" {
				line += ": " + msg
			}
			return r.writePlain("%s\n", line)
		case "log":
			var e models.LogEntry
			e.Level = ev.Get("data.level").String()
			e.Message = ev.Get("data.message").String()
			e.Directory = ev.Get("data.directory").String()
			e.At = ev.Get("data.at").Time()
			r.writeLogLine(e)
			return nil
		case "workers":
			busy := 0
			for _, w := range ev.Get("data").Array() {
				if s := w.Get("state").String(); s == "busy" || s == "draining" {
					busy++
				}
			}
			return r.writePlain("workers: %d busy of %d\n", busy, len(ev.Get("data").Array()))
		case "forced_pause":
			return r.writePlain("paused after restart: %s\n", ev.Get("reason").String())
		}
		return nil
	})
}

// History prints finished sessions from the server, or from the database with --local.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	limit := int(cmd.Int("limit"))

	var items []*models.SessionSummary
	if cmd.Bool("local") {
		config, err := r.loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := shared.OpenDatabase(config.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if items, err = repositories.NewHistoryRepository(db).List(limit); err != nil {
			return err
		}
	} else {
		api, err := r.client(cmd)
		if err != nil {
			return err
		}
		if items, err = api.History(ctx, limit); err != nil {
			return err
		}
	}

	data, err := formatter.History(items, format)
	if err != nil {
		return err
	}

	if out := cmd.String("output"); out != "" {
		if out == "-" {
			out = ""
		}
		path, err := formatter.WriteReport(data, "history", format, out)
		if err != nil {
			return err
		}
		r.logger.Info("history report written", "path", path, "sessions", len(items))
		return r.writePlain("✓ Report saved to %s\n", path)
	}
	return r.writeBytes(data)
}

// Disk prints source and destination usage and whether the destination is ready.
func (r *Runner) Disk(ctx context.Context, cmd *cli.Command) error {
	api, err := r.client(cmd)
	if err != nil {
		return err
	}
	rep, err := api.Disk(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(rep, true)
	}

	for _, u := range []struct {
		label string
		path  string
		avail bool
		used  uint64
		total uint64
		pct   float64
	}{
		{"source", rep.Source.Path, rep.Source.Available, rep.Source.Used, rep.Source.Total, rep.Source.UsedPercent},
		{"destination", rep.Destination.Path, rep.Destination.Available, rep.Destination.Used, rep.Destination.Total, rep.Destination.UsedPercent},
	} {
		if !u.avail {
			r.writePlain("%-12s %s (unavailable)\n", u.label, u.path)
			continue
		}
		r.writePlain("%-12s %s  %s of %s used (%.1f%%)\n", u.label, u.path,
			shared.FormatBytes(int64(u.used)), shared.FormatBytes(int64(u.total)), u.pct)
	}
	if rep.Readiness.Ready {
		return r.writePlain("destination ready\n")
	}
	return r.writePlain("destination not ready: %s\n", rep.Readiness.Reason)
}
