// submodule cmd contains command definitions
package main

import (
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/bulkup/internal/formatter"
)

func formatFlag(value string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, csv, markdown or txt",
		Value:   value,
	}
}

// setupCommand writes a config file if none exists and prepares the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml and run database migrations",
		Action: r.Setup,
	}
}

// scanCommand previews the directories a session would contain without starting the engine.
func scanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List the top-level directories under the source root with their sizes",
		Flags: []cli.Flag{
			formatFlag(string(formatter.Text)),
			&cli.StringFlag{
				Name:  "order",
				Usage: "Sort order: name or size (default from config)",
			},
		},
		Action: r.Scan,
	}
}

// serveCommand runs the engine behind the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the backup engine and the status/control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default from [server] config)",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not reload the config file when it changes",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command that runs the engine in-process.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Run the backup engine with a live terminal monitor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write process logs while the TUI owns the screen",
				Value: "./tmp/bulkup-tui.log",
			},
		},
		Action: r.TUI,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the current session",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Print one field of the status JSON (gjson path, e.g. session.completed_size_bytes)",
			},
		},
		Action: r.Status,
	}
}

func startCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "start",
		Usage:  "Start or resume the backup",
		Action: r.Control("start"),
	}
}

func pauseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "pause",
		Usage:  "Pause the backup; running transfers finish",
		Action: r.Control("pause"),
	}
}

func stopCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "stop",
		Usage:  "Stop the backup and terminate running transfers",
		Action: r.Control("stop"),
	}
}

func selectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Replace the selection with the named directories (none clears it)",
		ArgsUsage: "[NAME...]",
		Action:    r.Select,
	}
}

func retryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Re-queue failed directories",
		ArgsUsage: "NAME...",
		Action:    r.Retry,
	}
}

func orderCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "order",
		Usage: "Change the processing order",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "order", UsageText: "name or size"},
		},
		Action: r.Order,
	}
}

func rescanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "rescan",
		Usage:  "Rescan the source root on the server (only while stopped)",
		Action: r.Rescan,
	}
}

func logsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show recent backup log entries",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of entries",
				Value:   50,
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Read persisted entries of this session id instead of the live buffer",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Logs,
	}
}

func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow status events as they happen",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print every event envelope as JSON",
			},
		},
		Action: r.Watch,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show finished sessions",
		Flags: []cli.Flag{
			formatFlag(string(formatter.Text)),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of sessions",
				Value:   20,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the report to a file (\"-\" picks a default name)",
			},
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Read the database directly instead of asking the server",
			},
		},
		Action: r.History,
	}
}

func diskCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "disk",
		Usage: "Show source and destination disk usage and destination readiness",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Disk,
	}
}
