package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/bulkup/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	app := newApp(runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		stop()
		logger.Fatalf("application error: %v", err)
	}
}

// newApp builds the root command around r.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "bulkup",
		Usage:   "Back up top-level directories to a mounted destination with rsync",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (.toml, .yaml or .yml)",
				Value:   "config.toml",
				Sources: cli.EnvVars("BULKUP_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of a running bulkup server (default from [server] config)",
				Sources: cli.EnvVars("BULKUP_SERVER"),
			},
		},
		Commands: r.register(),
	}
}
