package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/bulkup/internal/shared"
	"github.com/desertthunder/bulkup/internal/ui"
)

// TUI runs the engine in-process and attaches the live monitor to it.
//
// Quitting the monitor shuts the engine down; the session is saved and resumes paused next time.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(config.Log.Level))
	r.SetLogger(fileLogger)

	eng, err := openEngine(ctx, config, r.logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return eng.manager.Run(gctx) })
	g.Go(func() error { return r.watchConfig(gctx, eng.manager) })

	model := ui.NewModel(gctx, eng.manager)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
	_, perr := p.Run()
	killed := gctx.Err() != nil

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if perr != nil && !killed {
		return fmt.Errorf("error running TUI: %w", perr)
	}
	return nil
}
