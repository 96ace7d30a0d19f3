package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/bulkup/internal/backup"
	"github.com/desertthunder/bulkup/internal/monitor"
	"github.com/desertthunder/bulkup/internal/mount"
	"github.com/desertthunder/bulkup/internal/repositories"
	"github.com/desertthunder/bulkup/internal/server"
	"github.com/desertthunder/bulkup/internal/shared"
	"github.com/desertthunder/bulkup/internal/tasks"
)

// engine bundles the backup manager with the resources it was built from.
type engine struct {
	manager *backup.Manager
	store   *repositories.Store
	checker *mount.Checker
	db      *sql.DB
}

// openEngine opens the database, builds the manager and restores the latest session.
func openEngine(ctx context.Context, config *shared.Config, logger *log.Logger) (*engine, error) {
	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if version, err := tasks.CheckSyncTool(ctx, config.Backup.SyncTool); err != nil {
		logger.Warn("sync tool check failed", "err", err)
	} else {
		logger.Debug("sync tool", "version", version)
	}

	store := repositories.NewStore(db)
	store.LogRetention = config.Log.Retention
	checker := mount.NewChecker(config.Mount, logger)
	mon := monitor.New(
		monitor.NewHostSampler(ctx),
		monitor.LimitsFromConfig(config.Workers),
		config.Workers.SampleInterval,
		logger,
	)

	mgr, err := backup.New(backup.Options{
		Config:  config,
		Store:   store,
		Checker: checker,
		Monitor: mon,
		Logger:  logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := mgr.Restore(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &engine{manager: mgr, store: store, checker: checker, db: db}, nil
}

func (e *engine) Close() error { return e.db.Close() }

// watchConfig forwards valid config file changes to the manager until ctx ends.
func (r *Runner) watchConfig(ctx context.Context, mgr *backup.Manager) error {
	if r.configPath == "" {
		return nil
	}
	err := shared.WatchConfig(ctx, r.configPath, r.logger, func(c *shared.Config) {
		if err := mgr.Reconfigure(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("failed to apply config change", "err", err)
		}
	})
	if err != nil {
		r.logger.Warn("config watch disabled", "err", err)
	}
	return nil
}

// Serve runs the engine, the HTTP API and the config watcher until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	if config.Log.File != "" {
		fileLogger, err := shared.NewFileLogger(config.Log.File)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		shared.SetLogLevel(fileLogger, shared.ParseLogLevel(config.Log.Level))
		r.SetLogger(fileLogger)
	}

	eng, err := openEngine(ctx, config, r.logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = config.Server.Addr()
	}

	srv := server.New(server.Options{
		Controller: eng.manager,
		History:    eng.store.History,
		Logs:       eng.store.Logs,
		Disk:       eng.checker,
		Logger:     r.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.manager.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	if !cmd.Bool("no-watch") {
		g.Go(func() error { return r.watchConfig(gctx, eng.manager) })
	}

	r.logger.Info("bulkup serving", "addr", addr, "source", eng.manager.SourceRoot(), "destination", eng.manager.Destination())
	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info("bulkup stopped")
	return nil
}
