package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/bulkup/internal/formatter"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/scanner"
	"github.com/desertthunder/bulkup/internal/shared"
	"github.com/desertthunder/bulkup/internal/tasks"
)

// Setup creates the config file from the embedded template when missing, then initializes the database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.logger.Info("config file created", "path", configPath)
	}

	r.configPath = configPath
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", config.Database.Path)
	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	if version, err := tasks.CheckSyncTool(ctx, config.Backup.SyncTool); err != nil {
		r.logger.Warn("sync tool check failed; backups will fail until it is installed", "err", err)
	} else {
		r.logger.Info("sync tool found", "version", version)
	}

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	r.writePlain("✓ Config: %s\n", configPath)
	r.writePlain("✓ Database: %s\n", config.Database.Path)
	r.writePlain("Next: edit [backup] source_root and destination, then run 'bulkup serve' or 'bulkup tui'\n")
	return nil
}

// Scan walks the source root locally and prints what a new session would contain.
func (r *Runner) Scan(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	sc, err := scanner.New(config.Backup, r.logger)
	if err != nil {
		return err
	}

	r.logger.Info("scanning", "root", sc.Root)
	res, err := sc.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if o := cmd.String("order"); o != "" {
		order, err := models.ParseOrder(o)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
		}
		scanner.Sort(res.Records, order)
	}

	for _, w := range res.Warnings {
		r.logger.Warn("skipped during scan", "path", w.Path, "err", w.Err)
	}

	data, err := formatter.Directories(res.Records, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}
