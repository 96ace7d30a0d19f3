package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/bulkup/internal/services"
	"github.com/desertthunder/bulkup/internal/shared"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	api        *services.APIService
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A non-nil Config is used as-is and the --config flag is ignored.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	API        *services.APIService
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		api:        opts.API,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, scanCommand, serveCommand, tuiCommand,
		statusCommand, startCommand, pauseCommand, stopCommand,
		selectCommand, retryCommand, orderCommand, rescanCommand,
		logsCommand, watchCommand, historyCommand, diskCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the runner's logger, e.g. to keep log output off a full-screen TUI.
func (r *Runner) SetLogger(l *log.Logger) { r.logger = l }

// loadConfig resolves the configuration once per run.
//
// A missing file at the default path falls back to [shared.DefaultConfig]; a missing file that was
// asked for explicitly, or one that fails to parse, is an error.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := r.configPath
	if path == "" {
		path = cmd.String("config")
	}

	var config *shared.Config
	if _, err := os.Stat(path); err == nil {
		if config, err = shared.LoadConfig(path); err != nil {
			return nil, err
		}
		r.logger.Debug("loaded config", "path", path)
	} else if errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config") {
		r.logger.Debug("config file not found, using defaults", "path", path)
		config = shared.DefaultConfig()
	} else {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrMissingConfig, path, err)
	}

	if config.Log.Level != "" {
		shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.Log.Level))
	}
	r.config = config
	r.configPath = path
	return config, nil
}

// client returns the API client for the server named by --server or the [server] config section.
func (r *Runner) client(cmd *cli.Command) (*services.APIService, error) {
	if r.api != nil {
		return r.api, nil
	}

	base := cmd.String("server")
	if base == "" {
		config, err := r.loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		base = config.Server.BaseURL()
	}
	r.api = services.NewAPIService(base, r.httpClient)
	return r.api, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
