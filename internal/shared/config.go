package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML (or YAML) file.
type Config struct {
	Backup    BackupConfig    `toml:"backup" yaml:"backup"`
	Workers   WorkersConfig   `toml:"workers" yaml:"workers"`
	Retry     RetryConfig     `toml:"retry" yaml:"retry"`
	Timeouts  TimeoutsConfig  `toml:"timeouts" yaml:"timeouts"`
	Broadcast BroadcastConfig `toml:"broadcast" yaml:"broadcast"`
	Database  DatabaseConfig  `toml:"database" yaml:"database"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Mount     MountConfig     `toml:"mount" yaml:"mount"`
}

// BackupConfig describes what gets copied where and how the sync tool is invoked.
type BackupConfig struct {
	SourceRoot  string   `toml:"source_root" yaml:"source_root"`
	Destination string   `toml:"destination" yaml:"destination"`
	Exclude     []string `toml:"exclude" yaml:"exclude"`
	Order       string   `toml:"order" yaml:"order"`
	SyncTool    string   `toml:"sync_tool" yaml:"sync_tool"`
	Delete      bool     `toml:"delete" yaml:"delete"`
	ExtraArgs   []string `toml:"extra_args" yaml:"extra_args"`
}

// WorkersConfig contains worker pool bounds and resource-based sizing inputs.
type WorkersConfig struct {
	Min               int           `toml:"min" yaml:"min"`
	Max               int           `toml:"max" yaml:"max"`
	UtilizationTarget float64       `toml:"utilization_target" yaml:"utilization_target"`
	MemoryFloorMB     int           `toml:"memory_floor_mb" yaml:"memory_floor_mb"`
	MemoryPerWorkerMB int           `toml:"memory_per_worker_mb" yaml:"memory_per_worker_mb"`
	MaxLoadPerCore    float64       `toml:"max_load_per_core" yaml:"max_load_per_core"`
	SampleInterval    time.Duration `toml:"sample_interval" yaml:"sample_interval"`
	Hysteresis        int           `toml:"hysteresis" yaml:"hysteresis"`
}

// RetryConfig bounds directory retries and session checkpoint retries.
//
// MaxAttempts of 0 means unlimited attempts per directory.
type RetryConfig struct {
	MaxAttempts     int           `toml:"max_attempts" yaml:"max_attempts"`
	PersistAttempts int           `toml:"persist_attempts" yaml:"persist_attempts"`
	PersistBackoff  time.Duration `toml:"persist_backoff" yaml:"persist_backoff"`
}

// TimeoutsConfig contains engine timing knobs.
type TimeoutsConfig struct {
	StopGrace          time.Duration `toml:"stop_grace" yaml:"stop_grace"`
	ProgressInterval   time.Duration `toml:"progress_interval" yaml:"progress_interval"`
	CheckpointInterval time.Duration `toml:"checkpoint_interval" yaml:"checkpoint_interval"`
}

// BroadcastConfig sizes per-subscriber status queues.
type BroadcastConfig struct {
	QueueSize int `toml:"queue_size" yaml:"queue_size"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" yaml:"path"`
	MaxOpenConns int    `toml:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns" yaml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL returns the http URL clients use to reach the server.
func (s ServerConfig) BaseURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// LogConfig contains process log settings and the in-memory backup log size.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	BufferSize int    `toml:"buffer_size" yaml:"buffer_size"`
	Retention  int    `toml:"retention" yaml:"retention"`
}

// MountConfig controls the destination readiness check.
type MountConfig struct {
	RequireMountpoint bool `toml:"require_mountpoint" yaml:"require_mountpoint"`
}

// LoadConfig reads and parses a configuration file from the specified path.
//
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
// Fields missing from the file keep the values from [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports the first invalid setting, wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	switch {
	case c.Workers.Min < 1:
		return fmt.Errorf("%w: workers.min must be at least 1", ErrInvalidConfig)
	case c.Workers.Max < c.Workers.Min:
		return fmt.Errorf("%w: workers.max (%d) is below workers.min (%d)", ErrInvalidConfig, c.Workers.Max, c.Workers.Min)
	case c.Workers.UtilizationTarget <= 0 || c.Workers.UtilizationTarget > 1:
		return fmt.Errorf("%w: workers.utilization_target must be in (0, 1]", ErrInvalidConfig)
	case c.Workers.MaxLoadPerCore < 0:
		return fmt.Errorf("%w: workers.max_load_per_core cannot be negative", ErrInvalidConfig)
	case c.Workers.Hysteresis < 1:
		return fmt.Errorf("%w: workers.hysteresis must be at least 1", ErrInvalidConfig)
	case c.Retry.MaxAttempts < 0:
		return fmt.Errorf("%w: retry.max_attempts cannot be negative", ErrInvalidConfig)
	case c.Retry.PersistAttempts < 1:
		return fmt.Errorf("%w: retry.persist_attempts must be at least 1", ErrInvalidConfig)
	case c.Log.Retention < 0:
		return fmt.Errorf("%w: log.retention cannot be negative", ErrInvalidConfig)
	case c.Broadcast.QueueSize < 1:
		return fmt.Errorf("%w: broadcast.queue_size must be at least 1", ErrInvalidConfig)
	case c.Backup.Order != "" && c.Backup.Order != "name" && c.Backup.Order != "size":
		return fmt.Errorf("%w: backup.order must be name or size, got %q", ErrInvalidConfig, c.Backup.Order)
	case c.Backup.SyncTool == "":
		return fmt.Errorf("%w: backup.sync_tool is required", ErrInvalidConfig)
	}
	return nil
}
