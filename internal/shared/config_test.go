package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./bulkup.db" {
			t.Errorf("expected database path ./bulkup.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 8888 {
			t.Errorf("expected server port 8888, got %d", config.Server.Port)
		}
		if config.Workers.SampleInterval != 5*time.Second {
			t.Errorf("expected sample interval 5s, got %v", config.Workers.SampleInterval)
		}
		if config.Workers.Hysteresis != 2 {
			t.Errorf("expected hysteresis 2, got %d", config.Workers.Hysteresis)
		}
		if config.Workers.MaxLoadPerCore != 0.8 {
			t.Errorf("expected max load per core 0.8, got %v", config.Workers.MaxLoadPerCore)
		}
		if config.Log.Retention != 10000 {
			t.Errorf("expected log retention 10000, got %d", config.Log.Retention)
		}
		if config.Log.BufferSize != 1000 {
			t.Errorf("expected log buffer 1000, got %d", config.Log.BufferSize)
		}
		if config.Backup.Delete {
			t.Error("delete must be off by default")
		}
		if len(config.Backup.Exclude) != 12 {
			t.Errorf("expected 12 default excludes, got %d", len(config.Backup.Exclude))
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[backup]
source_root = "/home/alice"
destination = "/mnt/usb"
order = "size"

[workers]
min = 2
max = 4

[retry]
max_attempts = 5

[timeouts]
stop_grace = "10s"

[server]
port = 9000
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Backup.SourceRoot != "/home/alice" {
			t.Errorf("expected source root /home/alice, got %s", config.Backup.SourceRoot)
		}
		if config.Backup.Order != "size" {
			t.Errorf("expected order size, got %s", config.Backup.Order)
		}
		if config.Workers.Min != 2 || config.Workers.Max != 4 {
			t.Errorf("expected workers 2..4, got %d..%d", config.Workers.Min, config.Workers.Max)
		}
		if config.Retry.MaxAttempts != 5 {
			t.Errorf("expected max attempts 5, got %d", config.Retry.MaxAttempts)
		}
		if config.Timeouts.StopGrace != 10*time.Second {
			t.Errorf("expected stop grace 10s, got %v", config.Timeouts.StopGrace)
		}
		if config.Server.Port != 9000 {
			t.Errorf("expected port 9000, got %d", config.Server.Port)
		}
		if config.Backup.SyncTool != "rsync" {
			t.Errorf("unset fields should keep defaults, got sync tool %q", config.Backup.SyncTool)
		}
	})

	t.Run("LoadConfig YAML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		testConfig := `backup:
  destination: /srv/backup
workers:
  max: 3
timeouts:
  progress_interval: 250ms
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if config.Backup.Destination != "/srv/backup" {
			t.Errorf("expected destination /srv/backup, got %s", config.Backup.Destination)
		}
		if config.Workers.Max != 3 {
			t.Errorf("expected max workers 3, got %d", config.Workers.Max)
		}
		if config.Timeouts.ProgressInterval != 250*time.Millisecond {
			t.Errorf("expected progress interval 250ms, got %v", config.Timeouts.ProgressInterval)
		}
	})

	t.Run("LoadConfig Errors", func(t *testing.T) {
		if _, err := LoadConfig("/nonexistent/config.toml"); err == nil {
			t.Error("expected error for missing file")
		}

		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[workers\nmin = "), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected parse error for malformed TOML")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(c *Config)
		}{
			{"min below one", func(c *Config) { c.Workers.Min = 0 }},
			{"max below min", func(c *Config) { c.Workers.Min = 4; c.Workers.Max = 2 }},
			{"utilization above one", func(c *Config) { c.Workers.UtilizationTarget = 1.5 }},
			{"zero hysteresis", func(c *Config) { c.Workers.Hysteresis = 0 }},
			{"negative load limit", func(c *Config) { c.Workers.MaxLoadPerCore = -1 }},
			{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }},
			{"zero persist attempts", func(c *Config) { c.Retry.PersistAttempts = 0 }},
			{"zero queue", func(c *Config) { c.Broadcast.QueueSize = 0 }},
			{"bad order", func(c *Config) { c.Backup.Order = "mtime" }},
			{"no sync tool", func(c *Config) { c.Backup.SyncTool = "" }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				config := DefaultConfig()
				tt.mutate(config)
				err := config.Validate()
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})

	t.Run("Server Addresses", func(t *testing.T) {
		s := ServerConfig{Host: "0.0.0.0", Port: 8888}
		if s.Addr() != "0.0.0.0:8888" {
			t.Errorf("unexpected addr %s", s.Addr())
		}
		if s.BaseURL() != "http://127.0.0.1:8888" {
			t.Errorf("unexpected base URL %s", s.BaseURL())
		}
	})
}
