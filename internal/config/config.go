package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete undoffg configuration
type Config struct {
	Game    string        `yaml:"game"`
	Paths   PathsConfig   `yaml:"paths"`
	Watch   WatchConfig   `yaml:"watch"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	// SaveRoot overrides the platform default save location that the
	// game profile resolves (AppData/LocalLow on Windows).
	SaveRoot string `yaml:"save_root"`
	// DataDir holds snapshots, settings.json and the journal database.
	DataDir string `yaml:"data_dir"`
}

// WatchConfig configures settle detection
type WatchConfig struct {
	SettleDelay  time.Duration `yaml:"settle_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// JournalConfig configures the event journal
type JournalConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// LogConfig sets logging defaults, overridable by CLI flags
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the per-user config file location, or "" when the
// platform reports no config directory.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "undoffg", "config.yaml")
}

// Load reads and parses the configuration file. An empty path means the
// default location; a missing file there yields the built-in defaults,
// while an explicitly named file must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	// Expand environment variables in path
	path = os.ExpandEnv(path)

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err) && !explicit:
			// No config file is fine, run on defaults.
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.SaveRoot = os.ExpandEnv(c.Paths.SaveRoot)
	c.Paths.DataDir = os.ExpandEnv(c.Paths.DataDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Paths.DataDir == "" {
		if base, err := os.UserConfigDir(); err == nil {
			c.Paths.DataDir = filepath.Join(base, "undoffg")
		}
	}
	if c.Watch.SettleDelay == 0 {
		c.Watch.SettleDelay = 500 * time.Millisecond
	}
	if c.Watch.PollInterval == 0 {
		c.Watch.PollInterval = 500 * time.Millisecond
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = 90
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if c.Paths.SaveRoot != "" && !filepath.IsAbs(c.Paths.SaveRoot) {
		return fmt.Errorf("paths.save_root must be an absolute path: %s", c.Paths.SaveRoot)
	}

	if c.Watch.SettleDelay < 0 {
		return fmt.Errorf("watch.settle_delay must be positive")
	}
	if c.Watch.PollInterval < 0 {
		return fmt.Errorf("watch.poll_interval must be positive")
	}

	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal.retention_days must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// SnapshotDir returns the archive directory for one game's undo states
func (c *Config) SnapshotDir(gameID string) string {
	return filepath.Join(c.Paths.DataDir, "snapshots", gameID)
}

// SettingsPath returns the path to the persisted user settings file
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Paths.DataDir, "settings.json")
}

// JournalPath returns the path to the journal database
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.DataDir, "journal.db")
}
