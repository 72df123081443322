// Package config handles runtime configuration for cmd-ime.
//
// This is operator configuration (logging, journal, monitor tuning). The
// user-facing key mappings live in the settings document managed by
// internal/settings; the two are stored side by side in the config directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cmdime/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// EnvConfigDir overrides the config directory. The name matches the variable
// the host applications already honour.
const EnvConfigDir = "CMD_IME_CONFIG_DIR"

// Config holds the complete runtime configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Settings SettingsConfig `toml:"settings" json:"settings" yaml:"settings"`
	Monitor  MonitorConfig  `toml:"monitor" json:"monitor" yaml:"monitor"`
	Switch   SwitchConfig   `toml:"switch" json:"switch" yaml:"switch"`
	Journal  JournalConfig  `toml:"journal" json:"journal" yaml:"journal"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// SettingsConfig locates the settings document.
type SettingsConfig struct {
	// Dir holds settings.json. Empty means the config directory.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Watch reloads settings when settings.json changes on disk.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`
}

// MonitorConfig tunes the input monitoring path.
type MonitorConfig struct {
	// MaxTapMs is the longest a modifier may be held and still count as a tap.
	MaxTapMs int `toml:"max_tap_ms" json:"max_tap_ms" yaml:"max_tap_ms"`

	// QueueSize is the event buffer between the OS callback and the dispatcher.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// SwitchConfig tunes input-source selection.
type SwitchConfig struct {
	// Backend is "auto", "tis", "ibus" or "none".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// RetryMaxMs bounds the total time spent retrying a failed selection.
	RetryMaxMs int `toml:"retry_max_ms" json:"retry_max_ms" yaml:"retry_max_ms"`
}

// JournalConfig controls the SQLite activity journal.
type JournalConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path to the database. Empty means <config dir>/journal.db.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes entries older than this on open. 0 keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// MetricsConfig controls the Prometheus endpoint of cmdimectl monitor.
type MetricsConfig struct {
	// Addr is a listen address such as "127.0.0.1:9464". Empty disables it.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Monitor: MonitorConfig{
			MaxTapMs:  500,
			QueueSize: 64,
		},
		Switch: SwitchConfig{
			Backend:    "auto",
			RetryMaxMs: 200,
		},
		Journal: JournalConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Dir returns the cmd-ime config directory: $CMD_IME_CONFIG_DIR, or
// ~/.config/cmd-ime.
func Dir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cmd-ime")
	}
	return filepath.Join(home, ".config", "cmd-ime")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// SettingsDir returns the directory holding settings.json.
func (c *Config) SettingsDir() string {
	if c.Settings.Dir != "" {
		return c.Settings.Dir
	}
	return Dir()
}

// JournalPath returns the journal database path.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(Dir(), "journal.db")
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return logging.DefaultLogPath(Dir())
}

// ApplyEnvOverrides applies CMD_IME_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CMD_IME_SETTINGS_DIR"); v != "" {
		c.Settings.Dir = v
	}
	if v := os.Getenv("CMD_IME_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CMD_IME_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("CMD_IME_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("CMD_IME_JOURNAL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Journal.Enabled = enabled
		}
	}
	if v := os.Getenv("CMD_IME_SWITCH_BACKEND"); v != "" {
		c.Switch.Backend = v
	}
	if v := os.Getenv("CMD_IME_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.Monitor.MaxTapMs <= 0 {
		errs = append(errs, fmt.Errorf("monitor.max_tap_ms must be positive, got %d", c.Monitor.MaxTapMs))
	}
	if c.Monitor.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("monitor.queue_size must be positive, got %d", c.Monitor.QueueSize))
	}
	if c.Switch.RetryMaxMs < 0 {
		errs = append(errs, fmt.Errorf("switch.retry_max_ms must not be negative, got %d", c.Switch.RetryMaxMs))
	}
	switch strings.ToLower(c.Switch.Backend) {
	case "", "auto", "tis", "ibus", "none":
	default:
		errs = append(errs, fmt.Errorf("switch.backend %q is not one of auto, tis, ibus, none", c.Switch.Backend))
	}
	if c.Journal.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("journal.retention_days must not be negative, got %d", c.Journal.RetentionDays))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}

	return errors.Join(errs...)
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		lc.Level = level
	}
	if format, err := logging.ParseFormat(c.Logging.Format); err == nil {
		lc.Format = format
	}
	if c.Logging.Output != "" {
		lc.Output = c.Logging.Output
	}
	lc.FilePath = c.LogPath()
	if c.Logging.MaxSizeMB > 0 {
		lc.MaxSize = int64(c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxBackups > 0 {
		lc.MaxBackups = c.Logging.MaxBackups
	}
	if c.Logging.MaxAgeDays > 0 {
		lc.MaxAge = c.Logging.MaxAgeDays
	}
	return lc
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
