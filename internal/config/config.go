// Package config loads the lt configuration and derives the on-disk layout.
//
// Configuration is optional: with no file anywhere, every value falls back
// to a default under ~/.leitner. Lookup order is an explicit --config path,
// then config.yaml in ~/.leitner or the working directory, then LEITNER_*
// environment variables, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leitnerhq/leitner/internal/fsrs"
)

// Config is the resolved configuration. Path fields are always absolute
// after Load; empty ones are derived from DataDir.
type Config struct {
	// DataDir is the root for everything lt stores on disk.
	DataDir string `mapstructure:"data_dir"`
	// DBPath is the local database file. Default <data_dir>/leitner.db.
	DBPath string `mapstructure:"db_path"`
	// MediaDir holds content-addressed media files. Default <data_dir>/media.
	MediaDir string `mapstructure:"media_dir"`
	// InboxDir is watched by the daemon for dropped .apkg files.
	// Default <data_dir>/inbox.
	InboxDir string `mapstructure:"inbox_dir"`
	// SessionPath is the credentials file written by `lt login`.
	// Default <data_dir>/session.json.
	SessionPath string `mapstructure:"session_path"`
	// LogFile receives daemon logs, rotated. Default <data_dir>/daemon.log.
	LogFile string `mapstructure:"log_file"`

	// Endpoint is the sync backend URL offered as the login default.
	Endpoint string `mapstructure:"endpoint"`
	// Account is the account name offered as the login default.
	Account string `mapstructure:"account"`

	// SyncInterval is the daemon's periodic sync cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// MaxErrors bounds the sync error queue.
	MaxErrors int `mapstructure:"max_errors"`
	// MaxRetries bounds automatic retries per sync error.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoff is the first automatic retry delay; it doubles per attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// DashboardAddr is the listen address for `lt dashboard`.
	DashboardAddr string `mapstructure:"dashboard_addr"`

	// SchedulerParamsPath points at the optional FSRS tuning file.
	// Default <data_dir>/fsrs.toml.
	SchedulerParamsPath string `mapstructure:"scheduler_params"`
	// DesiredRetention, when set, overrides the retention target from the
	// params file. Must be strictly between 0 and 1.
	DesiredRetention float64 `mapstructure:"desired_retention"`
}

// DefaultDataDir returns ~/.leitner, or ./.leitner when the home directory
// cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leitner"
	}
	return filepath.Join(home, ".leitner")
}

// Load reads configuration from the given file, or from the standard
// search path when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".leitner"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEITNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No file anywhere: defaults and environment only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("sync_interval", "5m")
	v.SetDefault("max_errors", 50)
	v.SetDefault("max_retries", 5)
	v.SetDefault("retry_backoff", "2s")
	v.SetDefault("dashboard_addr", "127.0.0.1:7373")
}

func (c *Config) applyDerived() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "leitner.db")
	}
	if c.MediaDir == "" {
		c.MediaDir = filepath.Join(c.DataDir, "media")
	}
	if c.InboxDir == "" {
		c.InboxDir = filepath.Join(c.DataDir, "inbox")
	}
	if c.SessionPath == "" {
		c.SessionPath = filepath.Join(c.DataDir, "session.json")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "daemon.log")
	}
	if c.SchedulerParamsPath == "" {
		c.SchedulerParamsPath = filepath.Join(c.DataDir, "fsrs.toml")
	}
}

// Validate rejects values the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %v", c.SyncInterval)
	}
	if c.MaxErrors <= 0 {
		return fmt.Errorf("max_errors must be positive, got %d", c.MaxErrors)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive, got %v", c.RetryBackoff)
	}
	if c.DesiredRetention != 0 && (c.DesiredRetention <= 0 || c.DesiredRetention >= 1) {
		return fmt.Errorf("desired_retention must be between 0 and 1, got %v", c.DesiredRetention)
	}
	return nil
}

// PidPath is the daemon lock file location.
func (c *Config) PidPath() string {
	return filepath.Join(c.DataDir, "daemon.pid")
}

// SchedulerParams loads the FSRS tuning file and applies the config-level
// retention override on top.
func (c *Config) SchedulerParams() (fsrs.Params, error) {
	p, err := fsrs.LoadParams(c.SchedulerParamsPath)
	if err != nil {
		return p, err
	}
	if c.DesiredRetention > 0 {
		p.DesiredRetention = c.DesiredRetention
	}
	return p, nil
}

// fileTemplate is the shape written by WriteDefault. Durations are strings
// so the generated file reads naturally.
type fileTemplate struct {
	DataDir          string  `yaml:"data_dir"`
	Endpoint         string  `yaml:"endpoint"`
	Account          string  `yaml:"account"`
	SyncInterval     string  `yaml:"sync_interval"`
	MaxErrors        int     `yaml:"max_errors"`
	MaxRetries       int     `yaml:"max_retries"`
	RetryBackoff     string  `yaml:"retry_backoff"`
	DashboardAddr    string  `yaml:"dashboard_addr"`
	DesiredRetention float64 `yaml:"desired_retention"`
}

const templateHeader = `# lt configuration.
#
# Every value here is optional; remove a line to fall back to the default.
# Paths not listed (db_path, media_dir, inbox_dir, session_path, log_file,
# scheduler_params) derive from data_dir.
`

// WriteDefault writes a starter config file. Refuses to overwrite.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tpl := fileTemplate{
		DataDir:          DefaultDataDir(),
		Endpoint:         "libsql://your-db.turso.io",
		Account:          "",
		SyncInterval:     (5 * time.Minute).String(),
		MaxErrors:        50,
		MaxRetries:       5,
		RetryBackoff:     (2 * time.Second).String(),
		DashboardAddr:    "127.0.0.1:7373",
		DesiredRetention: 0.9,
	}
	body, err := yaml.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("failed to render config template: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(templateHeader), body...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
