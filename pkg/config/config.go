// Package config loads calsync settings from
// $XDG_CONFIG_HOME/calsync/config.yaml, with CALSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "calsync"
	configFile = "config.yaml"
	envPrefix  = "CALSYNC"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full calsync configuration.
type Config struct {
	// Calendar is the name of the linked calendar.
	Calendar string `yaml:"calendar" mapstructure:"calendar"`
	// Timezone is an IANA zone name; empty means the system zone.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`

	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Inbox   InboxConfig   `yaml:"inbox" mapstructure:"inbox"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SyncConfig controls the sync engine.
type SyncConfig struct {
	Enabled          bool     `yaml:"enabled" mapstructure:"enabled"`
	PullAll          bool     `yaml:"pull_all" mapstructure:"pull_all"`
	MaxRetries       int      `yaml:"max_retries" mapstructure:"max_retries"`
	WindowPastDays   int      `yaml:"window_past_days" mapstructure:"window_past_days"`
	WindowFutureDays int      `yaml:"window_future_days" mapstructure:"window_future_days"`
	AutoDebounce     Duration `yaml:"auto_debounce" mapstructure:"auto_debounce"`
	PendingRefresh   Duration `yaml:"pending_refresh" mapstructure:"pending_refresh"`
	Interval         Duration `yaml:"interval" mapstructure:"interval"`
	ProbeURL         string   `yaml:"probe_url" mapstructure:"probe_url"`
	ProbeInterval    Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
}

// StorageConfig selects the local durable store.
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// InboxConfig points at the directory intent files are dropped into.
type InboxConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig controls logging and log rotation.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Duration is a time.Duration written as "2s" in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Dir returns the calsync config directory.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, xdgAppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	dir, err := Dir()
	if err != nil {
		dir = "."
	}
	return &Config{
		Calendar: "primary",
		Sync: SyncConfig{
			Enabled:          true,
			MaxRetries:       3,
			WindowPastDays:   30,
			WindowFutureDays: 90,
			AutoDebounce:     Duration(2 * time.Second),
			PendingRefresh:   Duration(5 * time.Second),
			Interval:         Duration(5 * time.Minute),
			ProbeURL:         "https://www.googleapis.com/generate_204",
			ProbeInterval:    Duration(15 * time.Second),
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dir, "calsync.db"),
		},
		Inbox: InboxConfig{
			Dir: filepath.Join(dir, "inbox"),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the default config file. A missing file yields defaults.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, layering environment overrides on top.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{}
	hook := mapstructure.DecodeHookFuncType(stringToDurationHook)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("calendar", d.Calendar)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("sync.enabled", d.Sync.Enabled)
	v.SetDefault("sync.pull_all", d.Sync.PullAll)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.window_past_days", d.Sync.WindowPastDays)
	v.SetDefault("sync.window_future_days", d.Sync.WindowFutureDays)
	v.SetDefault("sync.auto_debounce", d.Sync.AutoDebounce.D().String())
	v.SetDefault("sync.pending_refresh", d.Sync.PendingRefresh.D().String())
	v.SetDefault("sync.interval", d.Sync.Interval.D().String())
	v.SetDefault("sync.probe_url", d.Sync.ProbeURL)
	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval.D().String())
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("inbox.dir", d.Inbox.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

var durationType = reflect.TypeOf(Duration(0))

func stringToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		return Duration(d), nil
	case time.Duration:
		return Duration(v), nil
	}
	return data, nil
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("%w: storage.backend must be sqlite or json, got %q", ErrInvalid, c.Storage.Backend)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("%w: sync.max_retries must be at least 1", ErrInvalid)
	}
	if c.Sync.WindowPastDays < 0 || c.Sync.WindowFutureDays < 0 {
		return fmt.Errorf("%w: sync windows must not be negative", ErrInvalid)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "silent", "info", "debug":
	default:
		return fmt.Errorf("%w: log.level must be silent, info or debug, got %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// Location returns the configured zone, or time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
