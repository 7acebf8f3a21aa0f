// Package config loads worksync settings from worksync.yaml, WORKSYNC_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. WORKSYNC_JIRA_TOKEN.
const EnvPrefix = "WORKSYNC"

const redacted = "********"

// Config is the typed view of all settings.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Jira      JiraConfig      `mapstructure:"jira"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DatabaseConfig selects the local store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or mysql
	DSN    string `mapstructure:"dsn"`
}

// JiraConfig holds tracker connection settings.
type JiraConfig struct {
	URL             string        `mapstructure:"url"`
	Username        string        `mapstructure:"username"`
	Token           string        `mapstructure:"token"`
	Group           string        `mapstructure:"group"`
	PageSize        int           `mapstructure:"page_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed"`
}

// SyncConfig holds engine defaults.
type SyncConfig struct {
	WindowDays  int    `mapstructure:"window_days"`
	DefaultRole string `mapstructure:"default_role"`
}

// SchedulerConfig holds periodic job intervals.
type SchedulerConfig struct {
	WorklogsInterval time.Duration `mapstructure:"worklogs_interval"`
	UsersInterval    time.Duration `mapstructure:"users_interval"`
	FullInterval     time.Duration `mapstructure:"full_interval"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr      string        `mapstructure:"addr"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig toggles OpenTelemetry metrics.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Stdout  bool `mapstructure:"stdout"`
}

// DefaultDatabasePath returns ~/.cache/worksync/worksync.db.
func DefaultDatabasePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "worksync.db"
	}
	return filepath.Join(homeDir, ".cache", "worksync", "worksync.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", DefaultDatabasePath())

	v.SetDefault("jira.url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.group", "jira-users")
	v.SetDefault("jira.page_size", 50)
	v.SetDefault("jira.timeout", "30s")
	v.SetDefault("jira.rate_limit", 5.0)
	v.SetDefault("jira.burst", 10)
	v.SetDefault("jira.max_retry_elapsed", "30s")

	v.SetDefault("sync.window_days", 30)
	v.SetDefault("sync.default_role", "user")

	v.SetDefault("scheduler.worklogs_interval", "30m")
	v.SetDefault("scheduler.users_interval", "24h")
	v.SetDefault("scheduler.full_interval", "4h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.jwt_expiry", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
}

// Loader owns the viper instance so the config can be re-read on change.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader reads .env (if present), then the config file, then the
// environment. An explicit path must exist; without one, worksync.yaml is
// looked up in the working directory and ~/.config/worksync.
func NewLoader(path string) (*Loader, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("worksync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "worksync"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	return &Loader{v: v}, nil
}

// Load is NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// ConfigFile returns the file the settings were read from, or "".
func (l *Loader) ConfigFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.ConfigFileUsed()
}

// Config decodes and validates the current settings.
func (l *Loader) Config() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and hands the new
// settings to onChange. Invalid edits are reported through onError and the
// previous settings stay in effect.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Config()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks values that would otherwise fail deep inside a sync run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver: %q is invalid (valid values: sqlite, mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: must not be empty")
	}
	if c.Jira.PageSize < 1 || c.Jira.PageSize > 1000 {
		return fmt.Errorf("jira.page_size: %d is out of range (1-1000)", c.Jira.PageSize)
	}
	if c.Sync.WindowDays < 1 {
		return fmt.Errorf("sync.window_days: must be at least 1, got %d", c.Sync.WindowDays)
	}
	if c.Sync.DefaultRole == "" {
		return fmt.Errorf("sync.default_role: must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"scheduler.worklogs_interval": c.Scheduler.WorklogsInterval,
		"scheduler.users_interval":    c.Scheduler.UsersInterval,
		"scheduler.full_interval":     c.Scheduler.FullInterval,
	} {
		if d < time.Minute {
			return fmt.Errorf("%s: must be at least 1m, got %s", name, d)
		}
	}
	return nil
}

// YAML renders the effective settings with secrets redacted.
func (l *Loader) YAML() ([]byte, error) {
	l.mu.Lock()
	settings := l.v.AllSettings()
	l.mu.Unlock()

	redact(settings, "jira", "token")
	redact(settings, "server", "jwt_secret")

	out, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

func redact(settings map[string]interface{}, section, key string) {
	m, ok := settings[section].(map[string]interface{})
	if !ok {
		return
	}
	if s, ok := m[key].(string); ok && s != "" {
		m[key] = redacted
	}
}
