// Package config handles the configuration directory, the config file and
// the process logger.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is the application directory name.
	AppName = "tasksync"

	// ConfigFile is the config filename inside the config directory.
	ConfigFile = "config.yaml"

	// EnvPrefix prefixes environment overrides (TASKSYNC_API_URL, ...).
	EnvPrefix = "TASKSYNC"

	DefaultAPIURL      = "http://localhost:8080/api"
	DefaultWSURL       = "ws://localhost:8080/ws"
	DefaultTimeout     = 10 * time.Second
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5

	// MaxAttemptsLimit bounds reconnect.max_attempts.
	MaxAttemptsLimit = 100
)

// ReconnectConfig tunes the push channel backoff.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string `mapstructure:"-"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"-"`

	// Quiet suppresses informational output.
	Quiet bool `mapstructure:"-"`

	// APIURL is the REST base URL, e.g. http://localhost:8080/api.
	APIURL string `mapstructure:"api_url"`

	// WSURL is the push channel endpoint.
	WSURL string `mapstructure:"ws_url"`

	// Timeout bounds each REST call.
	Timeout time.Duration `mapstructure:"timeout"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`

	// Logger is set by the dispatcher; nil means discard.
	Logger *slog.Logger `mapstructure:"-"`
}

// New creates a new Config with defaults and the default or specified
// config directory. If configDir is empty, uses XDG_CONFIG_HOME/tasksync
// or $HOME/.config/tasksync.
func New(configDir string) (*Config, error) {
	dir := configDir
	if dir == "" {
		dir = DefaultConfigDir()
	}
	return &Config{
		Dir:     dir,
		APIURL:  DefaultAPIURL,
		WSURL:   DefaultWSURL,
		Timeout: DefaultTimeout,
		Reconnect: ReconnectConfig{
			BaseDelay:   DefaultBaseDelay,
			MaxAttempts: DefaultMaxAttempts,
		},
	}, nil
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// Path returns the path to the config file.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, ConfigFile)
}

// HasConfigFile checks if the config file exists.
func (c *Config) HasConfigFile() bool {
	_, err := os.Stat(c.Path())
	return err == nil
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// Load merges the config file (if present) and TASKSYNC_* environment
// variables over the current values.
func (c *Config) Load() error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_url", c.APIURL)
	v.SetDefault("ws_url", c.WSURL)
	v.SetDefault("timeout", c.Timeout)
	v.SetDefault("reconnect.base_delay", c.Reconnect.BaseDelay)
	v.SetDefault("reconnect.max_attempts", c.Reconnect.MaxAttempts)

	if c.HasConfigFile() {
		v.SetConfigFile(c.Path())
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", c.Path(), err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("parse %s: %w", c.Path(), err)
	}
	return c.Validate()
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api_url must not be empty")
	}
	if strings.TrimSpace(c.WSURL) == "" {
		return fmt.Errorf("ws_url must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1")
	}
	if c.Reconnect.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("reconnect.max_attempts must be at most %d", MaxAttemptsLimit)
	}
	return nil
}

type fileReconnect struct {
	BaseDelay   string `yaml:"base_delay"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// fileConfig is the on-disk shape. Durations are written as strings so
// the file stays hand-editable.
type fileConfig struct {
	APIURL    string        `yaml:"api_url"`
	WSURL     string        `yaml:"ws_url"`
	Timeout   string        `yaml:"timeout"`
	Reconnect fileReconnect `yaml:"reconnect"`
}

// Marshal renders the current settings as config file YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(fileConfig{
		APIURL:  c.APIURL,
		WSURL:   c.WSURL,
		Timeout: c.Timeout.String(),
		Reconnect: fileReconnect{
			BaseDelay:   c.Reconnect.BaseDelay.String(),
			MaxAttempts: c.Reconnect.MaxAttempts,
		},
	})
}

// WriteFile writes the current settings to the config file.
// It refuses to overwrite an existing file.
func (c *Config) WriteFile() error {
	if c.HasConfigFile() {
		return fmt.Errorf("config file already exists: %s", c.Path())
	}
	if err := c.EnsureDir(); err != nil {
		return err
	}
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path(), b, 0600)
}

// Log returns the configured logger, or one that discards everything.
func (c *Config) Log() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// NewLogger returns a text logger on w. Debug lowers the level from warn
// to debug.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
