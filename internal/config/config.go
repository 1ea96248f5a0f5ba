package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	lesson "lesson_server"
)

// EnvPrefix prefixes every environment variable, e.g. LESSON_ADDR.
const EnvPrefix = "LESSON"

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the lesson server configuration
type Config struct {
	Network  string `mapstructure:"network"`
	Addr     string `mapstructure:"addr"`
	Lesson   string `mapstructure:"lesson"`
	StatusOK bool   `mapstructure:"status-ok"`

	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout"`
	ReadTimeout       time.Duration `mapstructure:"read-timeout"`
	WriteTimeout      time.Duration `mapstructure:"write-timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle-timeout"`
	MaxHeaderBytes    int           `mapstructure:"max-header-bytes"`
	MaxBodyBytes      int64         `mapstructure:"max-body-bytes"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Network:           "tcp",
		Addr:              "localhost:8080",
		Lesson:            "status",
		StatusOK:          true,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    lesson.DefaultMaxHeaderBytes,
		MaxBodyBytes:      lesson.DefaultMaxBodyBytes,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// New returns a viper instance with defaults and environment lookup
// configured. Flags are bound by the caller.
func New() *viper.Viper {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("network", d.Network)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("lesson", d.Lesson)
	v.SetDefault("status-ok", d.StatusOK)
	v.SetDefault("read-header-timeout", d.ReadHeaderTimeout)
	v.SetDefault("read-timeout", d.ReadTimeout)
	v.SetDefault("write-timeout", d.WriteTimeout)
	v.SetDefault("idle-timeout", d.IdleTimeout)
	v.SetDefault("max-header-bytes", d.MaxHeaderBytes)
	v.SetDefault("max-body-bytes", d.MaxBodyBytes)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file (yaml, json or toml, by
// extension) and returns the merged, validated configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is empty", ErrInvalidConfig)
	}
	switch c.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("%w: unsupported network %q", ErrInvalidConfig, c.Network)
	}
	if _, err := lesson.LookupLesson(c.Lesson, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for name, d := range map[string]time.Duration{
		"read-header-timeout": c.ReadHeaderTimeout,
		"read-timeout":        c.ReadTimeout,
		"write-timeout":       c.WriteTimeout,
		"idle-timeout":        c.IdleTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	if c.MaxHeaderBytes < 0 {
		return fmt.Errorf("%w: max-header-bytes is negative", ErrInvalidConfig)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: max-body-bytes is negative", ErrInvalidConfig)
	}
	return nil
}

// StatusPredicate is the condition of the status code lesson.
func (c *Config) StatusPredicate() lesson.Predicate {
	if c.StatusOK {
		return lesson.Always
	}
	return lesson.Never
}

// Server builds a lesson server for the configured lesson.
func (c *Config) Server() (*lesson.Server, error) {
	l, err := lesson.LookupLesson(c.Lesson, c.StatusPredicate())
	if err != nil {
		return nil, err
	}
	return &lesson.Server{
		Network:           c.Network,
		Addr:              c.Addr,
		Handler:           l.Handler,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
		MaxHeaderBytes:    c.MaxHeaderBytes,
		MaxBodyBytes:      c.MaxBodyBytes,
	}, nil
}
