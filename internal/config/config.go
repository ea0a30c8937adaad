// Package config loads configuration from a YAML file, COLLABX_ environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. COLLABX_SERVER_URL or
// COLLABX_EXPORT_S3_BUCKET.
const EnvPrefix = "COLLABX"

// Config holds client and server configuration.
type Config struct {
	// Client
	ServerURL      string        `mapstructure:"server_url"`
	Workspace      string        `mapstructure:"workspace"`
	Token          string        `mapstructure:"token"`
	WriteDebounce  time.Duration `mapstructure:"write_debounce"`
	CursorDebounce time.Duration `mapstructure:"cursor_debounce"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Server
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Database
	DatabaseDriver string `mapstructure:"database_driver"`
	DatabaseURL    string `mapstructure:"database_url"`

	// Auth
	JWTSecret string `mapstructure:"jwt_secret"`

	// Runner; an empty RunnerURL runs code locally
	RunnerURL     string        `mapstructure:"runner_url"`
	RunnerTimeout time.Duration `mapstructure:"runner_timeout"`

	Export ExportConfig `mapstructure:"export"`
}

// ExportConfig selects where workspace exports are written.
type ExportConfig struct {
	Backend     string `mapstructure:"backend"` // local or s3
	LocalPath   string `mapstructure:"local_path"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
}

var defaults = map[string]any{
	"server_url":           "ws://localhost:8000",
	"workspace":            "",
	"token":                "",
	"write_debounce":       200 * time.Millisecond,
	"cursor_debounce":      100 * time.Millisecond,
	"log_level":            "info",
	"log_format":           "console",
	"listen_addr":          ":8000",
	"metrics_addr":         ":9090",
	"database_driver":      "sqlite3",
	"database_url":         "file:collabx.db?_foreign_keys=on",
	"jwt_secret":           "",
	"runner_url":           "",
	"runner_timeout":       5 * time.Second,
	"export.backend":       "local",
	"export.local_path":    "export",
	"export.s3_bucket":     "",
	"export.s3_region":     "us-east-1",
	"export.s3_endpoint":   "",
	"export.s3_access_key": "",
	"export.s3_secret_key": "",
}

// NewViper returns a viper instance with defaults and environment binding
// set up. file may be empty.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	}
	return v
}

// Load reads the config file, if one is set, and decodes v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that every command depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be json or console, got %q", c.LogFormat))
	}
	if c.WriteDebounce < 0 {
		errs = append(errs, errors.New("write_debounce: must not be negative"))
	}
	if c.CursorDebounce < 0 {
		errs = append(errs, errors.New("cursor_debounce: must not be negative"))
	}
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database_driver: must be sqlite3 or postgres, got %q", c.DatabaseDriver))
	}
	switch c.Export.Backend {
	case "local", "s3":
	default:
		errs = append(errs, fmt.Errorf("export.backend: must be local or s3, got %q", c.Export.Backend))
	}
	return errors.Join(errs...)
}

// ValidateServer checks the values serve needs.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret: required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url: required"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr: required"))
	}
	return errors.Join(errs...)
}

// ValidateExport checks the values the export backend needs.
func (c *Config) ValidateExport() error {
	switch c.Export.Backend {
	case "s3":
		if c.Export.S3Bucket == "" {
			return errors.New("export.s3_bucket: required for the s3 backend")
		}
	default:
		if c.Export.LocalPath == "" {
			return errors.New("export.local_path: required for the local backend")
		}
	}
	return nil
}
