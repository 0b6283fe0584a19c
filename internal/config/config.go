// Package config loads host settings from an optional TOML file, SIDECAR_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/sidecar/internal/logger"
	"github.com/spf13/viper"
)

// Modes the host can run in.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Defaults for the bundled worker.
const (
	DefaultWorkerName        = "flask-backend"
	DefaultPort              = 5000
	DefaultAppID             = "com.sidecar.host"
	DefaultPortRetries       = 3
	DefaultPortRetryInterval = 250 * time.Millisecond
	EnvPrefix                = "SIDECAR"
)

type Config struct {
	Mode    string        `mapstructure:"mode"`
	AppID   string        `mapstructure:"app_id"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Reap    ReapConfig    `mapstructure:"reap"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Admin   AdminConfig   `mapstructure:"admin"`
	History HistoryConfig `mapstructure:"history"`
}

type WorkerConfig struct {
	Name              string        `mapstructure:"name"`
	Executable        string        `mapstructure:"executable"`
	DataDir           string        `mapstructure:"data_dir"`
	Port              int           `mapstructure:"port"`
	ExtraArgs         []string      `mapstructure:"extra_args"`
	Env               []string      `mapstructure:"env"`
	EnvFiles          []string      `mapstructure:"env_files"`
	PortRetries       int           `mapstructure:"port_retries"`
	PortRetryInterval time.Duration `mapstructure:"port_retry_interval"`
	CaptureOutput     bool          `mapstructure:"capture_output"`
}

// ReapConfig selects how far below the worker pid teardown reaches.
// Descendants=false kills direct children only.
type ReapConfig struct {
	Descendants bool `mapstructure:"descendants"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AdminConfig controls the optional HTTP admin endpoint. An empty Listen
// disables it. A non-empty Token is required as a bearer token on every
// request.
type AdminConfig struct {
	Listen   string         `mapstructure:"listen"`
	BasePath string         `mapstructure:"base_path"`
	Token    string         `mapstructure:"token"`
	TLS      AdminTLSConfig `mapstructure:"tls"`
}

// AdminTLSConfig serves the admin endpoint over TLS. CertFile/KeyFile win
// over Dir; with AutoGenerate a self-signed pair is written to Dir when
// missing.
type AdminTLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load reads path (may be empty) and returns a validated Config.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
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

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	var cfg Config
	// defaults only; decoding them cannot fail
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", ModeProduction)
	v.SetDefault("app_id", DefaultAppID)
	v.SetDefault("worker.name", DefaultWorkerName)
	v.SetDefault("worker.executable", "")
	v.SetDefault("worker.data_dir", "")
	v.SetDefault("worker.port", DefaultPort)
	v.SetDefault("worker.extra_args", []string{})
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.env_files", []string{})
	v.SetDefault("worker.port_retries", DefaultPortRetries)
	v.SetDefault("worker.port_retry_interval", DefaultPortRetryInterval)
	v.SetDefault("worker.capture_output", true)
	v.SetDefault("reap.descendants", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("admin.listen", "")
	v.SetDefault("admin.base_path", "/sidecar")
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.tls.enabled", false)
	v.SetDefault("admin.tls.cert_file", "")
	v.SetDefault("admin.tls.key_file", "")
	v.SetDefault("admin.tls.dir", "")
	v.SetDefault("admin.tls.auto_generate", false)
	v.SetDefault("admin.tls.min_version", "1.3")
	v.SetDefault("history.dsn", "")
	return v
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeProduction, ModeDevelopment, c.Mode)
	}
	if strings.TrimSpace(c.AppID) == "" {
		return errors.New("app_id is required")
	}
	name := c.Worker.Name
	if strings.TrimSpace(name) == "" {
		return errors.New("worker.name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("worker.name %q must be a bare executable name", name)
	}
	if c.Worker.Port < 1 || c.Worker.Port > 65535 {
		return fmt.Errorf("worker.port %d out of range 1..65535", c.Worker.Port)
	}
	if c.Worker.PortRetries < 0 {
		return fmt.Errorf("worker.port_retries must be >= 0, got %d", c.Worker.PortRetries)
	}
	if c.Worker.PortRetryInterval < 0 {
		return errors.New("worker.port_retry_interval must not be negative")
	}
	for _, kv := range c.Worker.Env {
		if i := strings.IndexByte(kv, '='); i <= 0 {
			return fmt.Errorf("worker.env entry %q must be KEY=VALUE", kv)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if t := c.Admin.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		return errors.New("admin.tls needs cert_file and key_file, or dir")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Development reports whether the worker is managed out-of-band.
func (c *Config) Development() bool { return c.Mode == ModeDevelopment }

// Logger converts the log section into the logger package's settings.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
			Source:     c.Log.Source,
		},
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// LoadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with #
// are skipped; an optional "export " prefix and surrounding quotes are
// stripped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for n, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, n+1)
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}
