// Package config provides Viper-based configuration for imgfetch. Values come
// from command-line flags, IMGFETCH_* environment variables and an optional
// YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FranksOps/imgfetch/internal/fingerprint"
)

// Config is the complete imgfetch configuration. API credentials are not part
// of it: they are always passed as arguments.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Search   SearchConfig   `mapstructure:"search"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Report   ReportConfig   `mapstructure:"report"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig controls how images and search pages are fetched.
type HTTPConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Fingerprint string        `mapstructure:"fingerprint"`
	ProxyFile   string        `mapstructure:"proxy_file"`
	RPS         float64       `mapstructure:"rps"`
	UserAgents  []string      `mapstructure:"user_agents"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
}

// SearchConfig contains search provider settings
type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// ManifestConfig selects where per-image records are written. Backend "none"
// disables the manifest.
type ManifestConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// MetricsConfig contains Prometheus exporter settings. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// ReportConfig selects the end-of-run summary format, empty for none.
type ReportConfig struct {
	Format string `mapstructure:"format"`
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"timeout":      "http.timeout",
	"fingerprint":  "http.fingerprint",
	"proxy-file":   "http.proxy_file",
	"rps":          "http.rps",
	"user-agent":   "http.user_agents",
	"endpoint":     "search.endpoint",
	"manifest":     "manifest.backend",
	"manifest-dsn": "manifest.dsn",
	"metrics-port": "metrics.port",
	"summary":      "report.format",
}

// Default manifest locations for the file-based backends.
var defaultDSN = map[string]string{
	"sqlite": "imgfetch.db",
	"json":   "imgfetch.jsonl",
	"csv":    "imgfetch.csv",
}

// Load reads configuration from cfgFile (or .imgfetch.yaml in the working
// directory and $HOME/.config/imgfetch), the environment and the flags that
// were set on the command line. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".imgfetch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/imgfetch")
	}

	v.SetEnvPrefix("IMGFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Manifest.DSN == "" {
		cfg.Manifest.DSN = defaultDSN[cfg.Manifest.Backend]
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.fingerprint", string(fingerprint.ProfileGo))
	v.SetDefault("http.proxy_file", "")
	v.SetDefault("http.rps", 0.0)
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("http.max_bytes", int64(32<<20))

	v.SetDefault("search.endpoint", "")

	v.SetDefault("manifest.backend", "none")
	v.SetDefault("manifest.dsn", "")

	v.SetDefault("metrics.port", 0)

	v.SetDefault("report.format", "")
}

func validate(cfg *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be text or json)", cfg.Logging.Format)
	}

	if cfg.HTTP.Timeout <= 0 {
		return fmt.Errorf("invalid http timeout: %s", cfg.HTTP.Timeout)
	}
	if _, err := fingerprint.Parse(cfg.HTTP.Fingerprint); err != nil {
		return err
	}
	if cfg.HTTP.RPS < 0 {
		return fmt.Errorf("invalid rps: %v (must not be negative)", cfg.HTTP.RPS)
	}
	if cfg.HTTP.MaxBytes <= 0 {
		return fmt.Errorf("invalid max_bytes: %d", cfg.HTTP.MaxBytes)
	}

	switch cfg.Manifest.Backend {
	case "none":
	case "sqlite", "json", "csv", "postgres":
		if cfg.Manifest.DSN == "" {
			return fmt.Errorf("manifest backend %s needs a dsn", cfg.Manifest.Backend)
		}
	default:
		return fmt.Errorf("invalid manifest backend: %s (must be none, sqlite, postgres, json, or csv)", cfg.Manifest.Backend)
	}

	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	switch cfg.Report.Format {
	case "", "text", "json", "html":
	default:
		return fmt.Errorf("invalid summary format: %s (must be text, json, or html)", cfg.Report.Format)
	}
	return nil
}

// SlogLevel converts the configured level name.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
