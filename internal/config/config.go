// Package config loads and validates ingest configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/policycheck/policy-ingest/internal/urlkey"
)

// Workers outside this range indicate a typo, not a tuning choice.
const (
	MinWorkers = 1
	MaxWorkers = 64
)

// MinRequestTimeout is the floor below which fetches against slow
// document servers fail spuriously.
const MinRequestTimeout = 5 * time.Second

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Ingest  IngestConfig  `mapstructure:"ingest"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// IngestConfig governs the fetch-validate-persist pipeline.
type IngestConfig struct {
	InputFile      string        `mapstructure:"input_file"`
	OutputDir      string        `mapstructure:"output_dir"`
	Workers        int           `mapstructure:"workers"`
	HostDelay      time.Duration `mapstructure:"host_delay"`
	MinDocumentKB  int64         `mapstructure:"min_document_kb"`
	MaxDocumentMB  int64         `mapstructure:"max_document_mb"`
	TrackingParams []string      `mapstructure:"tracking_params"`
	// MaxStoreFailures is how many consecutive persist failures are
	// tolerated before the run aborts.
	MaxStoreFailures int `mapstructure:"max_store_failures"`
	// FromFailures treats InputFile as a failure log from a prior run.
	FromFailures bool `mapstructure:"from_failures"`
}

// MinBytes converts the configured floor to bytes.
func (c IngestConfig) MinBytes() int64 { return c.MinDocumentKB * 1024 }

// MaxBytes converts the configured ceiling to bytes.
func (c IngestConfig) MaxBytes() int64 { return c.MaxDocumentMB * 1024 * 1024 }

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the optional Prometheus listener. An empty
// Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment. bind, when non-nil, runs
// after defaults are set so the caller can attach CLI flags to the
// Viper instance (highest precedence).
func Load(path string, bind func(*viper.Viper) error) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if bind != nil {
		if err := bind(v); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ingest.input_file", "policy_urls.txt")
	v.SetDefault("ingest.output_dir", "data/ingest")
	v.SetDefault("ingest.workers", 8)
	v.SetDefault("ingest.host_delay", "500ms")
	v.SetDefault("ingest.min_document_kb", 20)
	v.SetDefault("ingest.max_document_mb", 100)
	v.SetDefault("ingest.tracking_params", urlkey.DefaultTrackingParams)
	v.SetDefault("ingest.max_store_failures", 5)
	v.SetDefault("ingest.from_failures", false)

	v.SetDefault("http.request_timeout", "30s")
	v.SetDefault("http.user_agent", "PolicyCheckBot/1.0 (+https://policycheck.co.nz)")

	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.addr", "")
}

// Validate checks argument ranges before anything touches the network
// or the disk.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Ingest.InputFile) == "" {
		return fmt.Errorf("ingest.input_file must be set")
	}
	if strings.TrimSpace(c.Ingest.OutputDir) == "" {
		return fmt.Errorf("ingest.output_dir must be set")
	}
	if c.Ingest.Workers < MinWorkers || c.Ingest.Workers > MaxWorkers {
		return fmt.Errorf("ingest.workers must be between %d and %d, got %d",
			MinWorkers, MaxWorkers, c.Ingest.Workers)
	}
	if c.Ingest.HostDelay < 0 {
		return fmt.Errorf("ingest.host_delay must be >= 0")
	}
	if c.Ingest.MinDocumentKB <= 0 {
		return fmt.Errorf("ingest.min_document_kb must be > 0")
	}
	if c.Ingest.MaxDocumentMB <= 0 {
		return fmt.Errorf("ingest.max_document_mb must be > 0")
	}
	if c.Ingest.MinBytes() >= c.Ingest.MaxBytes() {
		return fmt.Errorf("ingest.min_document_kb must be below ingest.max_document_mb")
	}
	if c.Ingest.MaxStoreFailures <= 0 {
		return fmt.Errorf("ingest.max_store_failures must be > 0")
	}
	if c.HTTP.RequestTimeout < MinRequestTimeout {
		return fmt.Errorf("http.request_timeout must be >= %s, got %s",
			MinRequestTimeout, c.HTTP.RequestTimeout)
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	return nil
}
