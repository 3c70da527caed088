// Package config loads and validates the service configuration from YAML
// with environment-independent defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Processing ProcessingConfig `yaml:"processing"`
	Signal     SignalConfig     `yaml:"signal"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// RedisConfig holds the optional fast cache layer backend. When Addr is
// empty the in-memory layer is used instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds object storage access settings.
type StorageConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ServiceKey     string        `yaml:"service_key"`
	ExpectedBucket string        `yaml:"expected_bucket"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
}

// WebhookConfig holds storage-event intake settings.
type WebhookConfig struct {
	Secret         string        `yaml:"secret"`
	ResponseBudget time.Duration `yaml:"response_budget"`
	DedupWindow    time.Duration `yaml:"dedup_window"`
}

// ProcessingConfig holds background pipeline settings.
type ProcessingConfig struct {
	Workers            int           `yaml:"workers"`
	QueueDepth         int           `yaml:"queue_depth"`
	TaskTimeout        time.Duration `yaml:"task_timeout"`
	DeduplicateUploads bool          `yaml:"deduplicate_uploads"`
	Version            string        `yaml:"version"`
}

// SignalConfig holds EMG signal processing parameters.
type SignalConfig struct {
	HighPassCutoffHz   float64 `yaml:"highpass_cutoff_hz"`
	BandUpperCutoffHz  float64 `yaml:"band_upper_cutoff_hz"`
	LowPassCutoffHz    float64 `yaml:"lowpass_cutoff_hz"`
	FilterOrder        int     `yaml:"filter_order"`
	SmoothingWindowMs  float64 `yaml:"smoothing_window_ms"`
	MinSamples         int     `yaml:"min_samples"`
	MinStd             float64 `yaml:"min_std"`
	MinDurationSec     float64 `yaml:"min_duration_sec"`
	MaxDurationSec     float64 `yaml:"max_duration_sec"`
	ThresholdFactor    float64 `yaml:"threshold_factor"`
	MergeGapMs         float64 `yaml:"merge_gap_ms"`
	MinContractionMs   float64 `yaml:"min_contraction_ms"`
	MVCThresholdPct    float64 `yaml:"mvc_threshold_pct"`
	DurationThresholdMs float64 `yaml:"duration_threshold_ms"`
}

// ScoringConfig holds defaults for the performance scoring engine.
type ScoringConfig struct {
	ExpectedContractionsPerMuscle int     `yaml:"expected_contractions_per_muscle"`
	DefaultRPE                    int     `yaml:"default_rpe"`
	WeightTolerance               float64 `yaml:"weight_tolerance"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int64         `yaml:"max_entries"`
}

// Default returns the production defaults. Every value can be overridden
// from the YAML file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			ExpectedBucket: "c3d-examples",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   200 * time.Millisecond,
			RatePerSecond:  10,
		},
		Webhook: WebhookConfig{
			ResponseBudget: 1 * time.Second,
			DedupWindow:    5 * time.Minute,
		},
		Processing: ProcessingConfig{
			Workers:            runtime.NumCPU(),
			QueueDepth:         64,
			TaskTimeout:        10 * time.Minute,
			DeduplicateUploads: true,
			Version:            "v2.1.0",
		},
		Signal: SignalConfig{
			HighPassCutoffHz:    20,
			BandUpperCutoffHz:   450,
			LowPassCutoffHz:     10,
			FilterOrder:         4,
			SmoothingWindowMs:   50,
			MinSamples:          1000,
			MinStd:              1e-10,
			MinDurationSec:      10,
			MaxDurationSec:      600,
			ThresholdFactor:     0.3,
			MergeGapMs:          100,
			MinContractionMs:    50,
			MVCThresholdPct:     75,
			DurationThresholdMs: 2000,
		},
		Scoring: ScoringConfig{
			ExpectedContractionsPerMuscle: 12,
			DefaultRPE:                    4,
			WeightTolerance:               1e-3,
		},
		Cache: CacheConfig{
			TTL:        24 * time.Hour,
			MaxEntries: 1024,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that would otherwise surface as
// runtime failures deep in the pipeline.
func (c *Config) Validate() error {
	if c.Signal.HighPassCutoffHz <= 0 {
		return fmt.Errorf("signal: highpass cutoff must be positive, got %.2f", c.Signal.HighPassCutoffHz)
	}
	if c.Signal.LowPassCutoffHz <= 0 {
		return fmt.Errorf("signal: lowpass cutoff must be positive, got %.2f", c.Signal.LowPassCutoffHz)
	}
	if c.Signal.FilterOrder < 2 || c.Signal.FilterOrder%2 != 0 {
		return fmt.Errorf("signal: filter order must be a positive even number, got %d", c.Signal.FilterOrder)
	}
	if c.Signal.MinDurationSec >= c.Signal.MaxDurationSec {
		return fmt.Errorf("signal: min duration %.1fs must be below max duration %.1fs",
			c.Signal.MinDurationSec, c.Signal.MaxDurationSec)
	}
	if c.Signal.ThresholdFactor <= 0 || c.Signal.ThresholdFactor >= 1 {
		return fmt.Errorf("signal: threshold factor must be in (0,1), got %.2f", c.Signal.ThresholdFactor)
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing: workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Processing.QueueDepth < 1 {
		return fmt.Errorf("processing: queue depth must be at least 1, got %d", c.Processing.QueueDepth)
	}
	if c.Scoring.DefaultRPE < 0 || c.Scoring.DefaultRPE > 10 {
		return fmt.Errorf("scoring: default RPE must be in [0,10], got %d", c.Scoring.DefaultRPE)
	}
	return nil
}
