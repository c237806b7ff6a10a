// Package config handles YAML config file loading for the posepipe CLI
// and service embedding. Every value maps onto an explicit per-component
// config struct; nothing in the core reads ambient state.
package config

import (
	"fmt"
	"time"

	"github.com/motionforge/posepipe/classify"
	"github.com/motionforge/posepipe/dispatch"
)

// Config represents a posepipe.yaml configuration file.
type Config struct {
	Estimator  EstimatorConfig  `yaml:"estimator"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Interp     InterpConfig     `yaml:"interpolation"`
	Cache      CacheConfig      `yaml:"cache"`
	Adapter    AdapterConfig    `yaml:"adapter"`
	Export     ExportConfig     `yaml:"export"`
}

// EstimatorConfig locates the external pose estimator binary.
type EstimatorConfig struct {
	Path     string   `yaml:"path"`
	Args     []string `yaml:"args"`
	ModelDir string   `yaml:"model_dir"`
}

// SchedulerConfig holds dispatch limits.
type SchedulerConfig struct {
	MaxWorkers       int      `yaml:"max_workers"`
	QueueMax         int      `yaml:"queue_max"`
	MinSpawnInterval Duration `yaml:"min_spawn_interval"`
	RequestTimeout   Duration `yaml:"request_timeout"`
}

// ClassifierConfig holds the four quality thresholds plus image bounds.
type ClassifierConfig struct {
	MinConfidence       float64 `yaml:"min_confidence"`
	OffScreenConfidence float64 `yaml:"off_screen_confidence"`
	OffScreenShare      float64 `yaml:"off_screen_share"`
	OutlierDeviation    float64 `yaml:"outlier_deviation"`
	ImageWidth          float64 `yaml:"image_width"`
	ImageHeight         float64 `yaml:"image_height"`
}

// InterpConfig holds gap interpolation limits.
type InterpConfig struct {
	MaxGap int `yaml:"max_gap"`
}

// CacheConfig holds playback cache sizing.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// AdapterConfig holds completion-event publisher defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ExportConfig holds S3 sequence export defaults.
type ExportConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// SchedulerConfig converts file values into a dispatch.Config, filling
// unset fields from DefaultConfig.
func (c *Config) SchedulerConfig() dispatch.Config {
	cfg := dispatch.DefaultConfig()
	if c.Scheduler.MaxWorkers > 0 {
		cfg.MaxWorkers = c.Scheduler.MaxWorkers
	}
	if c.Scheduler.QueueMax > 0 {
		cfg.QueueMax = c.Scheduler.QueueMax
	}
	if c.Scheduler.MinSpawnInterval.Duration > 0 {
		cfg.MinSpawnInterval = c.Scheduler.MinSpawnInterval.Duration
	}
	if c.Scheduler.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = c.Scheduler.RequestTimeout.Duration
	}
	return cfg
}

// Thresholds converts file values into classify.Thresholds, filling unset
// fields from DefaultThresholds.
func (c *Config) Thresholds() classify.Thresholds {
	th := classify.DefaultThresholds()
	if c.Classifier.MinConfidence > 0 {
		th.MinConfidence = c.Classifier.MinConfidence
	}
	if c.Classifier.OffScreenConfidence > 0 {
		th.OffScreenConfidence = c.Classifier.OffScreenConfidence
	}
	if c.Classifier.OffScreenShare > 0 {
		th.OffScreenShare = c.Classifier.OffScreenShare
	}
	if c.Classifier.OutlierDeviation > 0 {
		th.OutlierDeviation = c.Classifier.OutlierDeviation
	}
	if c.Classifier.ImageWidth > 0 {
		th.ImageWidth = c.Classifier.ImageWidth
	}
	if c.Classifier.ImageHeight > 0 {
		th.ImageHeight = c.Classifier.ImageHeight
	}
	return th
}

// MaxGap returns the configured interpolation gap limit, defaulting to 5.
func (c *Config) MaxGap() int {
	if c.Interp.MaxGap > 0 {
		return c.Interp.MaxGap
	}
	return 5
}

// CacheCapacity returns the configured cache capacity, defaulting to 256.
func (c *Config) CacheCapacity() int {
	if c.Cache.Capacity > 0 {
		return c.Cache.Capacity
	}
	return 256
}

// Validate fails fast on nonsensical values. Unset values are allowed and
// resolved by the accessor defaults above.
func (c *Config) Validate() error {
	if c.Estimator.Path == "" {
		return fmt.Errorf("estimator.path is required")
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if c.Interp.MaxGap < 0 {
		return fmt.Errorf("interpolation.max_gap must be >= 0, got %d", c.Interp.MaxGap)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be >= 0, got %d", c.Cache.Capacity)
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("adapter.type %q must be redis or webhook", c.Adapter.Type)
	}
	return nil
}
