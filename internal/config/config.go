// Package config loads and validates the message bus's configuration
// bundle: driver selection, queue naming, listener bindings, and the
// ambient thresholds governing rate alerting and cleanup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/prism-msgbus/internal/router"
)

// QueueSet is a service's logical queue bindings: a default queue plus
// any event-specific overrides resolved through TargetQueues.
type QueueSet struct {
	Default  string   `yaml:"default"`
	Specific []string `yaml:"specific,omitempty"`
}

// CloudWatchConfig toggles the CloudWatch metrics sink.
type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DLQConfig controls DLQ monitoring.
type DLQConfig struct {
	AlertThreshold int `yaml:"alert_threshold"`
}

// IdempotencyConfig controls the two-tier store's TTLs.
type IdempotencyConfig struct {
	ProcessingTTLSec int `yaml:"processing_ttl_sec"`
	ProcessedTTLSec  int `yaml:"processed_ttl_sec"`
}

// CleanupConfig controls the durable-tier retention sweep.
type CleanupConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// RedisConfig points at the idempotency store's fast cache tier.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// PostgresConfig points at the idempotency store's durable tier.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LegacyConfig holds the Legacy (NATS) driver's connection settings.
type LegacyConfig struct {
	URL string `yaml:"url"`
}

// Config is the full configuration bundle (spec.md §6).
type Config struct {
	Driver            router.Name          `yaml:"driver"`
	DualWrite         bool                 `yaml:"dual_write"`
	FallbackToLegacy  bool                 `yaml:"fallback_to_legacy"`
	Prefix            string               `yaml:"prefix"`
	AutoEnsure        bool                 `yaml:"auto_ensure"`
	LongRunningEvents []string             `yaml:"long_running_events,omitempty"`
	Queues            map[string]QueueSet  `yaml:"queues,omitempty"`
	TargetQueues      map[string]string    `yaml:"target_queues,omitempty"`
	CloudWatch        CloudWatchConfig     `yaml:"cloudwatch"`
	DLQ               DLQConfig            `yaml:"dlq"`
	Idempotency       IdempotencyConfig    `yaml:"idempotency"`
	Cleanup           CleanupConfig        `yaml:"cleanup"`
	Redis             RedisConfig          `yaml:"redis"`
	Postgres          PostgresConfig       `yaml:"postgres"`
	Legacy            LegacyConfig         `yaml:"legacy"`
	Service           string               `yaml:"service"`

	ValidationErrorRateThreshold float64 `yaml:"validation_error_rate_threshold"`
	TransientErrorRateThreshold  float64 `yaml:"transient_error_rate_threshold"`
}

// Load reads and validates a configuration bundle from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = router.Managed
	}
	if c.Prefix == "" {
		c.Prefix = "local"
	}
	if c.DLQ.AlertThreshold == 0 {
		c.DLQ.AlertThreshold = 10
	}
	if c.ValidationErrorRateThreshold == 0 {
		c.ValidationErrorRateThreshold = 0.01
	}
	if c.TransientErrorRateThreshold == 0 {
		c.TransientErrorRateThreshold = 0.10
	}
	if c.Idempotency.ProcessingTTLSec == 0 {
		c.Idempotency.ProcessingTTLSec = 300
	}
	if c.Idempotency.ProcessedTTLSec == 0 {
		c.Idempotency.ProcessedTTLSec = 604800
	}
	if c.Cleanup.RetentionDays == 0 {
		c.Cleanup.RetentionDays = 7
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Service == "" {
		c.Service = "msgbus"
	}
}

// Validate checks the bundle for internal consistency.
func (c *Config) Validate() error {
	if c.Driver != router.Managed && c.Driver != router.Legacy {
		return fmt.Errorf("driver must be %q or %q, got %q", router.Managed, router.Legacy, c.Driver)
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	if c.DLQ.AlertThreshold < 0 {
		return fmt.Errorf("dlq.alert_threshold must be >= 0")
	}
	if c.ValidationErrorRateThreshold < 0 || c.ValidationErrorRateThreshold > 1 {
		return fmt.Errorf("validation_error_rate_threshold must be in [0,1]")
	}
	if c.TransientErrorRateThreshold < 0 || c.TransientErrorRateThreshold > 1 {
		return fmt.Errorf("transient_error_rate_threshold must be in [0,1]")
	}
	if c.Idempotency.ProcessingTTLSec < 0 || c.Idempotency.ProcessedTTLSec < 0 {
		return fmt.Errorf("idempotency TTLs must be >= 0")
	}
	if c.Cleanup.RetentionDays < 0 {
		return fmt.Errorf("cleanup.retention_days must be >= 0")
	}
	return nil
}

// ProcessingTTL returns the configured claim-lock TTL as a Duration.
func (c *Config) ProcessingTTL() time.Duration {
	return time.Duration(c.Idempotency.ProcessingTTLSec) * time.Second
}

// ProcessedTTL returns the configured processed-marker TTL as a Duration.
func (c *Config) ProcessedTTL() time.Duration {
	return time.Duration(c.Idempotency.ProcessedTTLSec) * time.Second
}

// IsLongRunning reports whether eventType is eligible for visibility
// timeout extension during dispatch.
func (c *Config) IsLongRunning(eventType string) bool {
	for _, e := range c.LongRunningEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// RouterConfig projects the bundle into the router.Config the
// DriverRouter is constructed with.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		Driver:           c.Driver,
		DualWrite:        c.DualWrite,
		FallbackToLegacy: c.FallbackToLegacy,
		TargetQueues:     c.TargetQueues,
		DefaultQueue:     c.TargetQueues["default"],
	}
}
