// Package config provides configuration structures for the storage router.
package config

import (
	"fmt"
	"time"

	"github.com/stratumhq/stratum/pkg/models"
)

// Config represents the server configuration. Every threshold, decay
// rate, and fan-out limit the core uses is supplied here at construction
// time; nothing is read from ambient global state.
type Config struct {
	// Server settings
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	DataDir         string        `yaml:"data_dir" json:"data_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Registry configuration
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Health monitor configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Classifier configuration
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`

	// Router configuration
	Router RouterConfig `yaml:"router" json:"router"`

	// Parser configuration
	Parser ParserConfig `yaml:"parser" json:"parser"`

	// Executor configuration
	Executor ExecutorConfig `yaml:"executor" json:"executor"`

	// Rebalancer configuration
	Rebalance RebalanceConfig `yaml:"rebalance" json:"rebalance"`

	// Pattern learner configuration
	Learning LearningConfig `yaml:"learning" json:"learning"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Seeds are backends registered at startup.
	Seeds []SeedBackend `yaml:"seeds" json:"seeds"`
}

// RegistryConfig represents registry configuration.
type RegistryConfig struct {
	DecayHalfLife             time.Duration `yaml:"decay_half_life" json:"decay_half_life"`
	MigrationRecordsPerSecond int           `yaml:"migration_records_per_second" json:"migration_records_per_second"`
	MigrationBatchSize        int           `yaml:"migration_batch_size" json:"migration_batch_size"`
}

// MonitorConfig represents health monitor configuration.
type MonitorConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	DegradedAfter int           `yaml:"degraded_after" json:"degraded_after"`
	OfflineAfter  int           `yaml:"offline_after" json:"offline_after"`
}

// ClassifierConfig represents classifier configuration.
type ClassifierConfig struct {
	RoutingThreshold float64 `yaml:"routing_threshold" json:"routing_threshold"`
	FallbackDomain   string  `yaml:"fallback_domain" json:"fallback_domain"`
	HotAccessRate    float64 `yaml:"hot_access_rate" json:"hot_access_rate"`
	WarmAccessRate   float64 `yaml:"warm_access_rate" json:"warm_access_rate"`
}

// RouterConfig represents router configuration.
type RouterConfig struct {
	MaxErrorRate   float64 `yaml:"max_error_rate" json:"max_error_rate"`
	FallbackDomain string  `yaml:"fallback_domain" json:"fallback_domain"`
}

// ParserConfig represents parser configuration.
type ParserConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// ExecutorConfig represents executor configuration.
type ExecutorConfig struct {
	MaxConcurrency int64         `yaml:"max_concurrency" json:"max_concurrency"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	PlanTimeout    time.Duration `yaml:"plan_timeout" json:"plan_timeout"`
	StepTimeout    time.Duration `yaml:"step_timeout" json:"step_timeout"`
}

// RebalanceConfig represents the background rebalancer configuration.
type RebalanceConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Interval     time.Duration `yaml:"interval" json:"interval"`
	DemoteBelow  float64       `yaml:"demote_below" json:"demote_below"`
	PromoteAbove float64       `yaml:"promote_above" json:"promote_above"`
}

// LearningConfig represents pattern learner configuration.
type LearningConfig struct {
	Window time.Duration `yaml:"window" json:"window"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// SeedBackend describes a backend registered at startup.
type SeedBackend struct {
	Domain string             `yaml:"domain" json:"domain"`
	Tier   models.Tier        `yaml:"tier" json:"tier"`
	Kind   models.BackendKind `yaml:"kind" json:"kind"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		DataDir:         "./data",
		ShutdownTimeout: 30 * time.Second,
		Registry: RegistryConfig{
			DecayHalfLife:             time.Hour,
			MigrationRecordsPerSecond: 1000,
			MigrationBatchSize:        256,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
			DegradedAfter: 1,
			OfflineAfter:  3,
		},
		Classifier: ClassifierConfig{
			RoutingThreshold: 0.5,
			FallbackDomain:   "generic",
			HotAccessRate:    10,
			WarmAccessRate:   1,
		},
		Router: RouterConfig{
			MaxErrorRate:   0.25,
			FallbackDomain: "generic",
		},
		Parser: ParserConfig{
			ConfidenceThreshold: 0.5,
		},
		Executor: ExecutorConfig{
			MaxConcurrency: 8,
			MaxRetries:     2,
			RetryBackoff:   50 * time.Millisecond,
			PlanTimeout:    60 * time.Second,
			StepTimeout:    30 * time.Second,
		},
		Rebalance: RebalanceConfig{
			Enabled:      true,
			Interval:     5 * time.Minute,
			DemoteBelow:  0.5,
			PromoteAbove: 10,
		},
		Learning: LearningConfig{
			Window: 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
		Seeds: []SeedBackend{
			{Domain: "user", Tier: models.TierHot, Kind: models.KindMemory},
			{Domain: "message", Tier: models.TierHot, Kind: models.KindMemory},
			{Domain: "product", Tier: models.TierWarm, Kind: models.KindDuckDB},
			{Domain: "event", Tier: models.TierWarm, Kind: models.KindDuckDB},
			{Domain: "metric", Tier: models.TierWarm, Kind: models.KindDuckDB},
			{Domain: "log", Tier: models.TierCold, Kind: models.KindDuckDB},
			{Domain: "generic", Tier: models.TierWarm, Kind: models.KindDuckDB},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Registry.DecayHalfLife <= 0 {
		return fmt.Errorf("registry.decay_half_life must be positive")
	}
	if c.Registry.MigrationRecordsPerSecond <= 0 {
		return fmt.Errorf("registry.migration_records_per_second must be positive")
	}
	if c.Executor.MaxConcurrency <= 0 {
		return fmt.Errorf("executor.max_concurrency must be positive")
	}
	if c.Classifier.RoutingThreshold <= 0 || c.Classifier.RoutingThreshold > 1 {
		return fmt.Errorf("classifier.routing_threshold must be in (0, 1]")
	}
	if c.Parser.ConfidenceThreshold <= 0 || c.Parser.ConfidenceThreshold > 1 {
		return fmt.Errorf("parser.confidence_threshold must be in (0, 1]")
	}
	if c.Rebalance.Enabled && c.Rebalance.Interval <= 0 {
		return fmt.Errorf("rebalance.interval must be positive when rebalancing is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address cannot be empty when metrics are enabled")
	}
	for i, seed := range c.Seeds {
		if seed.Domain == "" {
			return fmt.Errorf("seeds[%d].domain cannot be empty", i)
		}
		if !seed.Tier.Valid() {
			return fmt.Errorf("seeds[%d].tier %q is not a valid tier", i, seed.Tier)
		}
	}
	return nil
}
