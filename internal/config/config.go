// Package config defines the cache engine configuration surface. All
// decision-relevant knobs are hot-reloadable through Partial updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/wavecache/wavecache/pkg/types"
)

// EvictionWeights are the multi-factor scoring weights of the eviction
// policy engine. Each weighted term is normalized to [0,1]; the literal
// defaults are tunable, not guaranteed-optimal constants.
type EvictionWeights struct {
	Recency   float64 `yaml:"recency"`
	Frequency float64 `yaml:"frequency"`
	Usage     float64 `yaml:"usage"`
	Quality   float64 `yaml:"quality"`
	Size      float64 `yaml:"size"`
}

// PressureThresholds are the utilization ratios at which each pressure
// level begins. Must be strictly increasing.
type PressureThresholds struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// TargetUtilization is the desired post-eviction utilization per pressure
// level, used to size eviction batches.
type TargetUtilization struct {
	None     float64 `yaml:"none"`
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// TierTimeouts bound each physical tier operation. A timed-out tier
// operation counts as a failure for performance tracking but does not fail
// the overall cache operation while another tier can serve.
type TierTimeouts struct {
	Memory time.Duration `yaml:"memory"`
	Disk   time.Duration `yaml:"disk"`
	Blob   time.Duration `yaml:"blob"`
}

// For returns the configured timeout for a tier.
func (t TierTimeouts) For(tier types.Tier) time.Duration {
	switch tier {
	case types.TierMemory:
		return t.Memory
	case types.TierDisk:
		return t.Disk
	default:
		return t.Blob
	}
}

// DiskStoreConfig configures the local disk tier back-end.
type DiskStoreConfig struct {
	Directory        string        `yaml:"directory"`
	CompressionLevel int           `yaml:"compression_level"` // zstd level, 0 = disabled
	SyncInterval     time.Duration `yaml:"sync_interval"`
}

// BlobStoreConfig configures the S3-compatible blob tier back-end.
type BlobStoreConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	KeyPrefix       string `yaml:"key_prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// Config is the full configuration surface of the cache engine.
type Config struct {
	// Capacity
	MaxCacheSize int64 `yaml:"max_cache_size"`
	MaxSamples   int   `yaml:"max_samples"`

	// Routing
	RoutingStrategy          types.RoutingStrategy `yaml:"routing_strategy"`
	MemoryTierThreshold      int64                 `yaml:"memory_tier_threshold"`
	DiskTierThreshold        int64                 `yaml:"disk_tier_threshold"`
	HighFrequencyThreshold   uint64                `yaml:"high_frequency_threshold"`
	MediumFrequencyThreshold uint64                `yaml:"medium_frequency_threshold"`

	// Prediction
	EnablePredictiveCaching       bool    `yaml:"enable_predictive_caching"`
	PredictionConfidenceThreshold float64 `yaml:"prediction_confidence_threshold"`

	// Eviction
	EvictionWeights    EvictionWeights `yaml:"eviction_weights"`
	MinRetentionTime   time.Duration   `yaml:"min_retention_time"`
	EmergencyBatchSize int             `yaml:"emergency_batch_size"`

	// Memory pressure
	MemoryBudget       int64              `yaml:"memory_budget"`
	PressureThresholds PressureThresholds `yaml:"pressure_thresholds"`
	TargetUtilization  TargetUtilization  `yaml:"target_utilization"`

	// Optimization
	OptimizationInterval         time.Duration `yaml:"optimization_interval"`
	EnableBackgroundOptimization bool          `yaml:"enable_background_optimization"`

	// Tier back-ends
	TierTimeouts TierTimeouts    `yaml:"tier_timeouts"`
	Disk         DiskStoreConfig `yaml:"disk"`
	Blob         BlobStoreConfig `yaml:"blob"`

	// Analyzer windows
	AccessHistoryDepth int `yaml:"access_history_depth"`
	UsageWindowSize    int `yaml:"usage_window_size"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		MaxCacheSize: 500 * 1024 * 1024, // 500MB
		MaxSamples:   10000,

		RoutingStrategy:          types.StrategyHybrid,
		MemoryTierThreshold:      5 * 1024 * 1024,  // 5MB
		DiskTierThreshold:        50 * 1024 * 1024, // 50MB
		HighFrequencyThreshold:   10,
		MediumFrequencyThreshold: 3,

		EnablePredictiveCaching:       true,
		PredictionConfidenceThreshold: 0.7,

		EvictionWeights: EvictionWeights{
			Recency:   0.3,
			Frequency: 0.25,
			Usage:     0.2,
			Quality:   0.15,
			Size:      0.1,
		},
		MinRetentionTime:   30 * time.Second,
		EmergencyBatchSize: 50,

		MemoryBudget: 500 * 1024 * 1024,
		PressureThresholds: PressureThresholds{
			Low:      0.5,
			Medium:   0.7,
			High:     0.85,
			Critical: 0.95,
		},
		TargetUtilization: TargetUtilization{
			None:     0.9,
			Low:      0.85,
			Medium:   0.8,
			High:     0.7,
			Critical: 0.6,
		},

		OptimizationInterval:         5 * time.Minute,
		EnableBackgroundOptimization: true,

		TierTimeouts: TierTimeouts{
			Memory: 100 * time.Millisecond,
			Disk:   2 * time.Second,
			Blob:   15 * time.Second,
		},
		Disk: DiskStoreConfig{
			Directory:        os.TempDir() + "/wavecache",
			CompressionLevel: 3,
			SyncInterval:     time.Minute,
		},

		AccessHistoryDepth: 50,
		UsageWindowSize:    1000,
	}
}

// Load reads a configuration file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("max_cache_size must be positive, got %d", c.MaxCacheSize)
	}
	if c.MaxSamples <= 0 {
		return fmt.Errorf("max_samples must be positive, got %d", c.MaxSamples)
	}
	if c.MemoryTierThreshold >= c.DiskTierThreshold {
		return fmt.Errorf("memory_tier_threshold (%d) must be below disk_tier_threshold (%d)",
			c.MemoryTierThreshold, c.DiskTierThreshold)
	}
	if c.PredictionConfidenceThreshold < 0 || c.PredictionConfidenceThreshold > 1 {
		return fmt.Errorf("prediction_confidence_threshold must be in [0,1], got %f",
			c.PredictionConfidenceThreshold)
	}
	t := c.PressureThresholds
	if !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		return fmt.Errorf("pressure_thresholds must be strictly increasing: %+v", t)
	}
	switch c.RoutingStrategy {
	case types.StrategySizeBased, types.StrategyFrequencyBased, types.StrategyPerformanceBased,
		types.StrategyMLOptimized, types.StrategyHybrid:
	default:
		return fmt.Errorf("unknown routing_strategy %q", c.RoutingStrategy)
	}
	return nil
}

// Clone returns a copy safe for concurrent snapshotting.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
