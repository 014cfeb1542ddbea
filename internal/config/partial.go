package config

import (
	"time"

	"github.com/wavecache/wavecache/pkg/types"
)

// Partial carries a hot-reloadable subset of Config. Nil fields leave the
// current value untouched; the manager applies a Partial atomically by
// swapping its config snapshot.
type Partial struct {
	MaxCacheSize *int64 `yaml:"max_cache_size,omitempty"`
	MaxSamples   *int   `yaml:"max_samples,omitempty"`

	RoutingStrategy          *types.RoutingStrategy `yaml:"routing_strategy,omitempty"`
	MemoryTierThreshold      *int64                 `yaml:"memory_tier_threshold,omitempty"`
	DiskTierThreshold        *int64                 `yaml:"disk_tier_threshold,omitempty"`
	HighFrequencyThreshold   *uint64                `yaml:"high_frequency_threshold,omitempty"`
	MediumFrequencyThreshold *uint64                `yaml:"medium_frequency_threshold,omitempty"`

	EnablePredictiveCaching       *bool    `yaml:"enable_predictive_caching,omitempty"`
	PredictionConfidenceThreshold *float64 `yaml:"prediction_confidence_threshold,omitempty"`

	EvictionWeights    *EvictionWeights `yaml:"eviction_weights,omitempty"`
	MinRetentionTime   *time.Duration   `yaml:"min_retention_time,omitempty"`
	EmergencyBatchSize *int             `yaml:"emergency_batch_size,omitempty"`

	MemoryBudget *int64 `yaml:"memory_budget,omitempty"`

	OptimizationInterval         *time.Duration `yaml:"optimization_interval,omitempty"`
	EnableBackgroundOptimization *bool          `yaml:"enable_background_optimization,omitempty"`
}

// Apply merges the partial into a copy of base and validates the result.
func (p *Partial) Apply(base *Config) (*Config, error) {
	cfg := base.Clone()

	if p.MaxCacheSize != nil {
		cfg.MaxCacheSize = *p.MaxCacheSize
	}
	if p.MaxSamples != nil {
		cfg.MaxSamples = *p.MaxSamples
	}
	if p.RoutingStrategy != nil {
		cfg.RoutingStrategy = *p.RoutingStrategy
	}
	if p.MemoryTierThreshold != nil {
		cfg.MemoryTierThreshold = *p.MemoryTierThreshold
	}
	if p.DiskTierThreshold != nil {
		cfg.DiskTierThreshold = *p.DiskTierThreshold
	}
	if p.HighFrequencyThreshold != nil {
		cfg.HighFrequencyThreshold = *p.HighFrequencyThreshold
	}
	if p.MediumFrequencyThreshold != nil {
		cfg.MediumFrequencyThreshold = *p.MediumFrequencyThreshold
	}
	if p.EnablePredictiveCaching != nil {
		cfg.EnablePredictiveCaching = *p.EnablePredictiveCaching
	}
	if p.PredictionConfidenceThreshold != nil {
		cfg.PredictionConfidenceThreshold = *p.PredictionConfidenceThreshold
	}
	if p.EvictionWeights != nil {
		cfg.EvictionWeights = *p.EvictionWeights
	}
	if p.MinRetentionTime != nil {
		cfg.MinRetentionTime = *p.MinRetentionTime
	}
	if p.EmergencyBatchSize != nil {
		cfg.EmergencyBatchSize = *p.EmergencyBatchSize
	}
	if p.MemoryBudget != nil {
		cfg.MemoryBudget = *p.MemoryBudget
	}
	if p.OptimizationInterval != nil {
		cfg.OptimizationInterval = *p.OptimizationInterval
	}
	if p.EnableBackgroundOptimization != nil {
		cfg.EnableBackgroundOptimization = *p.EnableBackgroundOptimization
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
