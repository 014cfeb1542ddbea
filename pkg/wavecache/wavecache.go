// Package wavecache is the public entry point of the sample cache engine.
// It assembles the default tier back-ends from configuration and exposes
// the cache manager to host applications.
package wavecache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wavecache/wavecache/internal/cache"
	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/internal/metrics"
	"github.com/wavecache/wavecache/internal/tier"
	"github.com/wavecache/wavecache/pkg/types"
)

// Cache is the public handle over the cache manager.
type Cache = cache.Manager

// Options mirrors the manager's optional dependencies.
type Options = cache.Options

// Config re-exports the engine configuration.
type Config = config.Config

// Partial re-exports the hot-reload configuration subset.
type Partial = config.Partial

// MetricsConfig re-exports the Prometheus collector configuration.
type MetricsConfig = metrics.Config

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file with defaults for absent
// fields.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// NewCollector creates a Prometheus collector for Options.Metrics.
func NewCollector(cfg *MetricsConfig) (*metrics.Collector, error) {
	return metrics.NewCollector(cfg)
}

// New builds a cache with the default tier back-ends: an in-process memory
// store, a local disk store under cfg.Disk.Directory, and an S3 blob store
// when a bucket is configured. Hosts needing custom back-ends use
// NewWithStores instead.
func New(ctx context.Context, cfg *Config, opts Options) (*Cache, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	stores := map[types.Tier]types.TierStore{
		types.TierMemory: tier.NewMemoryStore(),
	}

	disk, err := tier.NewDiskStore(cfg.Disk)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk tier: %w", err)
	}
	stores[types.TierDisk] = disk

	if cfg.Blob.Bucket != "" {
		blob, err := tier.NewBlobStore(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("failed to open blob tier: %w", err)
		}
		stores[types.TierBlob] = blob
	}

	return cache.New(cfg, stores, opts)
}

// NewWithStores builds a cache over caller-provided tier back-ends. Any
// type satisfying types.TierStore may serve a tier; absent tiers are
// routed around.
func NewWithStores(cfg *Config, stores map[types.Tier]types.TierStore, opts Options) (*Cache, error) {
	return cache.New(cfg, stores, opts)
}

// NopLogger returns a disabled logger for hosts that do not wire logging.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
