// Package metrics exposes cache engine instrumentation via Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wavecache/wavecache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector registers and updates the engine's Prometheus metrics on a
// private registry. A disabled collector is a safe no-op, so callers never
// nil-check before recording.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	hitCounter        *prometheus.CounterVec
	evictionCounter   prometheus.Counter
	evictedBytes      prometheus.Counter
	cacheSizeGauge    prometheus.Gauge
	cacheCountGauge   prometheus.Gauge
	pressureGauge     prometheus.Gauge
	tierErrorCounter  *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a collector. A nil config enables the default
// embedded-registry setup without an HTTP listener.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "wavecache",
		}
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	ns := config.Namespace
	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "operations_total",
		Help:      "Total cache operations by type and tier",
	}, []string{"operation", "tier"})

	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "operation_duration_seconds",
		Help:      "Cache operation latency by type and tier",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"operation", "tier"})

	c.hitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "lookups_total",
		Help:      "Cache lookups by result",
	}, []string{"result"})

	c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "evictions_total",
		Help:      "Total entries evicted",
	})

	c.evictedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "evicted_bytes_total",
		Help:      "Total bytes reclaimed by eviction",
	})

	c.cacheSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "size_bytes",
		Help:      "Current accounted cache size in bytes",
	})

	c.cacheCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "entries",
		Help:      "Current number of cache entries",
	})

	c.pressureGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_pressure_level",
		Help:      "Current memory pressure level (0=none .. 4=critical)",
	})

	c.tierErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "tier_errors_total",
		Help:      "Tier back-end errors by tier and operation",
	}, []string{"tier", "operation"})

	collectors := []prometheus.Collector{
		c.operationCounter, c.operationDuration, c.hitCounter,
		c.evictionCounter, c.evictedBytes,
		c.cacheSizeGauge, c.cacheCountGauge, c.pressureGauge,
		c.tierErrorCounter,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Registry exposes the private registry for embedding into a host metrics
// endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) enabled() bool {
	return c != nil && c.registry != nil
}

// RecordOperation records one completed cache operation on a tier.
func (c *Collector) RecordOperation(operation string, tier types.Tier, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.operationCounter.WithLabelValues(operation, tier.String()).Inc()
	c.operationDuration.WithLabelValues(operation, tier.String()).Observe(duration.Seconds())
}

// RecordLookup records a cache hit or miss.
func (c *Collector) RecordLookup(hit bool) {
	if !c.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.hitCounter.WithLabelValues(result).Inc()
}

// RecordEviction records evicted entries and reclaimed bytes.
func (c *Collector) RecordEviction(count int, bytes int64) {
	if !c.enabled() {
		return
	}
	c.evictionCounter.Add(float64(count))
	c.evictedBytes.Add(float64(bytes))
}

// RecordTierError records a tier back-end failure.
func (c *Collector) RecordTierError(tier types.Tier, operation string) {
	if !c.enabled() {
		return
	}
	c.tierErrorCounter.WithLabelValues(tier.String(), operation).Inc()
}

// SetCacheState updates the size, count, and pressure gauges.
func (c *Collector) SetCacheState(bytes int64, count int, pressure types.MemoryPressureLevel) {
	if !c.enabled() {
		return
	}
	c.cacheSizeGauge.Set(float64(bytes))
	c.cacheCountGauge.Set(float64(count))
	c.pressureGauge.Set(float64(pressure))
}

// Start serves the metrics endpoint when a port is configured. No-op
// otherwise.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() || c.config.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		// ErrServerClosed is the normal shutdown path.
		_ = c.server.ListenAndServe()
	}()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// Stop shuts down the metrics endpoint if one was started.
func (c *Collector) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}
