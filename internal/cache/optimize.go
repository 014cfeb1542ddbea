package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/errors"
	"github.com/wavecache/wavecache/pkg/types"
)

// Start launches the manager's background workers (currently the memory
// sampler). Optional; the cache is fully usable without it.
func (m *Manager) Start(ctx context.Context) {
	m.mem.Start(ctx)
}

// Stop terminates background workers.
func (m *Manager) Stop() {
	m.mem.Stop()
}

// Optimize runs one maintenance pass: refresh the usage analysis, apply
// high-priority eviction recommendations, and evict down to the current
// pressure target. Single-flight: a concurrent call fails fast with
// ErrOptimizationInProgress. Cancelling ctx stops the pass between
// candidates.
func (m *Manager) Optimize(ctx context.Context) (types.OptimizationResult, error) {
	if !atomic.CompareAndSwapInt32(&m.optimizing, 0, 1) {
		return types.OptimizationResult{}, errors.ErrOptimizationInProgress
	}
	defer atomic.StoreInt32(&m.optimizing, 0)
	defer atomic.StoreInt64(&m.lastOptimize, time.Now().UnixNano())

	start := time.Now()
	cfg := m.config()
	result := types.OptimizationResult{Performed: true}

	analysis := m.usage.Analyze()
	m.logger.Debug().
		Str("classification", string(analysis.Classification)).
		Float64("efficiency", analysis.EfficiencyScore).
		Msg("usage analysis refreshed")

	// Recommendation-driven evictions first.
	var recommended []types.EvictionCandidate
	for _, rec := range m.usage.Recommendations() {
		if rec.Action != types.ActionEvict || rec.Priority < types.PriorityHigh {
			continue
		}
		m.mu.RLock()
		entry, ok := m.entries[rec.Key]
		var candidate types.EvictionCandidate
		if ok && !entry.Locked {
			candidate = types.EvictionCandidate{Key: rec.Key, BytesFreed: entry.Size}
		}
		m.mu.RUnlock()
		if candidate.Key != "" {
			recommended = append(recommended, candidate)
		}
	}
	if len(recommended) > 0 {
		count, freed := m.evictEntries(ctx, cfg, recommended)
		result.ItemsEvicted += count
		result.BytesFreed += freed
	}

	// Pressure-driven eviction down to the target utilization.
	pressure := m.mem.Pressure()
	target := m.mem.TargetUtilization(pressure)

	m.mu.RLock()
	total := m.totalBytes
	candidates := make([]*types.CacheEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		candidates = append(candidates, entry.Clone())
	}
	m.mu.RUnlock()
	result.ItemsProcessed = len(candidates)

	if overTarget := total - int64(target*float64(cfg.MaxCacheSize)); overTarget > 0 {
		selected := m.evictor.SelectCandidates(ctx, candidates, pressure, overTarget)
		count, freed := m.evictEntries(ctx, cfg, selected)
		result.ItemsEvicted += count
		result.BytesFreed += freed
	}

	result.Elapsed = time.Since(start)
	m.logger.Info().
		Int("evicted", result.ItemsEvicted).
		Str("freed", humanize.IBytes(uint64(result.BytesFreed))).
		Dur("elapsed", result.Elapsed).
		Msg("optimization pass completed")
	return result, nil
}

// Analytics aggregates manager counters with the component reports.
func (m *Manager) Analytics() types.CacheAnalytics {
	hits := atomic.LoadUint64(&m.hits)
	misses := atomic.LoadUint64(&m.misses)

	analytics := types.CacheAnalytics{
		Hits:            hits,
		Misses:          misses,
		Evictions:       atomic.LoadUint64(&m.evictions),
		Size:            m.Size(),
		Memory:          m.mem.Usage(),
		Pressure:        m.mem.Pressure(),
		EfficiencyScore: m.usage.EfficiencyScore(),
		Tiers:           m.perf.Reports(),
	}
	if lookups := hits + misses; lookups > 0 {
		analytics.HitRate = float64(hits) / float64(lookups)
	}
	if count := atomic.LoadInt64(&m.loadTimeCount); count > 0 {
		analytics.AverageLoadTime = time.Duration(atomic.LoadInt64(&m.loadTimeTotal) / count)
	}

	access := m.access.Analytics(10)
	analytics.Access = &access
	analytics.Usage = m.usage.LatestAnalysis()
	return analytics
}

// PredictiveRecommendations returns the preload plan: keys predicted to be
// requested soon that are not already resident, confidence-filtered and
// capped at limit. Empty when predictive caching is disabled.
func (m *Manager) PredictiveRecommendations(limit int) []types.PreloadOperation {
	cfg := m.config()
	if !cfg.EnablePredictiveCaching {
		return nil
	}

	plan := m.usage.PredictNextAccesses(0, cfg.PredictionConfidenceThreshold)

	filtered := make([]types.PreloadOperation, 0, len(plan))
	for _, op := range plan {
		if m.Has(op.Key) {
			continue
		}
		filtered = append(filtered, op)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered
}

// SynchronizeTiers reconciles the cross-tier copies of one entry, repairing
// checksum divergence most-recent-write-wins.
func (m *Manager) SynchronizeTiers(ctx context.Context, key string) (types.SyncReport, error) {
	cfg := m.config()

	m.mu.RLock()
	entry, ok := m.entries[key]
	var state map[types.Tier]*types.TierPresence
	if ok {
		state = entry.Clone().TierState
	}
	m.mu.RUnlock()

	if !ok {
		return types.SyncReport{}, errors.Newf(errors.ErrCodeObjectNotFound, "key %q not cached", key).
			WithComponent("cache").WithOperation("synchronize")
	}

	report := m.router.SynchronizeTiers(ctx, key, m.stores, state, cfg.TierTimeouts)

	// Fold repaired write timestamps back into the authoritative index.
	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		for tier, presence := range state {
			if current, ok := entry.TierState[tier]; ok {
				current.WrittenAt = presence.WrittenAt
				current.SizeOnTier = presence.SizeOnTier
			}
		}
	}
	m.mu.Unlock()
	return report, nil
}

// UpdateConfig applies a hot-reload partial, propagating the new snapshot
// to every component.
func (m *Manager) UpdateConfig(partial *config.Partial) error {
	if partial == nil {
		return nil
	}

	m.cfgMu.Lock()
	updated, err := partial.Apply(m.cfg)
	if err != nil {
		m.cfgMu.Unlock()
		return errors.New(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("cache").WithOperation("update_config")
	}
	m.cfg = updated
	m.cfgMu.Unlock()

	m.evictor.UpdateConfig(updated)
	m.router.UpdateConfig(updated)
	m.mem.SetBudget(updated.MemoryBudget)

	m.logger.Info().
		Str("strategy", string(updated.RoutingStrategy)).
		Str("max_size", humanize.IBytes(uint64(updated.MaxCacheSize))).
		Msg("configuration updated")
	return nil
}
