// Package cache provides the SampleCacheManager, the orchestrating façade
// over the analyzers, router, eviction engine, and tier back-ends.
package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/wavecache/wavecache/internal/analyzer"
	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/internal/eviction"
	"github.com/wavecache/wavecache/internal/memory"
	"github.com/wavecache/wavecache/internal/metrics"
	"github.com/wavecache/wavecache/internal/router"
	"github.com/wavecache/wavecache/internal/tierperf"
	"github.com/wavecache/wavecache/pkg/errors"
	"github.com/wavecache/wavecache/pkg/types"
)

// Options carries the optional manager dependencies.
type Options struct {
	Metrics  *metrics.Collector
	Observer types.Observer
	Logger   zerolog.Logger
}

// Manager is the sample cache orchestrator. It exclusively owns the entry
// index: tier stores hold payload bytes but are mutated only on the
// manager's instruction. Index mutations serialize behind one mutex; tier
// I/O runs outside it under per-tier timeouts.
type Manager struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	mu         sync.RWMutex
	entries    map[string]*types.CacheEntry
	totalBytes int64

	stores map[types.Tier]types.TierStore

	access  *analyzer.AccessPatternAnalyzer
	usage   *analyzer.UsagePatternAnalyzer
	mem     *memory.Manager
	evictor *eviction.Engine
	perf    *tierperf.Tracker
	router  *router.Router

	collector *metrics.Collector
	observer  types.Observer
	logger    zerolog.Logger

	hits      uint64 // atomic
	misses    uint64 // atomic
	evictions uint64 // atomic

	loadTimeTotal int64 // atomic, nanoseconds
	loadTimeCount int64 // atomic

	optimizing   int32 // atomic CAS guard
	lastOptimize int64 // atomic, unix nanoseconds
}

// New creates a manager wired to the given tier stores. Stores for absent
// tiers may be omitted; routing degrades around them. A nil config selects
// defaults.
func New(cfg *config.Config, stores map[types.Tier]types.TierStore, opts Options) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("cache").WithOperation("new")
	}
	if len(stores) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "at least one tier store is required").
			WithComponent("cache").WithOperation("new")
	}

	logger := opts.Logger.With().Str("component", "cache").Logger()

	access := analyzer.NewAccessPatternAnalyzer(cfg.AccessHistoryDepth)
	usage := analyzer.NewUsagePatternAnalyzer(cfg.UsageWindowSize, access)
	mem := memory.NewManager(cfg, opts.Logger)
	perf := tierperf.NewTracker(opts.Logger)

	m := &Manager{
		cfg:       cfg,
		entries:   make(map[string]*types.CacheEntry),
		stores:    stores,
		access:    access,
		usage:     usage,
		mem:       mem,
		evictor:   eviction.NewEngine(cfg, usage, opts.Logger),
		perf:      perf,
		router:    router.NewRouter(cfg, access, perf, opts.Logger),
		collector: opts.Metrics,
		observer:  opts.Observer,
		logger:    logger,
	}
	return m, nil
}

func (m *Manager) config() *config.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Get retrieves a cached sample. A miss is a result variant, not an error;
// an error is returned only when the entry is indexed but no holding tier
// could serve it.
func (m *Manager) Get(ctx context.Context, key string) (types.GetResult, error) {
	start := time.Now()
	cfg := m.config()

	m.mu.RLock()
	entry, ok := m.entries[key]
	var snapshot *types.CacheEntry
	if ok {
		snapshot = entry.Clone()
	}
	m.mu.RUnlock()

	if !ok || !snapshot.Valid {
		atomic.AddUint64(&m.misses, 1)
		m.collector.RecordLookup(false)
		return types.GetResult{Hit: false}, nil
	}

	decision := m.router.DecideRetrieval(key, snapshot.PresentTiers())
	attempts := append([]types.Tier{decision.PrimaryTier}, decision.AdditionalTiers...)
	if len(snapshot.PresentTiers()) == 0 {
		attempts = nil
	}

	var lastErr error
	for _, tier := range attempts {
		store, ok := m.stores[tier]
		if !ok {
			continue
		}

		opStart := time.Now()
		opCtx, cancel := context.WithTimeout(ctx, cfg.TierTimeouts.For(tier))
		data, err := store.Read(opCtx, key)
		cancel()
		elapsed := time.Since(opStart)

		m.perf.RecordOperation(tier, tierperf.OpGet, elapsed, err == nil, err)
		if err != nil {
			lastErr = err
			m.collector.RecordTierError(tier, "read")
			m.notifyTierDegraded(tier, err)
			m.logger.Warn().Str("key", key).Str("tier", tier.String()).Err(err).
				Msg("tier read failed, trying next holder")
			continue
		}

		m.recordHit(key, tier, int64(len(data)), start)
		m.collector.RecordOperation("get", tier, elapsed)
		return types.GetResult{
			Hit:      true,
			Data:     data,
			Tier:     tier,
			LoadTime: time.Since(start),
		}, nil
	}

	atomic.AddUint64(&m.misses, 1)
	m.collector.RecordLookup(false)
	if lastErr != nil {
		return types.GetResult{}, errors.Newf(errors.ErrCodeTierUnavailable,
			"no tier could serve %q", key).
			WithComponent("cache").WithOperation("get").WithCause(lastErr)
	}
	return types.GetResult{Hit: false}, nil
}

func (m *Manager) recordHit(key string, tier types.Tier, size int64, start time.Time) {
	now := time.Now()

	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		entry.Touch(now)
		if state, ok := entry.TierState[tier]; ok {
			state.LastAccessed = now
		}
	}
	m.mu.Unlock()

	m.access.RecordAccess(key, tier, size, now)
	m.usage.Record(key, now)

	atomic.AddUint64(&m.hits, 1)
	atomic.AddInt64(&m.loadTimeTotal, int64(time.Since(start)))
	atomic.AddInt64(&m.loadTimeCount, 1)
	m.collector.RecordLookup(true)
}

// Set caches a sample under key, evicting first when capacity demands it.
// The inserted key itself is never an eviction candidate. Placement follows
// the router; a failed tier write degrades to the ranked alternatives
// rather than aborting, and the operation fails only when no tier accepts
// the payload.
func (m *Manager) Set(ctx context.Context, key string, data []byte, metadata types.SampleMetadata) (types.SetResult, error) {
	cfg := m.config()

	if key == "" || len(data) == 0 {
		return types.SetResult{}, errors.New(errors.ErrCodeInvalidEntry,
			"key and payload must be non-empty").
			WithComponent("cache").WithOperation("set")
	}
	size := int64(len(data))
	if size > cfg.MaxCacheSize {
		return types.SetResult{}, errors.Newf(errors.ErrCodeCapacityExceeded,
			"payload of %s exceeds cache capacity %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(cfg.MaxCacheSize))).
			WithComponent("cache").WithOperation("set")
	}

	result := types.SetResult{}
	if m.shouldEvictBeforeAdding(cfg, key, size) {
		evicted, freed := m.performIntelligentEviction(ctx, cfg, size, key)
		result.EvictedCount = evicted
		result.EvictedBytes = freed

		// Eviction is best effort; admission is not. If locked entries or
		// the emergency batch cap kept the shortfall, the entry must be
		// rejected rather than breaking the capacity bound.
		m.mu.RLock()
		total := m.totalBytes
		count := len(m.entries)
		if old, ok := m.entries[key]; ok {
			total -= old.Size
			count--
		}
		m.mu.RUnlock()
		if total+size > cfg.MaxCacheSize || count+1 > cfg.MaxSamples {
			return result, errors.Newf(errors.ErrCodeCapacityExceeded,
				"eviction freed %s but %q (%s) still does not fit",
				humanize.IBytes(uint64(result.EvictedBytes)), key, humanize.IBytes(uint64(size))).
				WithComponent("cache").WithOperation("set")
		}
	}

	decision := m.router.DecideStorage(key, size)
	written := m.writeTiers(ctx, cfg, key, data, decision)
	if len(written) == 0 {
		return result, errors.Newf(errors.ErrCodeStorageWrite,
			"no tier accepted %q", key).
			WithComponent("cache").WithOperation("set")
	}

	now := time.Now()
	entry := types.NewCacheEntry(key, nil, metadata)
	entry.Size = size
	for _, tier := range written {
		entry.MarkPresent(tier, size, false, now)
	}

	m.mu.Lock()
	if old, ok := m.entries[key]; ok {
		m.totalBytes -= old.Size
	}
	m.entries[key] = entry
	m.totalBytes += size
	total := m.totalBytes
	count := len(m.entries)
	m.mu.Unlock()

	m.mem.SetCacheBytes(total)
	m.collector.SetCacheState(total, count, m.mem.Pressure())

	m.access.RecordAccess(key, written[0], size, now)
	m.usage.Record(key, now)

	m.logger.Debug().
		Str("key", key).
		Str("size", humanize.IBytes(uint64(size))).
		Str("tier", written[0].String()).
		Strs("reasoning", decision.Reasoning).
		Msg("sample cached")

	result.Success = true
	result.Tiers = written
	m.maybeScheduleOptimization(cfg)
	return result, nil
}

// writeTiers performs the physical writes for a routing decision: primary
// first, falling through the ranked alternatives if it fails, then
// best-effort additional copies.
func (m *Manager) writeTiers(ctx context.Context, cfg *config.Config, key string, data []byte, decision types.RoutingDecision) []types.Tier {
	var written []types.Tier

	primaryOrder := []types.Tier{decision.PrimaryTier}
	for _, alt := range decision.Alternatives {
		primaryOrder = append(primaryOrder, alt.Tier)
	}

	for _, tier := range primaryOrder {
		if m.writeOne(ctx, cfg, tier, key, data) {
			written = append(written, tier)
			break
		}
	}
	if len(written) == 0 {
		return nil
	}

	for _, tier := range decision.AdditionalTiers {
		if tier == written[0] {
			continue
		}
		if m.writeOne(ctx, cfg, tier, key, data) {
			written = append(written, tier)
		}
	}
	return written
}

func (m *Manager) writeOne(ctx context.Context, cfg *config.Config, tier types.Tier, key string, data []byte) bool {
	store, ok := m.stores[tier]
	if !ok {
		return false
	}

	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, cfg.TierTimeouts.For(tier))
	err := store.Write(opCtx, key, data)
	cancel()
	elapsed := time.Since(start)

	m.perf.RecordOperation(tier, tierperf.OpSet, elapsed, err == nil, err)
	if err != nil {
		m.collector.RecordTierError(tier, "write")
		m.notifyTierDegraded(tier, err)
		m.logger.Warn().Str("key", key).Str("tier", tier.String()).Err(err).
			Msg("tier write failed")
		return false
	}
	m.collector.RecordOperation("set", tier, elapsed)
	return true
}

// Delete removes a sample from the index and every tier. Deleting an
// absent key is not an error.
func (m *Manager) Delete(ctx context.Context, key string) error {
	cfg := m.config()

	m.mu.Lock()
	entry, ok := m.entries[key]
	var present []types.Tier
	if ok {
		present = entry.PresentTiers()
		delete(m.entries, key)
		m.totalBytes -= entry.Size
	}
	total := m.totalBytes
	count := len(m.entries)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	m.mem.SetCacheBytes(total)
	m.collector.SetCacheState(total, count, m.mem.Pressure())
	m.deleteFromTiers(ctx, cfg, key, present)
	return nil
}

func (m *Manager) deleteFromTiers(ctx context.Context, cfg *config.Config, key string, tiers []types.Tier) {
	for _, tier := range tiers {
		store, ok := m.stores[tier]
		if !ok {
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, cfg.TierTimeouts.For(tier))
		err := store.Delete(opCtx, key)
		cancel()
		if err != nil {
			m.collector.RecordTierError(tier, "delete")
			m.logger.Warn().Str("key", key).Str("tier", tier.String()).Err(err).
				Msg("tier delete failed, bytes may be orphaned")
		}
	}
}

// Has reports whether key is indexed, without touching access bookkeeping.
func (m *Manager) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return ok && entry.Valid
}

// Size reports the authoritative index totals.
func (m *Manager) Size() types.SizeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.SizeInfo{Count: len(m.entries), Bytes: m.totalBytes}
}

// Clear removes every entry from the index and all tiers.
func (m *Manager) Clear(ctx context.Context) error {
	cfg := m.config()

	m.mu.Lock()
	removed := make(map[string][]types.Tier, len(m.entries))
	for key, entry := range m.entries {
		removed[key] = entry.PresentTiers()
	}
	m.entries = make(map[string]*types.CacheEntry)
	m.totalBytes = 0
	m.mu.Unlock()

	m.mem.SetCacheBytes(0)
	m.collector.SetCacheState(0, 0, m.mem.Pressure())

	for key, tiers := range removed {
		m.deleteFromTiers(ctx, cfg, key, tiers)
	}

	m.logger.Info().Int("removed", len(removed)).Msg("cache cleared")
	return nil
}

// shouldEvictBeforeAdding decides whether admitting size more bytes
// requires making room first.
func (m *Manager) shouldEvictBeforeAdding(cfg *config.Config, key string, size int64) bool {
	m.mu.RLock()
	total := m.totalBytes
	count := len(m.entries)
	_, replacing := m.entries[key]
	m.mu.RUnlock()

	if replacing {
		// Overwrites free the old copy; only growth matters.
		return total+size > cfg.MaxCacheSize
	}
	if total+size > cfg.MaxCacheSize || count+1 > cfg.MaxSamples {
		return true
	}
	return m.mem.Pressure() >= types.PressureHigh
}

// performIntelligentEviction frees room for an incoming payload. The
// incoming key is excluded from candidacy. Returns entries evicted and
// bytes freed.
func (m *Manager) performIntelligentEviction(ctx context.Context, cfg *config.Config, needed int64, excludeKey string) (int, int64) {
	pressure := m.mem.Pressure()
	target := m.mem.TargetUtilization(pressure)

	m.mu.RLock()
	candidates := make([]*types.CacheEntry, 0, len(m.entries))
	for key, entry := range m.entries {
		if key == excludeKey {
			continue
		}
		candidates = append(candidates, entry.Clone())
	}
	total := m.totalBytes
	m.mu.RUnlock()

	// Free enough for the newcomer and to settle at the pressure target.
	bytesToFree := total + needed - cfg.MaxCacheSize
	if overTarget := total - int64(target*float64(cfg.MaxCacheSize)); overTarget > bytesToFree {
		bytesToFree = overTarget
	}
	if bytesToFree <= 0 {
		bytesToFree = needed
	}

	selected := m.evictor.SelectCandidates(ctx, candidates, pressure, bytesToFree)
	count, freed := m.evictEntries(ctx, cfg, selected)

	// Admission is non-negotiable: if retention or priority protection
	// spared too much, escalate to the critical ruleset for the shortfall.
	if mustFree := total + needed - cfg.MaxCacheSize; freed < mustFree && pressure < types.PressureCritical {
		remaining := make([]*types.CacheEntry, 0, len(candidates))
		evicted := make(map[string]bool, len(selected))
		for _, candidate := range selected {
			evicted[candidate.Key] = true
		}
		for _, entry := range candidates {
			if !evicted[entry.Key] {
				remaining = append(remaining, entry)
			}
		}

		escalated := m.evictor.SelectCandidates(ctx, remaining, types.PressureCritical, mustFree-freed)
		extraCount, extraFreed := m.evictEntries(ctx, cfg, escalated)
		count += extraCount
		freed += extraFreed
	}

	if count == 0 {
		return 0, 0
	}
	m.logger.Info().
		Str("pressure", pressure.String()).
		Int("evicted", count).
		Str("freed", humanize.IBytes(uint64(freed))).
		Msg("eviction pass completed")
	return count, freed
}

// evictEntries removes the selected candidates, checking ctx between each.
func (m *Manager) evictEntries(ctx context.Context, cfg *config.Config, selected []types.EvictionCandidate) (int, int64) {
	var count int
	var freed int64

	for _, candidate := range selected {
		select {
		case <-ctx.Done():
			return count, freed
		default:
		}

		m.mu.Lock()
		entry, ok := m.entries[candidate.Key]
		var present []types.Tier
		if ok {
			present = entry.PresentTiers()
			delete(m.entries, candidate.Key)
			m.totalBytes -= entry.Size
		}
		total := m.totalBytes
		remaining := len(m.entries)
		m.mu.Unlock()

		if !ok {
			continue
		}

		m.mem.SetCacheBytes(total)
		m.collector.SetCacheState(total, remaining, m.mem.Pressure())
		m.deleteFromTiers(ctx, cfg, candidate.Key, present)

		count++
		freed += entry.Size
		atomic.AddUint64(&m.evictions, 1)
		if m.observer != nil {
			m.observer.EntryEvicted(candidate.Key, entry.Size)
		}
	}

	m.collector.RecordEviction(count, freed)
	return count, freed
}

func (m *Manager) notifyTierDegraded(tier types.Tier, err error) {
	if m.observer != nil && !m.perf.Healthy(tier) {
		m.observer.TierDegraded(tier, err)
	}
}

// maybeScheduleOptimization kicks a background optimization pass when
// enabled and the interval has elapsed. The optimize CAS guard keeps
// concurrent triggers single-flight.
func (m *Manager) maybeScheduleOptimization(cfg *config.Config) {
	if !cfg.EnableBackgroundOptimization {
		return
	}
	last := atomic.LoadInt64(&m.lastOptimize)
	if time.Since(time.Unix(0, last)) < cfg.OptimizationInterval {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := m.Optimize(ctx); err != nil && !stderrors.Is(err, errors.ErrOptimizationInProgress) {
			m.logger.Warn().Err(err).Msg("background optimization failed")
		}
	}()
}
