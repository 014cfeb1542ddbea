package types

import (
	"time"
)

// Tier identifies one physical storage tier, ordered fastest to slowest.
type Tier int

const (
	// TierMemory is the in-process tier: fastest, volatile, capacity-limited.
	TierMemory Tier = iota
	// TierDisk is the local persistent tier: durable, medium capacity.
	TierDisk
	// TierBlob is the object-store tier: durable, offline-capable, slowest.
	TierBlob
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	case TierBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Tiers returns all tiers ordered fastest to slowest. Components iterate
// this list rather than hard-coding tier identities.
func Tiers() []Tier {
	return []Tier{TierMemory, TierDisk, TierBlob}
}

// QualityProfile classifies the encoded quality of a cached sample. The
// engine never interprets payload content; the profile is used only for
// eviction tie-breaking.
type QualityProfile int

const (
	QualityLow QualityProfile = iota
	QualityStandard
	QualityHigh
	QualityLossless
)

// String returns the string representation of the quality profile.
func (q QualityProfile) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityStandard:
		return "standard"
	case QualityHigh:
		return "high"
	case QualityLossless:
		return "lossless"
	default:
		return "unknown"
	}
}

// SampleMetadata is the caller-supplied descriptor for a cached sample.
// The engine treats everything except Quality as opaque.
type SampleMetadata struct {
	Format           string            `json:"format"`
	Duration         time.Duration     `json:"duration"`
	Quality          QualityProfile    `json:"quality"`
	Category         string            `json:"category"`
	Tags             []string          `json:"tags,omitempty"`
	CustomProperties map[string]string `json:"custom_properties,omitempty"`
}

// TierPresence records where and how an entry is materialized on one tier.
type TierPresence struct {
	Present      bool      `json:"present"`
	SizeOnTier   int64     `json:"size_on_tier"`
	Compressed   bool      `json:"compressed"`
	LastAccessed time.Time `json:"last_accessed"`
	WrittenAt    time.Time `json:"written_at"`
}

// CacheEntry represents one cached item. The SampleCacheManager exclusively
// owns the authoritative index of entries; tier stores hold the physical
// bytes but are mutated only on the manager's instruction.
type CacheEntry struct {
	Key  string `json:"key"`
	Data []byte `json:"-"`
	Size int64  `json:"size"`

	Metadata SampleMetadata `json:"metadata"`

	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`

	Valid        bool `json:"valid"`
	NeedsRefresh bool `json:"needs_refresh"`
	Locked       bool `json:"locked"`   // never evict
	Priority     bool `json:"priority"` // soft protection

	TierState map[Tier]*TierPresence `json:"tier_state"`

	// QualityScore is a composite freshness/usefulness score in [0,1],
	// updated opportunistically by the manager.
	QualityScore float64 `json:"quality_score"`
}

// NewCacheEntry creates an entry with bookkeeping initialized to now.
func NewCacheEntry(key string, data []byte, metadata SampleMetadata) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Key:          key,
		Data:         data,
		Size:         int64(len(data)),
		Metadata:     metadata,
		CachedAt:     now,
		LastAccessed: now,
		AccessCount:  1,
		Valid:        true,
		TierState:    make(map[Tier]*TierPresence),
		QualityScore: 0.5,
	}
}

// Touch updates access bookkeeping for a hit.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
}

// MarkPresent records that the entry's bytes were written to a tier.
func (e *CacheEntry) MarkPresent(tier Tier, size int64, compressed bool, now time.Time) {
	e.TierState[tier] = &TierPresence{
		Present:      true,
		SizeOnTier:   size,
		Compressed:   compressed,
		LastAccessed: now,
		WrittenAt:    now,
	}
}

// PresentTiers returns the tiers holding this entry, fastest first.
func (e *CacheEntry) PresentTiers() []Tier {
	var present []Tier
	for _, tier := range Tiers() {
		if state, ok := e.TierState[tier]; ok && state.Present {
			present = append(present, tier)
		}
	}
	return present
}

// Clone returns a deep copy of the entry's bookkeeping (payload bytes are
// shared). Readers use clones to observe a consistent snapshot without
// holding the index lock.
func (e *CacheEntry) Clone() *CacheEntry {
	clone := *e
	clone.TierState = make(map[Tier]*TierPresence, len(e.TierState))
	for tier, state := range e.TierState {
		s := *state
		clone.TierState[tier] = &s
	}
	return &clone
}

// RoutingStrategy selects how the router decides tier placement.
type RoutingStrategy string

const (
	StrategySizeBased          RoutingStrategy = "size_based"
	StrategyFrequencyBased     RoutingStrategy = "frequency_based"
	StrategyPerformanceBased   RoutingStrategy = "performance_based"
	StrategyMLOptimized        RoutingStrategy = "ml_optimized"
	StrategyHybrid             RoutingStrategy = "hybrid"
	StrategyRetrievalOptimized RoutingStrategy = "retrieval_optimized"
)

// TierScore pairs a tier with a routing score for fallback ranking.
type TierScore struct {
	Tier  Tier    `json:"tier"`
	Score float64 `json:"score"`
}

// RoutingDecision is the router's choice of which tier(s) store or serve an
// item, with confidence and fallback alternatives so callers always have a
// usable next step.
type RoutingDecision struct {
	PrimaryTier     Tier            `json:"primary_tier"`
	AdditionalTiers []Tier          `json:"additional_tiers,omitempty"`
	Strategy        RoutingStrategy `json:"strategy"`
	Confidence      float64         `json:"confidence"`
	Reasoning       []string        `json:"reasoning"`
	Alternatives    []TierScore     `json:"alternatives,omitempty"`
}

// EvictionCandidate is an entry selected for removal, ranked by composite
// score (lower score = stronger candidate).
type EvictionCandidate struct {
	Key        string  `json:"key"`
	Score      float64 `json:"score"`
	BytesFreed int64   `json:"bytes_freed"`
}

// MemoryPressureLevel classifies how close the cache is to exhausting its
// memory budget. Higher level means more aggressive eviction targets.
type MemoryPressureLevel int

const (
	PressureNone MemoryPressureLevel = iota
	PressureLow
	PressureMedium
	PressureHigh
	PressureCritical
)

// String returns the string representation of the pressure level.
func (l MemoryPressureLevel) String() string {
	switch l {
	case PressureNone:
		return "none"
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// AccessPrediction is a probabilistic forecast of whether and when a key
// will next be requested.
type AccessPrediction struct {
	Probability         float64       `json:"probability"`
	Confidence          float64       `json:"confidence"`
	TimeWindow          time.Duration `json:"time_window"`
	ContributingFactors []string      `json:"contributing_factors,omitempty"`
}

// GetResult is the structured outcome of a cache read. A miss is a result
// variant, not an error.
type GetResult struct {
	Hit      bool          `json:"hit"`
	Data     []byte        `json:"-"`
	Tier     Tier          `json:"tier"`
	LoadTime time.Duration `json:"load_time"`
}

// SetResult is the structured outcome of a cache write.
type SetResult struct {
	Success      bool   `json:"success"`
	Tiers        []Tier `json:"tiers"`
	EvictedCount int    `json:"evicted_count"`
	EvictedBytes int64  `json:"evicted_bytes"`
}

// OptimizationResult reports one optimization pass.
type OptimizationResult struct {
	Performed      bool          `json:"performed"`
	BytesFreed     int64         `json:"bytes_freed"`
	ItemsEvicted   int           `json:"items_evicted"`
	ItemsProcessed int           `json:"items_processed"`
	Elapsed        time.Duration `json:"elapsed"`
}

// RecommendationAction describes what a usage recommendation asks for.
type RecommendationAction string

const (
	ActionEvict   RecommendationAction = "evict"
	ActionPreload RecommendationAction = "preload"
)

// RecommendationPriority orders recommendations by urgency.
type RecommendationPriority int

const (
	PriorityLow RecommendationPriority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the string representation of the priority.
func (p RecommendationPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Recommendation is a usage-analyzer hint consumed by optimization.
type Recommendation struct {
	Key      string                 `json:"key"`
	Action   RecommendationAction   `json:"action"`
	Priority RecommendationPriority `json:"priority"`
	Reason   string                 `json:"reason"`
}

// PreloadOperation is one item of a predictive preload plan.
type PreloadOperation struct {
	Key          string                 `json:"key"`
	Confidence   float64                `json:"confidence"`
	TimeToAccess time.Duration          `json:"time_to_access"`
	Priority     RecommendationPriority `json:"priority"`
}

// SizeInfo reports the authoritative index size.
type SizeInfo struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

// MemoryUsage reports the memory manager's view of utilization.
type MemoryUsage struct {
	Used   int64   `json:"used"`
	Budget int64   `json:"budget"`
	Ratio  float64 `json:"ratio"`
}

// TierReport summarizes recorded performance for one tier.
type TierReport struct {
	Gets                int64         `json:"gets"`
	Sets                int64         `json:"sets"`
	Hits                int64         `json:"hits"`
	Misses              int64         `json:"misses"`
	Errors              int64         `json:"errors"`
	HitRate             float64       `json:"hit_rate"`
	ErrorRate           float64       `json:"error_rate"`
	AverageLatency      time.Duration `json:"average_latency"`
	QualityScore        float64       `json:"quality_score"`
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// AccessAnalytics summarizes the access-pattern analyzer state.
type AccessAnalytics struct {
	DistinctKeys   int            `json:"distinct_keys"`
	TotalAccesses  uint64         `json:"total_accesses"`
	TopKeys        []KeyFrequency `json:"top_keys"`
	TierPreference map[Tier]int   `json:"tier_preference"`
}

// KeyFrequency pairs a key with its recorded access count.
type KeyFrequency struct {
	Key       string `json:"key"`
	Frequency uint64 `json:"frequency"`
}

// UsageClass classifies the cache-wide access pattern.
type UsageClass string

const (
	UsageSequential UsageClass = "sequential"
	UsageBursty     UsageClass = "bursty"
	UsagePeriodic   UsageClass = "periodic"
	UsageMixed      UsageClass = "mixed"
)

// UsageAnalysis is the last computed cache-wide aggregate.
type UsageAnalysis struct {
	AnalyzedAt      time.Time  `json:"analyzed_at"`
	WindowSize      int        `json:"window_size"`
	DistinctKeys    int        `json:"distinct_keys"`
	Classification  UsageClass `json:"classification"`
	IntervalCV      float64    `json:"interval_cv"`
	BurstRatio      float64    `json:"burst_ratio"`
	EfficiencyScore float64    `json:"efficiency_score"`
}

// CacheAnalytics aggregates manager counters with nested component reports.
type CacheAnalytics struct {
	Hits            uint64              `json:"hits"`
	Misses          uint64              `json:"misses"`
	Evictions       uint64              `json:"evictions"`
	HitRate         float64             `json:"hit_rate"`
	AverageLoadTime time.Duration       `json:"average_load_time"`
	Size            SizeInfo            `json:"size"`
	Memory          MemoryUsage         `json:"memory"`
	Pressure        MemoryPressureLevel `json:"pressure"`
	EfficiencyScore float64             `json:"efficiency_score"`

	Access *AccessAnalytics    `json:"access,omitempty"`
	Usage  *UsageAnalysis      `json:"usage,omitempty"`
	Tiers  map[Tier]TierReport `json:"tiers,omitempty"`
}

// SyncReport is the outcome of a cross-tier consistency pass for one key.
type SyncReport struct {
	Key         string   `json:"key"`
	TiersSynced []Tier   `json:"tiers_synced,omitempty"`
	Conflicts   []Tier   `json:"conflicts,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	Notes       []string `json:"notes,omitempty"`
}
