package analyzer

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/wavecache/wavecache/pkg/types"
)

const defaultHistoryDepth = 50

// minHalfLife bounds the exponential decay so that keys accessed in rapid
// bursts do not produce a degenerate zero half-life.
const minHalfLife = time.Second

// AccessPatternAnalyzer records per-key access events and derives
// frequency, tier preference, and next-access predictions. All state is in
// memory; unknown keys yield zero-confidence defaults rather than errors.
type AccessPatternAnalyzer struct {
	mu            sync.RWMutex
	depth         int
	keys          map[string]*keyHistory
	totalAccesses uint64
}

type accessEvent struct {
	tier types.Tier
	size int64
	at   time.Time
}

type keyHistory struct {
	events     []accessEvent // bounded at depth, oldest first
	total      uint64
	tierCounts map[types.Tier]uint64
	lastByTier map[types.Tier]time.Time
}

// NewAccessPatternAnalyzer creates an analyzer keeping up to depth recent
// events per key. A non-positive depth selects the default of 50.
func NewAccessPatternAnalyzer(depth int) *AccessPatternAnalyzer {
	if depth <= 0 {
		depth = defaultHistoryDepth
	}
	return &AccessPatternAnalyzer{
		depth: depth,
		keys:  make(map[string]*keyHistory),
	}
}

// RecordAccess appends an access event for key. A zero timestamp records
// the current time. O(1) amortized.
func (a *AccessPatternAnalyzer) RecordAccess(key string, tier types.Tier, size int64, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	hist, ok := a.keys[key]
	if !ok {
		hist = &keyHistory{
			events:     make([]accessEvent, 0, a.depth),
			tierCounts: make(map[types.Tier]uint64),
			lastByTier: make(map[types.Tier]time.Time),
		}
		a.keys[key] = hist
	}

	hist.events = append(hist.events, accessEvent{tier: tier, size: size, at: at})
	if len(hist.events) > a.depth {
		hist.events = hist.events[1:]
	}
	hist.total++
	hist.tierCounts[tier]++
	if at.After(hist.lastByTier[tier]) {
		hist.lastByTier[tier] = at
	}
	a.totalAccesses++
}

// Forget drops all recorded history for key. Called when an entry leaves
// the cache permanently.
func (a *AccessPatternAnalyzer) Forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, key)
}

// Frequency returns the total recorded access count for key.
func (a *AccessPatternAnalyzer) Frequency(key string) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if hist, ok := a.keys[key]; ok {
		return hist.total
	}
	return 0
}

// PreferredTier returns the tier with the most recorded accesses for key,
// ties broken by most-recent access. Unknown keys default to the memory
// tier.
func (a *AccessPatternAnalyzer) PreferredTier(key string) types.Tier {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hist, ok := a.keys[key]
	if !ok || len(hist.tierCounts) == 0 {
		return types.TierMemory
	}

	best := types.TierMemory
	var bestCount uint64
	var bestAt time.Time
	for _, tier := range types.Tiers() {
		count := hist.tierCounts[tier]
		if count == 0 {
			continue
		}
		at := hist.lastByTier[tier]
		if count > bestCount || (count == bestCount && at.After(bestAt)) {
			best, bestCount, bestAt = tier, count, at
		}
	}
	return best
}

// PredictNextAccess forecasts whether and when key will be requested again.
// Probability blends a recency term (exponential decay over the observed
// inter-access half-life) with a saturating frequency term; confidence
// saturates with sample count; the time window is the median observed
// inter-access interval.
func (a *AccessPatternAnalyzer) PredictNextAccess(key string) types.AccessPrediction {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hist, ok := a.keys[key]
	if !ok || len(hist.events) == 0 {
		return types.AccessPrediction{
			ContributingFactors: []string{"no_history"},
		}
	}

	now := time.Now()
	intervals := interAccessIntervals(hist.events)
	median := medianDuration(intervals)

	halfLife := median
	if halfLife < minHalfLife {
		halfLife = minHalfLife
	}

	sinceLast := now.Sub(hist.events[len(hist.events)-1].at)
	recency := math.Exp2(-float64(sinceLast) / float64(halfLife))

	frequency := float64(hist.total) / float64(a.depth)
	if frequency > 1 {
		frequency = 1
	}

	probability := 0.6*recency + 0.4*frequency
	if probability > 1 {
		probability = 1
	}

	// Confidence saturates as samples accumulate: n/(n+5).
	n := float64(len(hist.events))
	confidence := n / (n + 5)

	return types.AccessPrediction{
		Probability: probability,
		Confidence:  confidence,
		TimeWindow:  median,
		ContributingFactors: []string{
			"recency_weighted_frequency",
			"sample_count",
			"median_interval",
		},
	}
}

// Analytics summarizes tracked keys: totals, the topN most frequent keys,
// and the per-tier preference histogram.
func (a *AccessPatternAnalyzer) Analytics(topN int) types.AccessAnalytics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	analytics := types.AccessAnalytics{
		DistinctKeys:   len(a.keys),
		TotalAccesses:  a.totalAccesses,
		TierPreference: make(map[types.Tier]int),
	}

	top := make([]types.KeyFrequency, 0, len(a.keys))
	for key, hist := range a.keys {
		top = append(top, types.KeyFrequency{Key: key, Frequency: hist.total})

		best := types.TierMemory
		var bestCount uint64
		for _, tier := range types.Tiers() {
			if c := hist.tierCounts[tier]; c > bestCount {
				best, bestCount = tier, c
			}
		}
		if bestCount > 0 {
			analytics.TierPreference[best]++
		}
	}

	sort.Slice(top, func(i, j int) bool {
		if top[i].Frequency != top[j].Frequency {
			return top[i].Frequency > top[j].Frequency
		}
		return top[i].Key < top[j].Key
	})
	if topN > 0 && len(top) > topN {
		top = top[:topN]
	}
	analytics.TopKeys = top

	return analytics
}

func interAccessIntervals(events []accessEvent) []time.Duration {
	if len(events) < 2 {
		return nil
	}
	intervals := make([]time.Duration, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		intervals = append(intervals, events[i].at.Sub(events[i-1].at))
	}
	return intervals
}

func medianDuration(intervals []time.Duration) time.Duration {
	if len(intervals) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
