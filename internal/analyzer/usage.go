package analyzer

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/wavecache/wavecache/pkg/types"
)

const defaultUsageWindow = 1000

// minAnalysisEvents is the smallest window that yields a meaningful
// classification; below it Analyze reports UsageMixed.
const minAnalysisEvents = 10

// UsagePatternAnalyzer observes the cache-wide access stream through a
// bounded sliding window and classifies it as sequential, bursty, periodic,
// or mixed. It produces eviction/preload recommendations and the predictive
// preload plan by consulting the per-key access analyzer.
type UsagePatternAnalyzer struct {
	mu       sync.RWMutex
	window   []usageEvent
	capacity int
	counts   map[string]int
	lastSeen map[string]time.Time
	latest   *types.UsageAnalysis

	access *AccessPatternAnalyzer
}

type usageEvent struct {
	key string
	at  time.Time
}

// NewUsagePatternAnalyzer creates an analyzer with a sliding window of up to
// windowSize events. A non-positive size selects the default of 1000.
func NewUsagePatternAnalyzer(windowSize int, access *AccessPatternAnalyzer) *UsagePatternAnalyzer {
	if windowSize <= 0 {
		windowSize = defaultUsageWindow
	}
	return &UsagePatternAnalyzer{
		window:   make([]usageEvent, 0, windowSize),
		capacity: windowSize,
		counts:   make(map[string]int),
		lastSeen: make(map[string]time.Time),
		access:   access,
	}
}

// Record appends an access to the sliding window, displacing the oldest
// event once the window is full. A zero timestamp records the current time.
func (u *UsagePatternAnalyzer) Record(key string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.window) >= u.capacity {
		oldest := u.window[0]
		u.window = u.window[1:]
		u.counts[oldest.key]--
		if u.counts[oldest.key] <= 0 {
			delete(u.counts, oldest.key)
			delete(u.lastSeen, oldest.key)
		}
	}

	u.window = append(u.window, usageEvent{key: key, at: at})
	u.counts[key]++
	if at.After(u.lastSeen[key]) {
		u.lastSeen[key] = at
	}
}

// Analyze runs a full classification pass over the current window and
// stores the result as the latest analysis.
func (u *UsagePatternAnalyzer) Analyze() *types.UsageAnalysis {
	u.mu.Lock()
	defer u.mu.Unlock()

	analysis := &types.UsageAnalysis{
		AnalyzedAt:     time.Now(),
		WindowSize:     len(u.window),
		DistinctKeys:   len(u.counts),
		Classification: types.UsageMixed,
	}

	if len(u.window) < minAnalysisEvents {
		u.latest = analysis
		return analysis
	}

	intervals := make([]float64, 0, len(u.window)-1)
	for i := 1; i < len(u.window); i++ {
		intervals = append(intervals, u.window[i].at.Sub(u.window[i-1].at).Seconds())
	}

	mean, stddev := meanStddev(intervals)
	cv := 0.0
	if mean > 0 {
		cv = stddev / mean
	}
	analysis.IntervalCV = cv

	// An interval far below the mean marks intra-burst spacing.
	burstCount := 0
	for _, iv := range intervals {
		if iv < mean/4 {
			burstCount++
		}
	}
	analysis.BurstRatio = float64(burstCount) / float64(len(intervals))

	distinctRatio := float64(len(u.counts)) / float64(len(u.window))

	switch {
	case distinctRatio > 0.8:
		// Mostly first-time keys: a scan-through workload.
		analysis.Classification = types.UsageSequential
	case analysis.BurstRatio > 0.4:
		analysis.Classification = types.UsageBursty
	case cv < 0.5:
		analysis.Classification = types.UsagePeriodic
	default:
		analysis.Classification = types.UsageMixed
	}

	reuse := 1 - distinctRatio
	regularity := 1 / (1 + cv)
	analysis.EfficiencyScore = clamp01(0.7*reuse + 0.3*regularity)

	u.latest = analysis
	return analysis
}

// LatestAnalysis returns the most recent analysis, or nil if Analyze has
// never run.
func (u *UsagePatternAnalyzer) LatestAnalysis() *types.UsageAnalysis {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.latest
}

// EfficiencyScore returns the latest window efficiency, or 0 before the
// first analysis pass.
func (u *UsagePatternAnalyzer) EfficiencyScore() float64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.latest == nil {
		return 0
	}
	return u.latest.EfficiencyScore
}

// ReuseScore estimates how likely key is to be reused, in [0,1]. The score
// blends the key's share of window activity with the access analyzer's
// next-access probability. Unknown keys score 0.
func (u *UsagePatternAnalyzer) ReuseScore(key string) float64 {
	u.mu.RLock()
	count := u.counts[key]
	u.mu.RUnlock()

	if count == 0 {
		return 0
	}

	// Saturates at 10 window appearances.
	windowTerm := float64(count) / 10
	if windowTerm > 1 {
		windowTerm = 1
	}

	if u.access == nil {
		return windowTerm
	}
	prediction := u.access.PredictNextAccess(key)
	return clamp01(0.5*windowTerm + 0.5*prediction.Probability*prediction.Confidence)
}

// Recommendations derives per-key hints from the current window: preload
// hints for hot keys the access analyzer expects back soon, and eviction
// hints for one-shot keys that have gone cold.
func (u *UsagePatternAnalyzer) Recommendations() []types.Recommendation {
	u.mu.RLock()
	counts := make(map[string]int, len(u.counts))
	for k, v := range u.counts {
		counts[k] = v
	}
	lastSeen := make(map[string]time.Time, len(u.lastSeen))
	for k, v := range u.lastSeen {
		lastSeen[k] = v
	}
	var windowSpan time.Duration
	if len(u.window) > 1 {
		windowSpan = u.window[len(u.window)-1].at.Sub(u.window[0].at)
	}
	u.mu.RUnlock()

	now := time.Now()
	var recs []types.Recommendation
	for key, count := range counts {
		switch {
		case count >= 3 && u.access != nil:
			prediction := u.access.PredictNextAccess(key)
			if prediction.Probability > 0.5 {
				recs = append(recs, types.Recommendation{
					Key:      key,
					Action:   types.ActionPreload,
					Priority: priorityForProbability(prediction.Probability),
					Reason:   "hot key with high next-access probability",
				})
			}
		case count == 1 && windowSpan > 0 && now.Sub(lastSeen[key]) > windowSpan/2:
			recs = append(recs, types.Recommendation{
				Key:      key,
				Action:   types.ActionEvict,
				Priority: priorityForStaleness(now.Sub(lastSeen[key]), windowSpan),
				Reason:   "single access, cold for over half the window span",
			})
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].Key < recs[j].Key
	})
	return recs
}

// PredictNextAccesses builds the predictive preload plan: up to limit keys
// whose next-access prediction clears confidenceThreshold, ordered by
// probability.
func (u *UsagePatternAnalyzer) PredictNextAccesses(limit int, confidenceThreshold float64) []types.PreloadOperation {
	if u.access == nil {
		return nil
	}

	u.mu.RLock()
	keys := make([]string, 0, len(u.counts))
	for key := range u.counts {
		keys = append(keys, key)
	}
	u.mu.RUnlock()

	var plan []types.PreloadOperation
	for _, key := range keys {
		prediction := u.access.PredictNextAccess(key)
		if prediction.Confidence < confidenceThreshold || prediction.Probability < 0.5 {
			continue
		}
		plan = append(plan, types.PreloadOperation{
			Key:          key,
			Confidence:   prediction.Confidence,
			TimeToAccess: prediction.TimeWindow,
			Priority:     priorityForProbability(prediction.Probability),
		})
	}

	sort.Slice(plan, func(i, j int) bool {
		if plan[i].Confidence != plan[j].Confidence {
			return plan[i].Confidence > plan[j].Confidence
		}
		return plan[i].Key < plan[j].Key
	})
	if limit > 0 && len(plan) > limit {
		plan = plan[:limit]
	}
	return plan
}

// priorityForStaleness grades an eviction hint by how long a one-shot key
// has been cold relative to the span the window covers. Keys idle for more
// than twice the span belong to a workload that has moved on entirely.
func priorityForStaleness(idle, span time.Duration) types.RecommendationPriority {
	switch {
	case idle > 2*span:
		return types.PriorityHigh
	case idle > span:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

func priorityForProbability(p float64) types.RecommendationPriority {
	switch {
	case p >= 0.85:
		return types.PriorityHigh
	case p >= 0.65:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
