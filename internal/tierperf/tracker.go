// Package tierperf records per-tier operation outcomes and derives latency,
// quality, and health signals used by routing decisions.
package tierperf

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavecache/wavecache/pkg/types"
)

// Operation identifies the kind of tier operation being recorded.
type Operation string

const (
	OpGet    Operation = "get"
	OpSet    Operation = "set"
	OpDelete Operation = "delete"
)

const (
	// emaAlpha weights new latency samples in the moving average.
	emaAlpha = 0.2

	defaultFailureThreshold   = 5
	defaultErrorRateThreshold = 0.5
	defaultRecoveryCooldown   = 30 * time.Second

	// latencyScale is the latency at which the latency quality term drops
	// to one half.
	latencyScale = 100 * time.Millisecond
)

type tierStats struct {
	gets   int64
	sets   int64
	hits   int64
	misses int64
	errors int64
	total  int64

	latencyEMA float64 // nanoseconds

	consecutiveFailures int
	lastFailure         time.Time
}

// Tracker maintains rolling per-tier performance statistics. A tier is
// marked unhealthy after a run of consecutive failures or a sustained error
// rate, and recovers automatically once a cooldown elapses without further
// failures.
type Tracker struct {
	mu    sync.RWMutex
	tiers map[types.Tier]*tierStats

	failureThreshold   int
	errorRateThreshold float64
	cooldown           time.Duration

	logger zerolog.Logger
}

// NewTracker creates a tracker with stats for every tier.
func NewTracker(logger zerolog.Logger) *Tracker {
	t := &Tracker{
		tiers:              make(map[types.Tier]*tierStats),
		failureThreshold:   defaultFailureThreshold,
		errorRateThreshold: defaultErrorRateThreshold,
		cooldown:           defaultRecoveryCooldown,
		logger:             logger.With().Str("component", "tierperf").Logger(),
	}
	for _, tier := range types.Tiers() {
		t.tiers[tier] = &tierStats{}
	}
	return t
}

// RecordOperation records one tier operation outcome. hit is meaningful
// only for gets; a nil err resets the consecutive-failure run.
func (t *Tracker) RecordOperation(tier types.Tier, op Operation, latency time.Duration, hit bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats(tier)
	stats.total++

	switch op {
	case OpGet:
		stats.gets++
		if err == nil {
			if hit {
				stats.hits++
			} else {
				stats.misses++
			}
		}
	case OpSet:
		stats.sets++
	}

	if stats.latencyEMA == 0 {
		stats.latencyEMA = float64(latency)
	} else {
		stats.latencyEMA = emaAlpha*float64(latency) + (1-emaAlpha)*stats.latencyEMA
	}

	if err != nil {
		stats.errors++
		stats.consecutiveFailures++
		stats.lastFailure = time.Now()
		if stats.consecutiveFailures == t.failureThreshold {
			t.logger.Warn().
				Str("tier", tier.String()).
				Int("consecutive_failures", stats.consecutiveFailures).
				Err(err).
				Msg("tier marked unhealthy")
		}
	} else {
		stats.consecutiveFailures = 0
	}
}

// Healthy reports whether a tier is currently usable. An unhealthy tier
// re-enters service once the recovery cooldown passes without failures.
func (t *Tracker) Healthy(tier types.Tier) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthyLocked(t.stats(tier))
}

func (t *Tracker) healthyLocked(stats *tierStats) bool {
	if stats.consecutiveFailures >= t.failureThreshold {
		return time.Since(stats.lastFailure) >= t.cooldown
	}
	if stats.total >= 10 {
		errorRate := float64(stats.errors) / float64(stats.total)
		if errorRate >= t.errorRateThreshold && time.Since(stats.lastFailure) < t.cooldown {
			return false
		}
	}
	return true
}

// AverageLatency returns the exponentially weighted average latency for a
// tier, or 0 with no samples.
func (t *Tracker) AverageLatency(tier types.Tier) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Duration(t.stats(tier).latencyEMA)
}

// QualityScore rates a tier in [0,1] from hit rate, error rate, and
// latency. Tiers with no recorded traffic score a neutral 0.5.
func (t *Tracker) QualityScore(tier types.Tier) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.qualityLocked(t.stats(tier))
}

func (t *Tracker) qualityLocked(stats *tierStats) float64 {
	if stats.total == 0 {
		return 0.5
	}

	hitRate := 0.0
	if lookups := stats.hits + stats.misses; lookups > 0 {
		hitRate = float64(stats.hits) / float64(lookups)
	}
	errorRate := float64(stats.errors) / float64(stats.total)
	latencyScore := float64(latencyScale) / (float64(latencyScale) + stats.latencyEMA)

	return 0.4*hitRate + 0.3*(1-errorRate) + 0.3*latencyScore
}

// Ranking orders tiers best-first by quality score, with unhealthy tiers
// pushed to the back regardless of score.
func (t *Tracker) Ranking() []types.Tier {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ranked := types.Tiers()
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := t.stats(ranked[i]), t.stats(ranked[j])
		hi, hj := t.healthyLocked(si), t.healthyLocked(sj)
		if hi != hj {
			return hi
		}
		return t.qualityLocked(si) > t.qualityLocked(sj)
	})
	return ranked
}

// Report snapshots one tier's statistics.
func (t *Tracker) Report(tier types.Tier) types.TierReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reportLocked(t.stats(tier))
}

// Reports snapshots all tiers.
func (t *Tracker) Reports() map[types.Tier]types.TierReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	reports := make(map[types.Tier]types.TierReport, len(t.tiers))
	for tier, stats := range t.tiers {
		reports[tier] = t.reportLocked(stats)
	}
	return reports
}

func (t *Tracker) reportLocked(stats *tierStats) types.TierReport {
	report := types.TierReport{
		Gets:                stats.gets,
		Sets:                stats.sets,
		Hits:                stats.hits,
		Misses:              stats.misses,
		Errors:              stats.errors,
		AverageLatency:      time.Duration(stats.latencyEMA),
		QualityScore:        t.qualityLocked(stats),
		Healthy:             t.healthyLocked(stats),
		ConsecutiveFailures: stats.consecutiveFailures,
	}
	if lookups := stats.hits + stats.misses; lookups > 0 {
		report.HitRate = float64(stats.hits) / float64(lookups)
	}
	if stats.total > 0 {
		report.ErrorRate = float64(stats.errors) / float64(stats.total)
	}
	return report
}

// stats never inserts: the constructor seeds every tier, and readers hold
// only the read lock.
func (t *Tracker) stats(tier types.Tier) *tierStats {
	if stats, ok := t.tiers[tier]; ok {
		return stats
	}
	return &tierStats{}
}
