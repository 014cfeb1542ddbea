// Package router decides which tier stores or serves a cached sample.
package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wavecache/wavecache/internal/analyzer"
	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/internal/tierperf"
	"github.com/wavecache/wavecache/pkg/types"
)

// Router maps cache entries to tiers under the configured strategy. Every
// decision names its reasoning and carries ranked alternatives, and a
// strategy failure degrades to the deterministic size-based rule rather
// than surfacing an error: routing always yields a usable tier.
type Router struct {
	mu     sync.RWMutex
	cfg    *config.Config
	access *analyzer.AccessPatternAnalyzer
	perf   *tierperf.Tracker
	logger zerolog.Logger

	strategies map[types.RoutingStrategy]strategyFunc
}

// strategyFunc produces a storage decision for one routing strategy.
type strategyFunc func(cfg *config.Config, key string, size int64) types.RoutingDecision

// NewRouter creates a router. A nil config selects defaults.
func NewRouter(cfg *config.Config, access *analyzer.AccessPatternAnalyzer, perf *tierperf.Tracker, logger zerolog.Logger) *Router {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Router{
		cfg:    cfg,
		access: access,
		perf:   perf,
		logger: logger.With().Str("component", "router").Logger(),
	}
	r.strategies = map[types.RoutingStrategy]strategyFunc{
		types.StrategySizeBased: func(cfg *config.Config, _ string, size int64) types.RoutingDecision {
			return r.sizeBased(cfg, size)
		},
		types.StrategyFrequencyBased: func(cfg *config.Config, key string, _ int64) types.RoutingDecision {
			return r.frequencyBased(cfg, key)
		},
		types.StrategyPerformanceBased: func(cfg *config.Config, _ string, size int64) types.RoutingDecision {
			return r.performanceBased(cfg, size)
		},
		types.StrategyMLOptimized: r.mlOptimized,
		types.StrategyHybrid:      r.hybrid,
	}
	return r
}

// UpdateConfig swaps the config snapshot, used by hot reload.
func (r *Router) UpdateConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

func (r *Router) snapshot() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// DecideStorage picks the tier(s) for a new or relocated entry. Identical
// inputs against identical analyzer state yield identical decisions.
func (r *Router) DecideStorage(key string, size int64) (decision types.RoutingDecision) {
	cfg := r.snapshot()
	strategy := cfg.RoutingStrategy

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("strategy", string(strategy)).
				Str("key", key).
				Interface("panic", rec).
				Msg("routing strategy failed, using size-based fallback")
			decision = r.fallback(cfg, size, strategy)
		}
	}()

	if decide, ok := r.strategies[strategy]; ok {
		decision = decide(cfg, key, size)
	} else {
		decision = r.hybrid(cfg, key, size)
	}
	if !usable(decision) {
		r.logger.Warn().
			Str("strategy", string(strategy)).
			Str("key", key).
			Msg("routing strategy produced an unusable decision, using size-based fallback")
		decision = r.fallback(cfg, size, strategy)
	}
	return decision
}

// fallback is the guaranteed-usable decision: the size-based rule tagged
// with the strategy it replaced.
func (r *Router) fallback(cfg *config.Config, size int64, from types.RoutingStrategy) types.RoutingDecision {
	decision := r.sizeBased(cfg, size)
	decision.Confidence = 0
	decision.Reasoning = append(decision.Reasoning,
		fmt.Sprintf("fallback_from_%s", from))
	return decision
}

// usable rejects decisions carrying no reasoning or an unknown primary
// tier; DecideStorage replaces them with the fallback.
func usable(decision types.RoutingDecision) bool {
	if len(decision.Reasoning) == 0 {
		return false
	}
	switch decision.PrimaryTier {
	case types.TierMemory, types.TierDisk, types.TierBlob:
		return true
	default:
		return false
	}
}

// DecideRetrieval picks which of the tiers currently holding an entry to
// read from: the fastest healthy one, with slower holders as alternatives.
// With no healthy holder the fastest holder is still returned so the
// caller can attempt a degraded read.
func (r *Router) DecideRetrieval(key string, present []types.Tier) types.RoutingDecision {
	decision := types.RoutingDecision{
		Strategy:  types.StrategyRetrievalOptimized,
		Reasoning: []string{"fastest_healthy_tier"},
	}

	if len(present) == 0 {
		decision.Confidence = 0
		decision.Reasoning = []string{"no_tier_holds_entry"}
		return decision
	}

	ordered := make([]types.Tier, len(present))
	copy(ordered, present)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	chosen := ordered[0]
	healthy := false
	for _, tier := range ordered {
		if r.perf == nil || r.perf.Healthy(tier) {
			chosen = tier
			healthy = true
			break
		}
	}

	decision.PrimaryTier = chosen
	decision.Confidence = 0.9
	if !healthy {
		decision.Confidence = 0.2
		decision.Reasoning = append(decision.Reasoning, "all_holding_tiers_degraded")
	}
	for _, tier := range ordered {
		if tier != chosen {
			decision.AdditionalTiers = append(decision.AdditionalTiers, tier)
		}
	}
	return decision
}

// sizeBased is the deterministic fallback rule: thresholds on payload size
// alone.
func (r *Router) sizeBased(cfg *config.Config, size int64) types.RoutingDecision {
	decision := types.RoutingDecision{
		Strategy:   types.StrategySizeBased,
		Confidence: 0.8,
	}

	switch {
	case size < cfg.MemoryTierThreshold:
		decision.PrimaryTier = types.TierMemory
		// Memory is volatile; small entries always get a durable mirror.
		decision.AdditionalTiers = []types.Tier{types.TierDisk}
		decision.Reasoning = []string{"small_size_memory_primary"}
	case size < cfg.DiskTierThreshold:
		decision.PrimaryTier = types.TierDisk
		decision.Reasoning = []string{"medium_size_disk_primary"}
	default:
		decision.PrimaryTier = types.TierBlob
		decision.Reasoning = []string{"large_size_blob_optimal"}
	}

	decision.Alternatives = rankedAlternatives(sizeScores(cfg, size), decision.PrimaryTier)
	return decision
}

func (r *Router) frequencyBased(cfg *config.Config, key string) types.RoutingDecision {
	decision := types.RoutingDecision{
		Strategy:   types.StrategyFrequencyBased,
		Confidence: 0.75,
	}

	var freq uint64
	if r.access != nil {
		freq = r.access.Frequency(key)
	}

	switch {
	case freq >= cfg.HighFrequencyThreshold:
		decision.PrimaryTier = types.TierMemory
		decision.AdditionalTiers = []types.Tier{types.TierDisk, types.TierBlob}
		decision.Reasoning = []string{"high_frequency_all_tiers"}
	case freq >= cfg.MediumFrequencyThreshold:
		decision.PrimaryTier = types.TierDisk
		decision.Reasoning = []string{"medium_frequency_disk"}
	default:
		// Rarely used entries live on the durable structured tier alone.
		decision.PrimaryTier = types.TierDisk
		decision.Reasoning = []string{"low_frequency_persistent"}
		decision.Confidence = 0.6
	}

	decision.Alternatives = rankedAlternatives(frequencyScores(cfg, freq), decision.PrimaryTier)
	return decision
}

func (r *Router) performanceBased(cfg *config.Config, size int64) types.RoutingDecision {
	if r.perf == nil {
		return r.sizeBased(cfg, size)
	}

	decision := types.RoutingDecision{
		Strategy:   types.StrategyPerformanceBased,
		Confidence: 0.7,
	}

	scores := make(map[types.Tier]float64, 3)
	for _, tier := range types.Tiers() {
		score := r.perf.QualityScore(tier)
		if !r.perf.Healthy(tier) {
			score = 0
		}
		scores[tier] = score
	}

	// Oversized payloads never land in memory regardless of its score.
	if size >= cfg.MemoryTierThreshold {
		scores[types.TierMemory] = 0
	}

	// With no usable tier score left there is nothing to rank; the
	// size-based rule decides instead.
	ranked := false
	for _, score := range scores {
		if score > 0 {
			ranked = true
			break
		}
	}
	if !ranked {
		fallback := r.sizeBased(cfg, size)
		fallback.Reasoning = append(fallback.Reasoning, "no_healthy_tier_size_fallback")
		return fallback
	}

	decision.PrimaryTier = bestTier(scores)
	decision.Reasoning = []string{
		fmt.Sprintf("best_observed_tier_%s", decision.PrimaryTier),
	}
	decision.Alternatives = rankedAlternatives(scores, decision.PrimaryTier)
	return decision
}

func (r *Router) mlOptimized(cfg *config.Config, key string, size int64) types.RoutingDecision {
	if r.access == nil {
		return r.sizeBased(cfg, size)
	}

	prediction := r.access.PredictNextAccess(key)
	if prediction.Confidence < cfg.PredictionConfidenceThreshold {
		// Not enough signal to trust the model; use the combined rule.
		decision := r.hybrid(cfg, key, size)
		decision.Strategy = types.StrategyMLOptimized
		decision.Reasoning = append(decision.Reasoning, "prediction_confidence_below_threshold")
		return decision
	}

	decision := types.RoutingDecision{
		Strategy:   types.StrategyMLOptimized,
		Confidence: prediction.Confidence,
	}

	switch {
	case prediction.Probability >= 0.7 && size < cfg.MemoryTierThreshold:
		decision.PrimaryTier = types.TierMemory
		decision.AdditionalTiers = []types.Tier{types.TierDisk}
		decision.Reasoning = []string{"imminent_reaccess_predicted"}
	case prediction.Probability >= 0.4:
		decision.PrimaryTier = types.TierDisk
		decision.Reasoning = []string{"probable_reaccess_predicted"}
	default:
		decision.PrimaryTier = types.TierBlob
		decision.Reasoning = []string{"unlikely_reaccess_predicted"}
	}

	decision.Alternatives = rankedAlternatives(sizeScores(cfg, size), decision.PrimaryTier)
	return decision
}

// hybrid blends the size and frequency signals into one score per tier.
func (r *Router) hybrid(cfg *config.Config, key string, size int64) types.RoutingDecision {
	var freq uint64
	if r.access != nil {
		freq = r.access.Frequency(key)
	}

	sizeS := sizeScores(cfg, size)
	freqS := frequencyScores(cfg, freq)

	scores := make(map[types.Tier]float64, 3)
	for _, tier := range types.Tiers() {
		scores[tier] = 0.6*sizeS[tier] + 0.4*freqS[tier]
	}

	primary := bestTier(scores)
	decision := types.RoutingDecision{
		Strategy:    types.StrategyHybrid,
		PrimaryTier: primary,
		Confidence:  scores[primary],
		Reasoning:   []string{"hybrid_routing", "combined_size_frequency_factors"},
		Alternatives: rankedAlternatives(scores, primary),
	}

	// Hot entries earn a durable second copy.
	if freq >= cfg.HighFrequencyThreshold && primary == types.TierMemory {
		decision.AdditionalTiers = []types.Tier{types.TierDisk}
		decision.Reasoning = append(decision.Reasoning, "high_frequency_all_tiers")
	}
	return decision
}

// sizeScores rates each tier's fit for a payload size, in [0,1].
func sizeScores(cfg *config.Config, size int64) map[types.Tier]float64 {
	scores := map[types.Tier]float64{
		types.TierMemory: 0.1,
		types.TierDisk:   0.5,
		types.TierBlob:   0.6,
	}
	switch {
	case size < cfg.MemoryTierThreshold:
		scores[types.TierMemory] = 1.0
		scores[types.TierDisk] = 0.6
		scores[types.TierBlob] = 0.2
	case size < cfg.DiskTierThreshold:
		scores[types.TierMemory] = 0.2
		scores[types.TierDisk] = 1.0
		scores[types.TierBlob] = 0.5
	default:
		scores[types.TierMemory] = 0.0
		scores[types.TierDisk] = 0.3
		scores[types.TierBlob] = 1.0
	}
	return scores
}

// frequencyScores rates each tier's fit for an access frequency, in [0,1].
func frequencyScores(cfg *config.Config, freq uint64) map[types.Tier]float64 {
	switch {
	case freq >= cfg.HighFrequencyThreshold:
		return map[types.Tier]float64{
			types.TierMemory: 1.0,
			types.TierDisk:   0.7,
			types.TierBlob:   0.2,
		}
	case freq >= cfg.MediumFrequencyThreshold:
		return map[types.Tier]float64{
			types.TierMemory: 0.5,
			types.TierDisk:   1.0,
			types.TierBlob:   0.4,
		}
	default:
		return map[types.Tier]float64{
			types.TierMemory: 0.2,
			types.TierDisk:   0.5,
			types.TierBlob:   1.0,
		}
	}
}

// bestTier picks the highest-scoring tier, faster tiers winning ties.
func bestTier(scores map[types.Tier]float64) types.Tier {
	best := types.TierMemory
	bestScore := -1.0
	for _, tier := range types.Tiers() {
		if scores[tier] > bestScore {
			best, bestScore = tier, scores[tier]
		}
	}
	return best
}

func rankedAlternatives(scores map[types.Tier]float64, primary types.Tier) []types.TierScore {
	alternatives := make([]types.TierScore, 0, 2)
	for _, tier := range types.Tiers() {
		if tier == primary {
			continue
		}
		alternatives = append(alternatives, types.TierScore{Tier: tier, Score: scores[tier]})
	}
	sort.SliceStable(alternatives, func(i, j int) bool {
		return alternatives[i].Score > alternatives[j].Score
	})
	return alternatives
}
