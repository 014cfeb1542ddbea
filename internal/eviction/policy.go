// Package eviction implements weighted multi-factor candidate selection.
package eviction

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/types"
)

// recencyHalfLife is the age at which the recency retention term halves.
const recencyHalfLife = 10 * time.Minute

// ReuseHinter supplies the usage term of the eviction score. The usage
// pattern analyzer implements it; a nil hinter zeroes the term.
type ReuseHinter interface {
	ReuseScore(key string) float64
}

// Engine scores cache entries for eviction. Every factor is a retention
// value in [0,1]; the weighted composite is likewise in [0,1], and entries
// with LOWER scores are evicted first.
type Engine struct {
	mu                 sync.RWMutex
	weights            config.EvictionWeights
	minRetention       time.Duration
	emergencyBatchSize int
	freqSaturation     uint64

	hinter ReuseHinter
	logger zerolog.Logger
}

// NewEngine creates an eviction engine. A nil config selects defaults.
func NewEngine(cfg *config.Config, hinter ReuseHinter, logger zerolog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		weights:            cfg.EvictionWeights,
		minRetention:       cfg.MinRetentionTime,
		emergencyBatchSize: cfg.EmergencyBatchSize,
		freqSaturation:     cfg.HighFrequencyThreshold,
		hinter:             hinter,
		logger:             logger.With().Str("component", "eviction").Logger(),
	}
}

// UpdateConfig applies hot-reloaded tuning.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = cfg.EvictionWeights
	e.minRetention = cfg.MinRetentionTime
	e.emergencyBatchSize = cfg.EmergencyBatchSize
	e.freqSaturation = cfg.HighFrequencyThreshold
}

// SelectCandidates picks entries to evict, ranked weakest-retention first,
// until the cumulative candidate bytes reach bytesToFree or eligible
// entries run out. Selection rules:
//
//   - Locked entries are never selected.
//   - Priority entries are spared below high pressure.
//   - Entries younger than the minimum retention time are spared below
//     critical pressure; at critical they become eligible, and the batch
//     is capped at the emergency batch size.
//
// Ties on score break toward the larger entry. Cancellation of ctx stops
// scoring early and returns the candidates gathered so far.
func (e *Engine) SelectCandidates(ctx context.Context, entries []*types.CacheEntry, pressure types.MemoryPressureLevel, bytesToFree int64) []types.EvictionCandidate {
	if bytesToFree <= 0 || len(entries) == 0 {
		return nil
	}

	e.mu.RLock()
	weights := e.adaptWeights(pressure)
	minRetention := e.minRetention
	batchCap := e.emergencyBatchSize
	freqSaturation := e.freqSaturation
	hinter := e.hinter
	e.mu.RUnlock()

	now := time.Now()
	maxSize := int64(1)
	for _, entry := range entries {
		if entry.Size > maxSize {
			maxSize = entry.Size
		}
	}

	scored := make([]types.EvictionCandidate, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			e.logger.Debug().Int("scored", len(scored)).Msg("candidate scoring cancelled")
			return e.takeCandidates(scored, pressure, bytesToFree, batchCap)
		default:
		}

		if entry.Locked {
			continue
		}
		if entry.Priority && pressure < types.PressureHigh {
			continue
		}
		if now.Sub(entry.CachedAt) < minRetention && pressure < types.PressureCritical {
			continue
		}

		scored = append(scored, types.EvictionCandidate{
			Key:        entry.Key,
			Score:      e.score(entry, weights, freqSaturation, maxSize, hinter, now),
			BytesFreed: entry.Size,
		})
	}

	return e.takeCandidates(scored, pressure, bytesToFree, batchCap)
}

func (e *Engine) takeCandidates(scored []types.EvictionCandidate, pressure types.MemoryPressureLevel, bytesToFree int64, batchCap int) []types.EvictionCandidate {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return scored[i].BytesFreed > scored[j].BytesFreed
	})

	var selected []types.EvictionCandidate
	var freed int64
	for _, candidate := range scored {
		if freed >= bytesToFree {
			break
		}
		if pressure >= types.PressureCritical && batchCap > 0 && len(selected) >= batchCap {
			break
		}
		selected = append(selected, candidate)
		freed += candidate.BytesFreed
	}
	return selected
}

// score computes the weighted retention composite for one entry.
func (e *Engine) score(entry *types.CacheEntry, w config.EvictionWeights, freqSaturation uint64, maxSize int64, hinter ReuseHinter, now time.Time) float64 {
	age := now.Sub(entry.LastAccessed)
	recency := math.Exp2(-float64(age) / float64(recencyHalfLife))

	frequency := 1.0
	if freqSaturation > 0 {
		frequency = float64(entry.AccessCount) / float64(freqSaturation)
		if frequency > 1 {
			frequency = 1
		}
	}

	usage := 0.0
	if hinter != nil {
		usage = clamp01(hinter.ReuseScore(entry.Key))
	}

	quality := clamp01(entry.QualityScore)

	// Large entries earn a low size term so they go first when the size
	// weight dominates.
	size := 1 - float64(entry.Size)/float64(maxSize)

	return w.Recency*recency + w.Frequency*frequency + w.Usage*usage + w.Quality*quality + w.Size*size
}

// adaptWeights shifts scoring emphasis with pressure: elevated pressure
// favors freeing bytes fast (size) over preserving recently used entries.
// The returned weights are normalized to sum to 1.
func (e *Engine) adaptWeights(pressure types.MemoryPressureLevel) config.EvictionWeights {
	w := e.weights
	switch pressure {
	case types.PressureHigh:
		w.Size *= 2
		w.Quality *= 0.5
	case types.PressureCritical:
		w.Size *= 3
		w.Quality *= 0.25
		w.Usage *= 0.5
	}

	sum := w.Recency + w.Frequency + w.Usage + w.Quality + w.Size
	if sum <= 0 {
		return config.Default().EvictionWeights
	}
	w.Recency /= sum
	w.Frequency /= sum
	w.Usage /= sum
	w.Quality /= sum
	w.Size /= sum
	return w
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
