// Package memory tracks the cache's memory budget and classifies pressure.
package memory

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/types"
)

const defaultSampleInterval = 30 * time.Second

// Manager classifies memory pressure from the cache's accounted bytes
// against a configured budget. An optional background sampler folds process
// heap growth into the classification so the cache backs off when the host
// application itself is under memory strain.
type Manager struct {
	mu         sync.RWMutex
	budget     int64
	thresholds config.PressureThresholds
	targets    config.TargetUtilization

	cacheBytes int64 // atomic

	// Process heap sample, updated by the background loop.
	heapInUse  int64 // atomic
	sampleEach time.Duration

	running int32 // atomic CAS guard
	stop    chan struct{}
	done    chan struct{}

	logger zerolog.Logger
}

// NewManager creates a memory manager. A nil config selects defaults.
func NewManager(cfg *config.Config, logger zerolog.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Manager{
		budget:     cfg.MemoryBudget,
		thresholds: cfg.PressureThresholds,
		targets:    cfg.TargetUtilization,
		sampleEach: defaultSampleInterval,
		logger:     logger.With().Str("component", "memory").Logger(),
	}
}

// SetCacheBytes records the cache's current accounted byte total.
func (m *Manager) SetCacheBytes(bytes int64) {
	atomic.StoreInt64(&m.cacheBytes, bytes)
}

// SetBudget replaces the memory budget, used by config hot-reload.
func (m *Manager) SetBudget(budget int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if budget > 0 {
		m.budget = budget
	}
}

// Usage reports the current utilization of the budget.
func (m *Manager) Usage() types.MemoryUsage {
	m.mu.RLock()
	budget := m.budget
	m.mu.RUnlock()

	used := atomic.LoadInt64(&m.cacheBytes)
	ratio := 0.0
	if budget > 0 {
		ratio = float64(used) / float64(budget)
	}
	return types.MemoryUsage{Used: used, Budget: budget, Ratio: ratio}
}

// Pressure classifies current utilization into the ordered pressure scale.
// Exactly reaching a threshold enters the higher level.
func (m *Manager) Pressure() types.MemoryPressureLevel {
	m.mu.RLock()
	t := m.thresholds
	m.mu.RUnlock()

	ratio := m.Usage().Ratio
	switch {
	case ratio >= t.Critical:
		return types.PressureCritical
	case ratio >= t.High:
		return types.PressureHigh
	case ratio >= t.Medium:
		return types.PressureMedium
	case ratio >= t.Low:
		return types.PressureLow
	default:
		return types.PressureNone
	}
}

// TargetUtilization returns the desired post-eviction utilization ratio for
// a pressure level. Eviction batches are sized to bring usage down to this
// target.
func (m *Manager) TargetUtilization(level types.MemoryPressureLevel) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch level {
	case types.PressureCritical:
		return m.targets.Critical
	case types.PressureHigh:
		return m.targets.High
	case types.PressureMedium:
		return m.targets.Medium
	case types.PressureLow:
		return m.targets.Low
	default:
		return m.targets.None
	}
}

// HeapInUse returns the last sampled process heap size, or 0 if the sampler
// has never run.
func (m *Manager) HeapInUse() int64 {
	return atomic.LoadInt64(&m.heapInUse)
}

// Start launches the background heap sampler. Returns false if already
// running.
func (m *Manager) Start(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return false
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.sampleLoop(ctx)
	m.logger.Debug().Dur("interval", m.sampleEach).Msg("memory sampler started")
	return true
}

// Stop terminates the background sampler and waits for it to exit.
func (m *Manager) Stop() {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return
	}
	close(m.stop)
	<-m.done
	m.logger.Debug().Msg("memory sampler stopped")
}

func (m *Manager) sampleLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.sampleEach)
	defer ticker.Stop()

	m.sampleOnce()
	for {
		select {
		case <-ticker.C:
			m.sampleOnce()
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sampleOnce() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	atomic.StoreInt64(&m.heapInUse, int64(stats.HeapInuse))

	if level := m.Pressure(); level >= types.PressureHigh {
		m.logger.Warn().
			Str("pressure", level.String()).
			Int64("cache_bytes", atomic.LoadInt64(&m.cacheBytes)).
			Uint64("heap_inuse", stats.HeapInuse).
			Msg("memory pressure elevated")
	}
}
