package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/internal/tier"
	"github.com/wavecache/wavecache/pkg/errors"
	"github.com/wavecache/wavecache/pkg/types"
)

func testStores() map[types.Tier]types.TierStore {
	return map[types.Tier]types.TierStore{
		types.TierMemory: tier.NewMemoryStore(),
		types.TierDisk:   tier.NewMemoryStore(),
		types.TierBlob:   tier.NewMemoryStore(),
	}
}

func newTestManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()

	if cfg == nil {
		cfg = config.Default()
		cfg.EnableBackgroundOptimization = false
	}
	m, err := New(cfg, testStores(), Options{})
	require.NoError(t, err)
	return m
}

func wav(n int) []byte {
	return bytes.Repeat([]byte{0x52}, n)
}

func TestNewRejectsBadInputs(t *testing.T) {
	t.Parallel()

	_, err := New(config.Default(), nil, Options{})
	assert.Error(t, err, "no stores")

	bad := config.Default()
	bad.MaxCacheSize = -1
	_, err = New(bad, testStores(), Options{})
	assert.Error(t, err, "invalid config")
}

func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	payload := wav(2048)
	set, err := m.Set(ctx, "kick.wav", payload, types.SampleMetadata{Format: "wav"})
	require.NoError(t, err)
	assert.True(t, set.Success)
	require.NotEmpty(t, set.Tiers)

	got, err := m.Get(ctx, "kick.wav")
	require.NoError(t, err)
	assert.True(t, got.Hit)
	assert.Equal(t, payload, got.Data)
	assert.Contains(t, set.Tiers, got.Tier)
	assert.Greater(t, got.LoadTime.Nanoseconds(), int64(0))
}

func TestGetMissIsResultNotError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	got, err := m.Get(context.Background(), "never-set")
	require.NoError(t, err)
	assert.False(t, got.Hit)
	assert.Nil(t, got.Data)
}

func TestSetRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Set(ctx, "", wav(10), types.SampleMetadata{})
	assert.ErrorIs(t, err, errors.ErrInvalidEntry)

	_, err = m.Set(ctx, "empty", nil, types.SampleMetadata{})
	assert.ErrorIs(t, err, errors.ErrInvalidEntry)
}

func TestSetRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxCacheSize = 1024
	cfg.MemoryBudget = 1024
	cfg.EnableBackgroundOptimization = false
	m := newTestManager(t, cfg)

	_, err := m.Set(context.Background(), "huge", wav(4096), types.SampleMetadata{})
	assert.ErrorIs(t, err, errors.ErrCapacityExceeded)
}

func TestDeleteAndHas(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Set(ctx, "k", wav(100), types.SampleMetadata{})
	require.NoError(t, err)
	assert.True(t, m.Has("k"))

	require.NoError(t, m.Delete(ctx, "k"))
	assert.False(t, m.Has("k"))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, got.Hit)

	// Idempotent.
	assert.NoError(t, m.Delete(ctx, "k"))
}

func TestSizeMatchesIndexAfterOperations(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Set(ctx, "a", wav(100), types.SampleMetadata{})
	require.NoError(t, err)
	_, err = m.Set(ctx, "b", wav(250), types.SampleMetadata{})
	require.NoError(t, err)
	_, err = m.Set(ctx, "a", wav(300), types.SampleMetadata{}) // overwrite
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "b"))
	_, err = m.Set(ctx, "c", wav(50), types.SampleMetadata{})
	require.NoError(t, err)

	size := m.Size()
	assert.Equal(t, 2, size.Count)

	// The accounted total must equal the sum over indexed entries.
	m.mu.RLock()
	var sum int64
	for _, entry := range m.entries {
		sum += entry.Size
	}
	m.mu.RUnlock()
	assert.Equal(t, sum, size.Bytes)
	assert.Equal(t, int64(350), size.Bytes)
}

func TestCapacityEnforcedUnderInsertStorm(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxCacheSize = 5 << 20 // 5MB
	cfg.MemoryBudget = 5 << 20
	cfg.MaxSamples = 100
	cfg.EnableBackgroundOptimization = false
	m := newTestManager(t, cfg)
	ctx := context.Background()

	var evictions int
	for i := 0; i < 10; i++ {
		set, err := m.Set(ctx, fmt.Sprintf("take-%d.wav", i), wav(1<<20), types.SampleMetadata{})
		require.NoError(t, err)
		require.True(t, set.Success)
		evictions += set.EvictedCount
	}

	size := m.Size()
	assert.LessOrEqual(t, size.Bytes, cfg.MaxCacheSize,
		"accounted bytes must never exceed capacity after a mutation")
	assert.Greater(t, evictions, 0, "the storm must have forced evictions")
	assert.Equal(t, int(m.Analytics().Evictions), evictions)
}

func TestEvictionNeverRemovesIncomingKey(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxCacheSize = 3 << 20
	cfg.MemoryBudget = 3 << 20
	cfg.EnableBackgroundOptimization = false
	m := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.Set(ctx, "old", wav(2<<20), types.SampleMetadata{})
	require.NoError(t, err)

	// Forces eviction; the incoming key must survive it.
	set, err := m.Set(ctx, "new", wav(2<<20), types.SampleMetadata{})
	require.NoError(t, err)
	assert.True(t, set.Success)
	assert.True(t, m.Has("new"))
}

func TestSetFailsWhenEvictionCannotFreeEnough(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxCacheSize = 3000
	cfg.MemoryBudget = 3000
	cfg.MaxSamples = 100
	cfg.MinRetentionTime = time.Hour
	cfg.EmergencyBatchSize = 1
	cfg.EnableBackgroundOptimization = false
	m := newTestManager(t, cfg)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := m.Set(ctx, key, wav(966), types.SampleMetadata{})
		require.NoError(t, err)
	}

	// Under critical pressure the emergency batch cap limits eviction to a
	// single entry, which cannot make room for 2000 more bytes. The insert
	// must fail instead of blowing the capacity bound.
	set, err := m.Set(ctx, "d", wav(2000), types.SampleMetadata{})
	assert.ErrorIs(t, err, errors.ErrCapacityExceeded)
	assert.False(t, set.Success)
	assert.False(t, m.Has("d"))
	assert.LessOrEqual(t, m.Size().Bytes, cfg.MaxCacheSize,
		"accounted bytes must never exceed capacity after a mutation")
}

func TestOptimizeAppliesHighPriorityEvictRecommendations(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()
	old := time.Now().Add(-3 * time.Hour)

	// A resident one-shot entry whose only recorded use predates the rest
	// of the window by hours.
	entry := types.NewCacheEntry("stale.wav", nil, types.SampleMetadata{})
	entry.Size = 100
	entry.CachedAt = old
	entry.LastAccessed = old
	entry.MarkPresent(types.TierMemory, 100, false, old)
	m.mu.Lock()
	m.entries["stale.wav"] = entry
	m.totalBytes += entry.Size
	m.mu.Unlock()
	require.NoError(t, m.stores[types.TierMemory].Write(ctx, "stale.wav", wav(100)))

	m.usage.Record("stale.wav", old)
	m.usage.Record("anchor.wav", old.Add(time.Minute))
	m.usage.Record("anchor.wav", old.Add(2*time.Minute))

	result, err := m.Optimize(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ItemsEvicted, 1)
	assert.False(t, m.Has("stale.wav"), "a high-priority evict hint must be applied")
}

func TestClear(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.Set(ctx, fmt.Sprintf("k%d", i), wav(100), types.SampleMetadata{})
		require.NoError(t, err)
	}

	require.NoError(t, m.Clear(ctx))
	size := m.Size()
	assert.Zero(t, size.Count)
	assert.Zero(t, size.Bytes)

	got, err := m.Get(ctx, "k0")
	require.NoError(t, err)
	assert.False(t, got.Hit)
}

func TestOptimizeIdempotent(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxCacheSize = 4 << 20
	cfg.MemoryBudget = 4 << 20
	cfg.EnableBackgroundOptimization = false
	m := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.Set(ctx, fmt.Sprintf("k%d", i), wav(1<<20), types.SampleMetadata{})
		require.NoError(t, err)
	}

	first, err := m.Optimize(ctx)
	require.NoError(t, err)
	assert.True(t, first.Performed)

	second, err := m.Optimize(ctx)
	require.NoError(t, err)
	assert.True(t, second.Performed)
	assert.Zero(t, second.BytesFreed, "a second immediate pass must find nothing to free")
	assert.Zero(t, second.ItemsEvicted)
}

func TestOptimizeSingleFlight(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	// Simulate an in-flight pass.
	m.optimizing = 1
	_, err := m.Optimize(context.Background())
	assert.ErrorIs(t, err, errors.ErrOptimizationInProgress)

	m.optimizing = 0
	_, err = m.Optimize(context.Background())
	assert.NoError(t, err)
}

func TestAnalytics(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Set(ctx, "hit.wav", wav(512), types.SampleMetadata{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := m.Get(ctx, "hit.wav")
		require.NoError(t, err)
		require.True(t, got.Hit)
	}
	got, err := m.Get(ctx, "absent.wav")
	require.NoError(t, err)
	require.False(t, got.Hit)

	analytics := m.Analytics()
	assert.Equal(t, uint64(3), analytics.Hits)
	assert.Equal(t, uint64(1), analytics.Misses)
	assert.InDelta(t, 0.75, analytics.HitRate, 1e-9)
	assert.Equal(t, 1, analytics.Size.Count)
	assert.NotNil(t, analytics.Access)
	assert.Len(t, analytics.Tiers, 3)
	assert.Greater(t, analytics.AverageLoadTime.Nanoseconds(), int64(0))
}

func TestPredictiveRecommendationsExcludeResident(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	// Build a strong access history for a key, then evict it so it is
	// predicted but not resident.
	_, err := m.Set(ctx, "returning.wav", wav(256), types.SampleMetadata{})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		got, err := m.Get(ctx, "returning.wav")
		require.NoError(t, err)
		require.True(t, got.Hit)
	}
	require.NoError(t, m.Delete(ctx, "returning.wav"))

	plan := m.PredictiveRecommendations(10)
	require.NotEmpty(t, plan)
	assert.Equal(t, "returning.wav", plan[0].Key)

	// Resident keys never appear in the preload plan.
	_, err = m.Set(ctx, "returning.wav", wav(256), types.SampleMetadata{})
	require.NoError(t, err)
	for _, op := range m.PredictiveRecommendations(10) {
		assert.NotEqual(t, "returning.wav", op.Key)
	}
}

func TestPredictiveRecommendationsDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.EnablePredictiveCaching = false
	cfg.EnableBackgroundOptimization = false
	m := newTestManager(t, cfg)

	assert.Nil(t, m.PredictiveRecommendations(10))
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	newSize := int64(42 << 20)
	require.NoError(t, m.UpdateConfig(&config.Partial{MaxCacheSize: &newSize}))
	assert.Equal(t, newSize, m.config().MaxCacheSize)

	bad := int64(-1)
	err := m.UpdateConfig(&config.Partial{MaxCacheSize: &bad})
	assert.Error(t, err)
	assert.Equal(t, newSize, m.config().MaxCacheSize, "rejected partial must not apply")

	assert.NoError(t, m.UpdateConfig(nil))
}

func TestSynchronizeTiers(t *testing.T) {
	t.Parallel()

	stores := testStores()
	cfg := config.Default()
	cfg.EnableBackgroundOptimization = false
	// High frequency threshold of 0 is invalid; instead use hybrid default
	// and write a second copy manually to create divergence.
	m, err := New(cfg, stores, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Set(ctx, "mix.wav", wav(128), types.SampleMetadata{})
	require.NoError(t, err)

	report, err := m.SynchronizeTiers(ctx, "mix.wav")
	require.NoError(t, err)
	assert.Empty(t, report.Conflicts)

	_, err = m.SynchronizeTiers(ctx, "absent")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

type evictionRecorder struct {
	evicted []string
}

func (r *evictionRecorder) EntryEvicted(key string, _ int64) { r.evicted = append(r.evicted, key) }
func (r *evictionRecorder) TierDegraded(types.Tier, error)  {}

func TestObserverNotifiedOnEviction(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxCacheSize = 2 << 20
	cfg.MemoryBudget = 2 << 20
	cfg.EnableBackgroundOptimization = false

	recorder := &evictionRecorder{}
	m, err := New(cfg, testStores(), Options{Observer: recorder})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Set(ctx, "first", wav(1<<20+1<<19), types.SampleMetadata{})
	require.NoError(t, err)
	_, err = m.Set(ctx, "second", wav(1<<20), types.SampleMetadata{})
	require.NoError(t, err)

	assert.Contains(t, recorder.evicted, "first")
}
