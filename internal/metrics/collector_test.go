package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/pkg/types"
)

func TestNewCollectorDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)
	require.NotNil(t, c.Registry())
}

func TestDisabledCollectorIsSafe(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	// All recording paths must be no-ops, not panics.
	c.RecordOperation("get", types.TierMemory, time.Millisecond)
	c.RecordLookup(true)
	c.RecordEviction(3, 1024)
	c.RecordTierError(types.TierBlob, "read")
	c.SetCacheState(100, 1, types.PressureLow)
	assert.Nil(t, c.Registry())
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordOperation("get", types.TierMemory, time.Millisecond)
	c.RecordLookup(false)
	c.RecordEviction(1, 10)
}

func TestCollectorCounters(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordLookup(true)
	c.RecordLookup(true)
	c.RecordLookup(false)

	assert.InDelta(t, 2, testutil.ToFloat64(c.hitCounter.WithLabelValues("hit")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.hitCounter.WithLabelValues("miss")), 1e-9)

	c.RecordEviction(5, 4096)
	assert.InDelta(t, 5, testutil.ToFloat64(c.evictionCounter), 1e-9)
	assert.InDelta(t, 4096, testutil.ToFloat64(c.evictedBytes), 1e-9)

	c.RecordTierError(types.TierDisk, "write")
	assert.InDelta(t, 1,
		testutil.ToFloat64(c.tierErrorCounter.WithLabelValues("disk", "write")), 1e-9)
}

func TestCollectorGauges(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.SetCacheState(1<<20, 42, types.PressureHigh)
	assert.InDelta(t, float64(1<<20), testutil.ToFloat64(c.cacheSizeGauge), 1e-9)
	assert.InDelta(t, 42, testutil.ToFloat64(c.cacheCountGauge), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(c.pressureGauge), 1e-9)
}
