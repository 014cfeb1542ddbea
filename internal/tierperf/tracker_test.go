package tierperf

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/pkg/types"
)

var errBackend = errors.New("backend unavailable")

func TestTrackerHealthyByDefault(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())
	for _, tier := range types.Tiers() {
		assert.True(t, tr.Healthy(tier), "tier %s should start healthy", tier)
	}
}

func TestTrackerConsecutiveFailuresMarkUnhealthy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())

	for i := 0; i < defaultFailureThreshold-1; i++ {
		tr.RecordOperation(types.TierBlob, OpGet, time.Millisecond, false, errBackend)
		assert.True(t, tr.Healthy(types.TierBlob))
	}
	tr.RecordOperation(types.TierBlob, OpGet, time.Millisecond, false, errBackend)
	assert.False(t, tr.Healthy(types.TierBlob))

	// One success resets the failure run.
	tr.RecordOperation(types.TierBlob, OpGet, time.Millisecond, true, nil)
	assert.True(t, tr.Healthy(types.TierBlob))
}

func TestTrackerRecoversAfterCooldown(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())
	tr.cooldown = 10 * time.Millisecond

	for i := 0; i < defaultFailureThreshold; i++ {
		tr.RecordOperation(types.TierDisk, OpGet, time.Millisecond, false, errBackend)
	}
	require.False(t, tr.Healthy(types.TierDisk))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, tr.Healthy(types.TierDisk), "tier must re-enter service after cooldown")
}

func TestTrackerHitRateAndErrorRate(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())

	tr.RecordOperation(types.TierMemory, OpGet, time.Microsecond, true, nil)
	tr.RecordOperation(types.TierMemory, OpGet, time.Microsecond, true, nil)
	tr.RecordOperation(types.TierMemory, OpGet, time.Microsecond, false, nil)
	tr.RecordOperation(types.TierMemory, OpSet, time.Microsecond, false, errBackend)

	report := tr.Report(types.TierMemory)
	assert.Equal(t, int64(3), report.Gets)
	assert.Equal(t, int64(1), report.Sets)
	assert.Equal(t, int64(2), report.Hits)
	assert.Equal(t, int64(1), report.Misses)
	assert.InDelta(t, 2.0/3.0, report.HitRate, 1e-9)
	assert.InDelta(t, 0.25, report.ErrorRate, 1e-9)
}

func TestTrackerLatencyEMA(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())

	tr.RecordOperation(types.TierDisk, OpGet, 10*time.Millisecond, true, nil)
	assert.Equal(t, 10*time.Millisecond, tr.AverageLatency(types.TierDisk))

	tr.RecordOperation(types.TierDisk, OpGet, 20*time.Millisecond, true, nil)
	avg := tr.AverageLatency(types.TierDisk)
	assert.Greater(t, avg, 10*time.Millisecond)
	assert.Less(t, avg, 20*time.Millisecond)
}

func TestTrackerQualityScore(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())

	// No traffic: neutral.
	assert.InDelta(t, 0.5, tr.QualityScore(types.TierBlob), 1e-9)

	// Fast, always-hitting tier beats a slow, erroring one.
	for i := 0; i < 10; i++ {
		tr.RecordOperation(types.TierMemory, OpGet, 100*time.Microsecond, true, nil)
		tr.RecordOperation(types.TierBlob, OpGet, 500*time.Millisecond, false, errBackend)
	}
	assert.Greater(t, tr.QualityScore(types.TierMemory), tr.QualityScore(types.TierBlob))
}

func TestTrackerRankingPushesUnhealthyLast(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())

	for i := 0; i < defaultFailureThreshold; i++ {
		tr.RecordOperation(types.TierMemory, OpGet, time.Millisecond, false, errBackend)
	}
	tr.RecordOperation(types.TierDisk, OpGet, time.Millisecond, true, nil)
	tr.RecordOperation(types.TierBlob, OpGet, 50*time.Millisecond, true, nil)

	ranking := tr.Ranking()
	require.Len(t, ranking, 3)
	assert.Equal(t, types.TierMemory, ranking[2], "unhealthy tier must rank last")
}

func TestTrackerReportsCoverAllTiers(t *testing.T) {
	t.Parallel()

	tr := NewTracker(zerolog.Nop())
	reports := tr.Reports()
	assert.Len(t, reports, 3)
	for tier, report := range reports {
		assert.True(t, report.Healthy, "tier %s", tier)
	}
}
