package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceio/sluice/pkg/types"
)

func fixedRate(rate float64) func() float64 {
	return func() float64 { return rate }
}

func TestShouldTrackDeterministic(t *testing.T) {
	a := New(fixedRate(0.5), 0)
	b := New(fixedRate(0.5), 0)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("thread-%d", i)
		first := a.ShouldTrack(id)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, a.ShouldTrack(id))
		}
		// Independent instances agree.
		assert.Equal(t, first, b.ShouldTrack(id))
	}
}

func TestShouldTrackRateBoundaries(t *testing.T) {
	zero := New(fixedRate(0), 0)
	full := New(fixedRate(1), 0)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("thread-%d", i)
		assert.False(t, zero.ShouldTrack(id))
		assert.True(t, full.ShouldTrack(id))
	}
}

func TestZeroRateRecordsNothingExceptForced(t *testing.T) {
	trk := New(fixedRate(0), 0)

	span := trk.Begin(StageValidation, "t1", false)
	span.End(types.OutcomeSuccess)
	assert.Equal(t, 0, trk.SampleCount(StageValidation))

	forced := trk.Begin(StageValidation, "t1", true)
	forced.End(types.OutcomeSuccess)
	assert.Equal(t, 1, trk.SampleCount(StageValidation))
}

func TestSpanEndIsFirstWins(t *testing.T) {
	trk := New(fixedRate(1), 0)

	span := trk.Begin(StageStreaming, "t1", false)
	span.End(types.OutcomeSuccess)
	span.End(types.OutcomeError)

	assert.Equal(t, 1, trk.SampleCount(StageStreaming))
	stats, ok := trk.Statistics(StageStreaming, 0)
	require.True(t, ok)
	assert.Equal(t, 1, stats.Count)
}

func TestNilSpanIsNoOp(t *testing.T) {
	var span *Span
	span.End(types.OutcomeSuccess)
	span.EndWith(types.OutcomeSuccess, nil)
}

func TestRingOverwritesOldest(t *testing.T) {
	trk := New(fixedRate(1), 5)

	for i := 0; i < 12; i++ {
		span := trk.Begin(StageRateLimit, fmt.Sprintf("t%d", i), false)
		span.End(types.OutcomeSuccess)
	}
	assert.Equal(t, 5, trk.SampleCount(StageRateLimit))
}

func TestStatisticsPercentiles(t *testing.T) {
	trk := New(fixedRate(1), 0)

	base := time.Now()
	for i := 1; i <= 100; i++ {
		trk.record(Sample{
			Stage:   StageStreaming,
			Start:   base,
			End:     base.Add(time.Duration(i) * time.Millisecond),
			Outcome: types.OutcomeSuccess,
		})
	}

	stats, ok := trk.Statistics(StageStreaming, 0)
	require.True(t, ok)
	assert.Equal(t, 100, stats.Count)
	assert.Equal(t, 50500*time.Microsecond, stats.Mean)
	assert.InDelta(t, float64(51*time.Millisecond), float64(stats.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(96*time.Millisecond), float64(stats.P95), float64(time.Millisecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(stats.P99), float64(time.Millisecond))
}

func TestStatisticsUnknownStage(t *testing.T) {
	trk := New(fixedRate(1), 0)
	_, ok := trk.Statistics("nope", 0)
	assert.False(t, ok)
}

func TestStagesSorted(t *testing.T) {
	trk := New(fixedRate(1), 0)
	for _, stage := range []string{StageStreaming, StageValidation, StageCacheLookup} {
		span := trk.Begin(stage, "t1", false)
		span.End(types.OutcomeSuccess)
	}
	assert.Equal(t, []string{StageValidation, StageCacheLookup, StageStreaming}, trk.Stages())
}

func TestStatisticsLimit(t *testing.T) {
	trk := New(fixedRate(1), 0)
	base := time.Now()
	for i := 0; i < 20; i++ {
		trk.record(Sample{Stage: StageCleanup, Start: base, End: base.Add(time.Millisecond)})
	}

	stats, ok := trk.Statistics(StageCleanup, 5)
	require.True(t, ok)
	assert.Equal(t, 5, stats.Count)
}
