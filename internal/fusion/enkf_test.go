package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

func makeSeries(t *testing.T, source string, start time.Time, tmean []float64) *weather.Series {
	t.Helper()
	times := make([]time.Time, len(tmean))
	for i := range times {
		times[i] = start.AddDate(0, 0, i)
	}
	s := weather.NewSeries(weather.ResolutionDaily, times)
	require.NoError(t, s.SetColumn(weather.VarTMean, tmean))
	s.Sources = []string{source}
	return s
}

func TestFuseNoSources(t *testing.T) {
	_, _, err := Fuse(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestFuseSingleSourcePassThrough(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := makeSeries(t, "archive", start, []float64{25, 26, 27})

	out, warnings, err := Fuse([]*weather.Series{a}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "single source")
	assert.Equal(t, a.Column(weather.VarTMean), out.Column(weather.VarTMean))

	// Pass-through must still be a copy.
	out.Column(weather.VarTMean)[0] = -99
	assert.Equal(t, 25.0, a.Column(weather.VarTMean)[0])
}

func TestFuseDisjointTimestamps(t *testing.T) {
	a := makeSeries(t, "a", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), []float64{25, 26})
	b := makeSeries(t, "b", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), []float64{25, 26})

	_, _, err := Fuse([]*weather.Series{a, b}, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyIntersection)
}

func TestFuseBiasedPairLandsBetween(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := []float64{24, 25, 26, 27, 26, 25, 24, 25, 26, 27}
	biased := make([]float64, len(base))
	for i := range base {
		biased[i] = base[i] + 1
	}

	a := makeSeries(t, "a", start, base)
	b := makeSeries(t, "b", start, biased)

	out, _, err := Fuse([]*weather.Series{a, b}, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, len(base), out.Len())

	for i, x := range out.Column(weather.VarTMean) {
		assert.GreaterOrEqual(t, x, base[i]-0.2, "fused value near or above the lower source")
		assert.LessOrEqual(t, x, biased[i]+0.2, "fused value near or below the upper source")
	}
	assert.Equal(t, []string{"a", "b"}, out.Sources)
}

func TestFuseIdenticalSourcesReturnInput(t *testing.T) {
	// Two sources in perfect agreement carry zero spread, so the filter has
	// nothing to correct: the fused series must reproduce the input values.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vals := []float64{24, 25, 26, 27, 26, 25, 24}

	a := makeSeries(t, "a", start, vals)
	b := makeSeries(t, "b", start, append([]float64(nil), vals...))

	out, _, err := Fuse([]*weather.Series{a, b}, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, len(vals), out.Len())

	for i, x := range out.Column(weather.VarTMean) {
		assert.InDelta(t, vals[i], x, 1e-9)
	}
}

func TestFuseObservationPullsTowardFirstSource(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lo := makeSeries(t, "obs", start, []float64{20, 20, 20, 20, 20})
	hi := makeSeries(t, "other", start, []float64{30, 30, 30, 30, 30})

	out, _, err := Fuse([]*weather.Series{lo, hi}, DefaultOptions())
	require.NoError(t, err)

	for _, x := range out.Column(weather.VarTMean) {
		assert.Less(t, x, 25.0, "analysis must sit between the ensemble mean and the observation")
		assert.GreaterOrEqual(t, x, 20.0)
	}
}

func TestFuseReductionWarningOnPartialOverlap(t *testing.T) {
	a := makeSeries(t, "a", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), []float64{25, 25, 25, 25, 25})
	b := makeSeries(t, "b", time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), []float64{26, 26, 26, 26, 26})

	out, warnings, err := Fuse([]*weather.Series{a, b}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())

	var found bool
	for _, w := range warnings {
		if w == "fusion: inputs reduced to 3 common timestamps" {
			found = true
		}
	}
	assert.True(t, found, "overlap reduction must be reported, got %v", warnings)
}

func TestFuseImputesGapsBeforeFiltering(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := makeSeries(t, "a", start, []float64{25, math.NaN(), 25, 25, 25})
	b := makeSeries(t, "b", start, []float64{25, 25, 25, 25, 25})

	out, warnings, err := Fuse([]*weather.Series{a, b}, DefaultOptions())
	require.NoError(t, err)

	for _, x := range out.Column(weather.VarTMean) {
		assert.False(t, math.IsNaN(x))
	}
	var found bool
	for _, w := range warnings {
		if w == "fusion: imputed 1 values via 5-nearest-neighbour averaging before filtering" {
			found = true
		}
	}
	assert.True(t, found, "knn imputation must be reported, got %v", warnings)
}

func TestFuseDeterministicWithSeed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := DefaultOptions()
	opts.Seed = 42

	run := func() []float64 {
		a := makeSeries(t, "a", start, []float64{24, 25, 26, 27, 26})
		b := makeSeries(t, "b", start, []float64{25, 26, 27, 28, 27})
		out, _, err := Fuse([]*weather.Series{a, b}, opts)
		require.NoError(t, err)
		return out.Column(weather.VarTMean)
	}

	assert.Equal(t, run(), run())
}
