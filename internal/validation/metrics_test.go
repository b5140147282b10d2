package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePerfectAgreement(t *testing.T) {
	vals := []float64{3.1, 4.2, 5.0, 4.8, 3.9, 4.4, 5.2, 4.1}
	m, err := Evaluate(vals, vals)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.R2)
	assert.Equal(t, 0.0, m.RMSE)
	assert.Equal(t, 0.0, m.Bias)
	assert.Equal(t, 0.0, m.MAE)
	assert.Equal(t, 8, m.NSamples)
	assert.False(t, m.LowSample)
	assert.Equal(t, StatusExcellent, m.Status)
}

func TestEvaluateConstantOffset(t *testing.T) {
	truth := []float64{3, 4, 5, 4, 3, 4, 5, 4, 3, 4}
	pred := make([]float64, len(truth))
	for i := range truth {
		pred[i] = truth[i] + 0.5
	}

	m, err := Evaluate(pred, truth)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.Bias, 1e-9)
	assert.InDelta(t, 0.5, m.RMSE, 1e-9)
	assert.InDelta(t, 0.5, m.MAE, 1e-9)
	assert.Less(t, m.R2, 1.0)
}

func TestEvaluateDropsNaNPairs(t *testing.T) {
	pred := []float64{3, math.NaN(), 5, 4}
	truth := []float64{3, 4, math.NaN(), 4}

	m, err := Evaluate(pred, truth)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NSamples)
	assert.True(t, m.LowSample)
}

func TestEvaluateAllNaN(t *testing.T) {
	nan := math.NaN()
	_, err := Evaluate([]float64{nan, nan}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestEvaluateLengthMismatch(t *testing.T) {
	_, err := Evaluate([]float64{1, 2}, []float64{1})
	assert.Error(t, err)
}

func TestEvaluateConstantTruthZeroError(t *testing.T) {
	// Zero spread in the reference with exact predictions is a degenerate
	// perfect score, not a division by zero.
	m, err := Evaluate([]float64{4, 4, 4}, []float64{4, 4, 4})
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.R2)
}

func TestEvaluateConstantTruthWithError(t *testing.T) {
	m, err := Evaluate([]float64{5, 5, 5}, []float64{4, 4, 4})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.R2)
	assert.Equal(t, StatusBelowExpected, m.Status)
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		name string
		m    Metrics
		want Status
	}{
		{"excellent boundary", Metrics{R2: 0.75, RMSE: 1.2}, StatusExcellent},
		{"acceptable band", Metrics{R2: 0.70, RMSE: 1.4}, StatusAcceptable},
		{"good fit too noisy", Metrics{R2: 0.80, RMSE: 1.3}, StatusAcceptable},
		{"poor fit", Metrics{R2: 0.50, RMSE: 0.8}, StatusBelowExpected},
		{"noisy", Metrics{R2: 0.90, RMSE: 2.0}, StatusBelowExpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.m))
		})
	}
}
