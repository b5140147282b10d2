// Package validation scores computed ETo against an independent reference.
package validation

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// Status is the categorical quality label of a batch run.
type Status string

const (
	StatusExcellent     Status = "EXCELLENT"
	StatusAcceptable    Status = "ACCEPTABLE"
	StatusBelowExpected Status = "BELOW_EXPECTED"
)

// minMeaningfulSamples is the sample count below which R² carries little
// statistical meaning and the result must be flagged.
const minMeaningfulSamples = 7

// ErrNoSamples is returned when no valid (computed, reference) pairs remain
// after NaN removal.
var ErrNoSamples = errors.New("no valid sample pairs for validation")

// Metrics holds the comparison between computed and reference ETo.
// R² is directional: the computed series is the prediction and the reference
// series is the truth.
type Metrics struct {
	R2        float64 `json:"r2"`
	RMSE      float64 `json:"rmse"`
	Bias      float64 `json:"bias"`
	MAE       float64 `json:"mae"`
	NSamples  int     `json:"n_samples"`
	LowSample bool    `json:"low_sample,omitempty"`
	Status    Status  `json:"status"`
}

// Evaluate compares computed against reference ETo arrays of equal length.
// Pairs where either side is NaN are dropped before scoring.
func Evaluate(computed, reference []float64) (Metrics, error) {
	if len(computed) != len(reference) {
		return Metrics{}, fmt.Errorf("length mismatch: %d computed vs %d reference", len(computed), len(reference))
	}

	var pred, truth []float64
	for i := range computed {
		if math.IsNaN(computed[i]) || math.IsNaN(reference[i]) {
			continue
		}
		pred = append(pred, computed[i])
		truth = append(truth, reference[i])
	}
	if len(pred) == 0 {
		return Metrics{}, ErrNoSamples
	}

	n := float64(len(pred))

	var sumSq, sumAbs, sumDiff float64
	for i := range pred {
		d := pred[i] - truth[i]
		sumSq += d * d
		sumAbs += math.Abs(d)
		sumDiff += d
	}

	truthMean, err := stats.Mean(truth)
	if err != nil {
		return Metrics{}, err
	}

	var ssTot float64
	for _, y := range truth {
		ssTot += (y - truthMean) * (y - truthMean)
	}

	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - sumSq/ssTot
	} else if sumSq > 0 {
		r2 = 0
	}

	m := Metrics{
		R2:       r2,
		RMSE:     math.Sqrt(sumSq / n),
		Bias:     sumDiff / n,
		MAE:      sumAbs / n,
		NSamples: len(pred),
	}
	m.LowSample = m.NSamples < minMeaningfulSamples
	m.Status = classify(m)
	return m, nil
}

func classify(m Metrics) Status {
	switch {
	case m.R2 >= 0.75 && m.RMSE <= 1.2:
		return StatusExcellent
	case m.R2 >= 0.65 && m.RMSE <= 1.5:
		return StatusAcceptable
	default:
		return StatusBelowExpected
	}
}
