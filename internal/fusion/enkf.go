// Package fusion reconciles weather series from multiple sources into a
// single best estimate per timestamp using an Ensemble Kalman Filter.
package fusion

import (
	"errors"
	"fmt"
	"math"
	exprand "golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

var (
	// ErrNoSources is returned when Fuse is called with zero input series.
	ErrNoSources = errors.New("fusion requires at least one source series")

	// ErrEmptyIntersection is returned when the sources share no timestamps.
	ErrEmptyIntersection = errors.New("source series share no common timestamps")
)

// Options tunes the filter.
type Options struct {
	EnsembleSize   int     // number of ensemble members
	NoiseSigma     float64 // stddev of ensemble perturbations, native units
	Inflation      float64 // multiplicative spread inflation per step
	ObservationVar float64 // diagonal of the observation covariance R
	KNNNeighbors   int     // neighbours for the pre-fusion imputer
	Seed           uint64  // deterministic seeding for tests; 0 means fixed default
}

// DefaultOptions returns the standard filter configuration.
func DefaultOptions() Options {
	return Options{
		EnsembleSize:   50,
		NoiseSigma:     0.1,
		Inflation:      1.02,
		ObservationVar: 0.1,
		KNNNeighbors:   5,
	}
}

// Fuse combines validated series from two or more sources into one series.
// A single source passes through unchanged with a warning; zero sources is an
// error. Sources with mismatched indices are reduced to their timestamp
// intersection first. The first source plays the role of the observation in
// each Kalman update cycle.
func Fuse(series []*weather.Series, opts Options) (*weather.Series, []string, error) {
	if len(series) == 0 {
		return nil, nil, ErrNoSources
	}

	var warnings []string

	if len(series) == 1 {
		warnings = append(warnings, "fusion: single source supplied, passing through unchanged")
		return series[0].Clone(), warnings, nil
	}

	aligned := weather.Intersect(series)
	if aligned[0].Len() == 0 {
		return nil, nil, ErrEmptyIntersection
	}
	if aligned[0].Len() != series[0].Len() {
		warnings = append(warnings, fmt.Sprintf("fusion: inputs reduced to %d common timestamps", aligned[0].Len()))
	}

	vars := commonVariables(aligned)
	if len(vars) == 0 {
		return nil, nil, errors.New("source series share no common variables")
	}

	imputed := 0
	for _, s := range aligned {
		for _, v := range vars {
			imputed += knnImpute(s.Values[v], opts.KNNNeighbors)
		}
	}
	if imputed > 0 {
		warnings = append(warnings, fmt.Sprintf("fusion: imputed %d values via %d-nearest-neighbour averaging before filtering", imputed, opts.KNNNeighbors))
	}

	fused, err := runFilter(aligned, vars, opts)
	if err != nil {
		return nil, warnings, err
	}

	for _, s := range series {
		fused.Sources = append(fused.Sources, s.Sources...)
	}

	return fused, warnings, nil
}

// runFilter performs the per-timestep ensemble Kalman update. The ensemble is
// held as an explicit perturbation matrix rather than mutated in place, so a
// single step is independently testable.
func runFilter(aligned []*weather.Series, vars []weather.Variable, opts Options) (*weather.Series, error) {
	var (
		nVars = len(vars)
		steps = aligned[0].Len()
		n     = opts.EnsembleSize
	)
	if n < 2 {
		return nil, fmt.Errorf("ensemble size %d is too small", n)
	}

	noise := distuv.Normal{
		Mu:    0,
		Sigma: opts.NoiseSigma,
		Src:   exprand.NewSource(opts.Seed),
	}

	out := weather.NewSeries(aligned[0].Resolution, aligned[0].Times)
	for _, v := range vars {
		out.Values[v] = make([]float64, steps)
	}

	// Perturbations persist across timesteps so the spread structure carries
	// forward; only the mean is re-centred each step.
	pert := mat.NewDense(nVars, n, nil)
	for i := 0; i < nVars; i++ {
		for j := 0; j < n; j++ {
			pert.Set(i, j, noise.Rand())
		}
	}

	r := identityScaled(nVars, opts.ObservationVar)

	for t := 0; t < steps; t++ {
		forecast := mat.NewVecDense(nVars, nil)
		for i, v := range vars {
			sum := 0.0
			for _, s := range aligned {
				sum += s.Values[v][t]
			}
			forecast.SetVec(i, sum/float64(len(aligned)))
		}

		pert.Scale(opts.Inflation, pert)

		// P = A Aᵀ / (N-1)
		var p mat.Dense
		p.Mul(pert, pert.T())
		p.Scale(1/float64(n-1), &p)

		// Innovation covariance S = P + R; the additive R keeps S invertible
		// for zero-variance columns.
		var s mat.Dense
		s.Add(&p, r)

		var sInv mat.Dense
		if err := sInv.Inverse(&s); err != nil {
			return nil, fmt.Errorf("singular innovation covariance at step %d: %w", t, err)
		}

		var gain mat.Dense
		gain.Mul(&p, &sInv)

		obs := mat.NewVecDense(nVars, nil)
		for i, v := range vars {
			obs.SetVec(i, aligned[0].Values[v][t])
		}

		var innovation mat.VecDense
		innovation.SubVec(obs, forecast)

		var correction mat.VecDense
		correction.MulVec(&gain, &innovation)

		var analysis mat.VecDense
		analysis.AddVec(forecast, &correction)

		for i, v := range vars {
			x := analysis.AtVec(i)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("non-finite analysis state for %s at step %d", v, t)
			}
			out.Values[v][t] = x
		}
	}

	return out, nil
}

// knnImpute replaces NaN entries with the mean of the k nearest valid
// neighbours by index distance. Returns the number of values replaced.
func knnImpute(col []float64, k int) int {
	if k <= 0 {
		k = 5
	}

	replaced := 0
	src := append([]float64(nil), col...)
	for i := range col {
		if !math.IsNaN(src[i]) {
			continue
		}

		sum, found := 0.0, 0
		for d := 1; d < len(src) && found < k; d++ {
			if i-d >= 0 && !math.IsNaN(src[i-d]) {
				sum += src[i-d]
				found++
			}
			if found < k && i+d < len(src) && !math.IsNaN(src[i+d]) {
				sum += src[i+d]
				found++
			}
		}
		if found > 0 {
			col[i] = sum / float64(found)
			replaced++
		}
	}
	return replaced
}

// commonVariables returns the variables present in every source, in the
// stable order of the first source.
func commonVariables(series []*weather.Series) []weather.Variable {
	var vars []weather.Variable
	for _, v := range series[0].Variables() {
		shared := true
		for _, s := range series[1:] {
			if !s.HasColumn(v) {
				shared = false
				break
			}
		}
		if shared {
			vars = append(vars, v)
		}
	}
	return vars
}

func identityScaled(n int, x float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, x)
	}
	return m
}
