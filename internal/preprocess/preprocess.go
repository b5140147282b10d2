// Package preprocess validates and repairs normalized weather series before
// fusion and ETo computation. The three stages never drop rows; they only
// replace implausible values with NaN and later fill them back in, so the row
// count is preserved end to end.
package preprocess

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/agroclim/matopiba-eto/internal/eto"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

// DefaultIQRFactor is the fence multiplier for the outlier stage.
const DefaultIQRFactor = 1.5

// bounds holds the physically plausible range for a variable.
type bounds struct {
	min, max float64
}

var physicalBounds = map[weather.Variable]bounds{
	weather.VarTMax:     {-30, 50},
	weather.VarTMin:     {-30, 50},
	weather.VarTMean:    {-30, 50},
	weather.VarRH:       {0, 100},
	weather.VarWind2m:   {0, 60},
	weather.VarPrecip:   {0, 450},
	weather.VarDewPoint: {-40, 40},
	weather.VarRefETo:   {0, 20},
}

// Run applies the full pipeline in order: physical bounds, IQR outliers,
// imputation.
func Run(s *weather.Series, loc weather.Location) (*weather.Series, []string) {
	out, warnings := ValidateBounds(s, loc)

	out, w := RemoveOutliers(out, DefaultIQRFactor)
	warnings = append(warnings, w...)

	out, w = Impute(out)
	warnings = append(warnings, w...)

	return out, warnings
}

// ValidateBounds replaces values outside fixed physical ranges with NaN.
// Solar radiation is additionally bounded by the extraterrestrial radiation
// for the location's latitude and each record's day of year.
func ValidateBounds(s *weather.Series, loc weather.Location) (*weather.Series, []string) {
	out := s.Clone()
	var warnings []string

	for v, col := range out.Values {
		b, ok := physicalBounds[v]
		if !ok {
			continue
		}
		rejected := 0
		for i := range col {
			if math.IsNaN(col[i]) {
				continue
			}
			if col[i] < b.min || col[i] > b.max {
				col[i] = math.NaN()
				rejected++
			}
		}
		if rejected > 0 {
			warnings = append(warnings, boundsWarning(v, rejected, len(col)))
		}
	}

	if col, ok := out.Values[weather.VarRadiation]; ok {
		rejected := 0
		for i := range col {
			if math.IsNaN(col[i]) {
				continue
			}
			var lo, hi float64
			if out.Resolution == weather.ResolutionHourly {
				hi = eto.RaHourly(loc.Latitude, loc.Longitude, out.Times[i])
			} else {
				ra := eto.RaDaily(loc.Latitude, out.Times[i])
				lo, hi = 0.03*ra, ra
			}
			if col[i] < lo || col[i] > hi {
				col[i] = math.NaN()
				rejected++
			}
		}
		if rejected > 0 {
			warnings = append(warnings, boundsWarning(weather.VarRadiation, rejected, len(col)))
		}
	}

	return out, warnings
}

// RemoveOutliers applies Tukey fences per column: anything outside
// [Q1 - k·IQR, Q3 + k·IQR] becomes NaN.
func RemoveOutliers(s *weather.Series, k float64) (*weather.Series, []string) {
	out := s.Clone()
	var warnings []string

	for v, col := range out.Values {
		valid := make([]float64, 0, len(col))
		for _, x := range col {
			if !math.IsNaN(x) {
				valid = append(valid, x)
			}
		}
		if len(valid) < 4 {
			continue
		}

		q, err := stats.Quartile(valid)
		if err != nil {
			continue
		}
		iqr := q.Q3 - q.Q1
		lo, hi := q.Q1-k*iqr, q.Q3+k*iqr

		removed := 0
		for i := range col {
			if math.IsNaN(col[i]) {
				continue
			}
			if col[i] < lo || col[i] > hi {
				col[i] = math.NaN()
				removed++
			}
		}
		if removed > 0 {
			warnings = append(warnings, fmt.Sprintf("preprocess: %s: %d of %d values flagged as outliers (%.1f%%)",
				v, removed, len(col), 100*float64(removed)/float64(len(col))))
		}
	}

	return out, warnings
}

// Impute fills NaN gaps per column with two-sided linear time interpolation,
// falling back to the column mean for leading and trailing gaps. Every
// substitution is reported so downstream consumers can audit accuracy
// degradation.
func Impute(s *weather.Series) (*weather.Series, []string) {
	out := s.Clone()
	var warnings []string

	for v, col := range out.Values {
		filled := interpolateLinear(col)

		remaining := 0
		for i := range filled {
			if math.IsNaN(filled[i]) {
				remaining++
			}
		}
		if remaining > 0 {
			mean, ok := columnMean(filled)
			if ok {
				for i := range filled {
					if math.IsNaN(filled[i]) {
						filled[i] = mean
					}
				}
			}
		}

		substituted := 0
		for i := range col {
			if math.IsNaN(col[i]) && !math.IsNaN(filled[i]) {
				substituted++
			}
		}
		if substituted > 0 {
			warnings = append(warnings, fmt.Sprintf("preprocess: %s: imputed %d of %d values (%.1f%%)",
				v, substituted, len(col), 100*float64(substituted)/float64(len(col))))
		}

		out.Values[v] = filled
	}

	return out, warnings
}

// interpolateLinear fills interior NaN runs by linear interpolation between
// the nearest valid neighbours. Leading/trailing runs are left NaN.
func interpolateLinear(col []float64) []float64 {
	out := append([]float64(nil), col...)

	prev := -1
	for i := 0; i < len(out); i++ {
		if math.IsNaN(out[i]) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			step := (out[i] - out[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				out[j] = out[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}
	return out
}

func columnMean(col []float64) (float64, bool) {
	sum, n := 0.0, 0
	for _, x := range col {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func boundsWarning(v weather.Variable, rejected, total int) string {
	return fmt.Sprintf("preprocess: %s: %d of %d values outside physical bounds (%.1f%%)",
		v, rejected, total, 100*float64(rejected)/float64(total))
}
