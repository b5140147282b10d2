package eto

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

// ASCE-EWRI standardized hourly coefficients for the short reference crop.
const (
	hourlyCn      = 37.0
	hourlyCdDay   = 0.24
	hourlyCdNight = 0.96

	// Soil heat flux as a fraction of net radiation.
	soilHeatFluxDay   = 0.1
	soilHeatFluxNight = 0.5

	// Humidity fallback when neither dew point nor relative humidity is
	// available for an hour.
	fallbackRH = 70.0
)

// HourlyRecord is one hour of computed reference evapotranspiration.
type HourlyRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	TempC       float64   `json:"temp_c"`
	Wind2m      float64   `json:"wind2m"`
	RadiationMJ float64   `json:"radiation_mj"`
	EToMm       float64   `json:"eto_mm"`
	Night       bool      `json:"night"`
	Missing     bool      `json:"missing,omitempty"`
}

// DailyTotal is the aggregation of 24 complete hourly records.
type DailyTotal struct {
	Date  time.Time `json:"date"`
	EToMm float64   `json:"eto_mm"`
	Hours int       `json:"hours"`
}

// ComputeHourly evaluates the ASCE-EWRI hourly Penman-Monteith form for every
// hour of the series. Vapor pressure is taken from dew point when present,
// else from relative humidity, else a fixed 70% assumption.
func ComputeHourly(s *weather.Series, loc weather.Location) ([]HourlyRecord, []string, error) {
	required := []weather.Variable{weather.VarTMean, weather.VarWind2m, weather.VarRadiation}
	var missing []weather.Variable
	for _, v := range required {
		if !s.HasColumn(v) {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("series is missing required columns: %v", missing)
	}

	var (
		warnings   []string
		records    = make([]HourlyRecord, 0, s.Len())
		rhCol      = s.Column(weather.VarRH)
		dewCol     = s.Column(weather.VarDewPoint)
		nFallback  int
		nUndefined int
	)

	p := AtmosphericPressure(loc.ElevationM)
	gamma := PsychrometricConstant(p)

	for i, ts := range s.Times {
		temp := s.Column(weather.VarTMean)[i]
		wind := s.Column(weather.VarWind2m)[i]
		rs := s.Column(weather.VarRadiation)[i]

		if anyNaN(temp, wind, rs) {
			return nil, warnings, fmt.Errorf("NaN input at %s after preprocessing", ts.Format(time.RFC3339))
		}

		es := SaturationVaporPressure(temp)
		var ea float64
		switch {
		case dewCol != nil && !math.IsNaN(dewCol[i]):
			ea = SaturationVaporPressure(dewCol[i])
		case rhCol != nil && !math.IsNaN(rhCol[i]):
			ea = es * rhCol[i] / 100
		default:
			ea = es * fallbackRH / 100
			nFallback++
		}
		if ea > es {
			ea = es
		}

		rn := hourlyNetRadiation(temp, rs, ea, loc, ts)
		night := rn <= 0

		cd := hourlyCdDay
		g := soilHeatFluxDay * rn
		if night {
			cd = hourlyCdNight
			g = soilHeatFluxNight * rn
		}

		rec := HourlyRecord{Timestamp: ts, TempC: temp, Wind2m: wind, RadiationMJ: rs, Night: night}

		delta := VaporPressureSlope(temp)
		den := delta + gamma*(1+cd*wind)
		if den <= 0 {
			rec.Missing = true
			nUndefined++
			records = append(records, rec)
			continue
		}

		value := (0.408*delta*(rn-g) + gamma*(hourlyCn/(temp+273))*wind*(es-ea)) / den
		if value < 0 {
			value = 0
		}
		rec.EToMm = value
		records = append(records, rec)
	}

	if nFallback > 0 {
		warnings = append(warnings, fmt.Sprintf("eto: %d of %d hours used the fixed %.0f%% humidity fallback", nFallback, s.Len(), fallbackRH))
	}
	if nUndefined > 0 {
		warnings = append(warnings, fmt.Sprintf("eto: %d of %d hours undefined (non-positive denominator)", nUndefined, s.Len()))
	}

	return records, warnings, nil
}

// hourlyNetRadiation computes Rn in MJ/m²/hour for one hour.
func hourlyNetRadiation(temp, rs, ea float64, loc weather.Location, ts time.Time) float64 {
	rns := (1 - albedo) * rs

	ra := RaHourly(loc.Latitude, loc.Longitude, ts)
	rso := ClearSkyRadiation(ra, loc.ElevationM)

	// At night Rso is zero and the cloudiness ratio is undefined; ASCE-EWRI
	// recommends carrying a representative late-afternoon value instead.
	ratio := 0.8
	if rso > 0 {
		ratio = rs / rso
		if ratio < 0.3 {
			ratio = 0.3
		} else if ratio > 1 {
			ratio = 1
		}
	}

	rnl := stefanBoltzmannHourly * math.Pow(temp+273.16, 4) *
		(0.34 - 0.14*math.Sqrt(ea)) * (1.35*ratio - 0.35)

	return rns - rnl
}

// AggregateDaily sums hourly ETo into daily totals. Only days with all 24
// hours present and defined are aggregated; incomplete days are reported in
// the warnings, never silently included.
func AggregateDaily(records []HourlyRecord) ([]DailyTotal, []string) {
	type bucket struct {
		sum     float64
		hours   int
		missing bool
	}

	buckets := make(map[time.Time]*bucket)
	for _, r := range records {
		day := time.Date(r.Timestamp.Year(), r.Timestamp.Month(), r.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.hours++
		if r.Missing {
			b.missing = true
			continue
		}
		b.sum += r.EToMm
	}

	days := make([]time.Time, 0, len(buckets))
	for d := range buckets {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var (
		totals   []DailyTotal
		warnings []string
		excluded int
	)
	for _, d := range days {
		b := buckets[d]
		if b.hours < 24 || b.missing {
			excluded++
			continue
		}
		totals = append(totals, DailyTotal{Date: d, EToMm: b.sum, Hours: b.hours})
	}

	if excluded > 0 {
		warnings = append(warnings, fmt.Sprintf("eto: %d incomplete days excluded from daily aggregation", excluded))
	}
	return totals, warnings
}
