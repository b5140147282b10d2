package eto

import (
	"fmt"
	"math"
	"time"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

// Inputs is the snapshot of meteorological values a record was computed from.
type Inputs struct {
	TMax        float64 `json:"tmax"`
	TMin        float64 `json:"tmin"`
	TMean       float64 `json:"tmean"`
	RH          float64 `json:"rh"`
	Wind2m      float64 `json:"wind2m"`
	RadiationMJ float64 `json:"radiation_mj"`
}

// Record is one computed reference evapotranspiration value. Records are
// immutable once computed; a rerun with different inputs produces new records.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Inputs    Inputs    `json:"inputs"`
	EToMm     float64   `json:"eto_mm"`
	RefEToMm  *float64  `json:"eto_reference_mm,omitempty"`

	// Missing marks a record whose Penman-Monteith denominator was not
	// positive; EToMm is zero but must not be read as a computed zero.
	Missing bool `json:"missing,omitempty"`
}

// AtmosphericPressure returns P in kPa at elevation z metres.
func AtmosphericPressure(elevationM float64) float64 {
	return 101.3 * math.Pow((293-0.0065*elevationM)/293, 5.26)
}

// PsychrometricConstant returns γ in kPa/°C for pressure P in kPa.
func PsychrometricConstant(pressureKPa float64) float64 {
	return 0.665e-3 * pressureKPa
}

// SaturationVaporPressure returns e°(T) in kPa for temperature in °C.
func SaturationVaporPressure(tempC float64) float64 {
	return 0.6108 * math.Exp(17.27*tempC/(tempC+237.3))
}

// VaporPressureSlope returns Δ in kPa/°C at temperature T in °C.
func VaporPressureSlope(tempC float64) float64 {
	return 4098 * SaturationVaporPressure(tempC) / math.Pow(tempC+237.3, 2)
}

// ComputeDaily evaluates the FAO-56 Penman-Monteith equation for every day of
// the series. The series must carry the core daily variables; missing columns
// are reported in a single error naming them. NaN values surviving
// preprocessing also fail the computation, so "no data" never degrades into a
// silent zero.
func ComputeDaily(s *weather.Series, loc weather.Location) ([]Record, []string, error) {
	required := []weather.Variable{
		weather.VarTMax, weather.VarTMin, weather.VarTMean,
		weather.VarRH, weather.VarWind2m, weather.VarRadiation,
	}

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
		warnings []string
		records  = make([]Record, 0, s.Len())
		refCol   = s.Column(weather.VarRefETo)
		nMissing int
	)

	for i, ts := range s.Times {
		in := Inputs{
			TMax:        s.Column(weather.VarTMax)[i],
			TMin:        s.Column(weather.VarTMin)[i],
			TMean:       s.Column(weather.VarTMean)[i],
			RH:          s.Column(weather.VarRH)[i],
			Wind2m:      s.Column(weather.VarWind2m)[i],
			RadiationMJ: s.Column(weather.VarRadiation)[i],
		}

		if anyNaN(in.TMax, in.TMin, in.TMean, in.RH, in.Wind2m, in.RadiationMJ) {
			return nil, warnings, fmt.Errorf("NaN input at %s after preprocessing", ts.Format("2006-01-02"))
		}

		rec := Record{Timestamp: ts, Inputs: in}

		value, ok := dailyPenmanMonteith(in, loc.Latitude, loc.ElevationM, ts)
		if !ok {
			rec.Missing = true
			nMissing++
		} else {
			rec.EToMm = value
		}

		if refCol != nil && !math.IsNaN(refCol[i]) {
			ref := refCol[i]
			rec.RefEToMm = &ref
		}

		records = append(records, rec)
	}

	if nMissing > 0 {
		warnings = append(warnings, fmt.Sprintf("eto: %d of %d days undefined (non-positive denominator)", nMissing, s.Len()))
	}

	return records, warnings, nil
}

// dailyPenmanMonteith evaluates a single day. The boolean is false when the
// combination-equation denominator is not positive, which leaves ETo
// undefined for that day.
func dailyPenmanMonteith(in Inputs, latDeg, elevationM float64, date time.Time) (float64, bool) {
	p := AtmosphericPressure(elevationM)
	gamma := PsychrometricConstant(p)

	es := 0.5 * (SaturationVaporPressure(in.TMin) + SaturationVaporPressure(in.TMax))
	ea := es * in.RH / 100
	delta := VaporPressureSlope(in.TMean)

	ra := RaDaily(latDeg, date)
	rso := ClearSkyRadiation(ra, elevationM)

	rns := (1 - albedo) * in.RadiationMJ

	rsRatio := 0.0
	if rso > 0 {
		rsRatio = in.RadiationMJ / rso
		if rsRatio > 1 {
			rsRatio = 1
		}
	}
	rnl := stefanBoltzmannDaily *
		(math.Pow(in.TMax+273.16, 4)+math.Pow(in.TMin+273.16, 4)) / 2 *
		(0.34 - 0.14*math.Sqrt(ea)) *
		(1.35*rsRatio - 0.35)

	rn := rns - rnl

	den := delta + gamma*(1+0.34*in.Wind2m)
	if den <= 0 {
		return 0, false
	}

	num := 0.408*delta*rn + gamma*(900/(in.TMean+273))*in.Wind2m*(es-ea)
	value := num / den
	if value < 0 {
		value = 0
	}
	return value, true
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
