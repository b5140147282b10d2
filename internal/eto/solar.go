// Package eto implements the FAO-56 Penman-Monteith reference
// evapotranspiration equations in daily and hourly form, together with the
// solar-geometry terms they depend on.
package eto

import (
	"math"
	"time"
)

const (
	// solarConstant is Gsc in MJ m⁻² min⁻¹.
	solarConstant = 0.0820

	// stefanBoltzmannDaily is σ in MJ K⁻⁴ m⁻² day⁻¹.
	stefanBoltzmannDaily = 4.903e-9

	// stefanBoltzmannHourly is σ in MJ K⁻⁴ m⁻² hour⁻¹.
	stefanBoltzmannHourly = 2.043e-10

	// albedo of the reference grass crop.
	albedo = 0.23
)

// DaysInYear returns 365 or 366 accounting for leap years.
func DaysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}

// SolarDeclination returns δ in radians for the given day of year.
func SolarDeclination(doy, daysInYear int) float64 {
	return 0.409 * math.Sin(2*math.Pi*float64(doy)/float64(daysInYear)-1.39)
}

// InverseRelativeDistance returns dr, the inverse relative Earth-Sun distance.
func InverseRelativeDistance(doy, daysInYear int) float64 {
	return 1 + 0.033*math.Cos(2*math.Pi*float64(doy)/float64(daysInYear))
}

// SunsetHourAngle returns ωs in radians for latitude φ (radians) and
// declination δ (radians). The argument of acos is clamped for polar cases.
func SunsetHourAngle(latRad, decl float64) float64 {
	x := -math.Tan(latRad) * math.Tan(decl)
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return math.Acos(x)
}

// RaDaily returns the daily extraterrestrial radiation Ra in MJ/m²/day for a
// latitude in degrees and a calendar date (FAO-56 Eq. 21).
func RaDaily(latDeg float64, date time.Time) float64 {
	doy := date.YearDay()
	diy := DaysInYear(date.Year())

	lat := latDeg * math.Pi / 180
	decl := SolarDeclination(doy, diy)
	dr := InverseRelativeDistance(doy, diy)
	ws := SunsetHourAngle(lat, decl)

	return (24 * 60 / math.Pi) * solarConstant * dr *
		(ws*math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Sin(ws))
}

// RaHourly returns the extraterrestrial radiation over the hour starting at
// ts, in MJ/m²/hour (FAO-56 Eq. 28). Solar time is approximated from the
// longitude offset against UTC; ts is expected in UTC.
func RaHourly(latDeg, lonDeg float64, ts time.Time) float64 {
	doy := ts.YearDay()
	diy := DaysInYear(ts.Year())

	lat := latDeg * math.Pi / 180
	decl := SolarDeclination(doy, diy)
	dr := InverseRelativeDistance(doy, diy)
	ws := SunsetHourAngle(lat, decl)

	// Seasonal correction for solar time (FAO-56 Eq. 32-33).
	b := 2 * math.Pi * float64(doy-81) / 364
	sc := 0.1645*math.Sin(2*b) - 0.1255*math.Cos(b) - 0.025*math.Sin(b)

	// Local solar time at the midpoint of the hour.
	clock := float64(ts.Hour()) + 0.5 + lonDeg/15 + sc
	w := math.Pi / 12 * (clock - 12)

	w1 := w - math.Pi/24
	w2 := w + math.Pi/24

	// Clamp to the daylight window; the sun below the horizon contributes
	// nothing.
	if w1 < -ws {
		w1 = -ws
	}
	if w2 > ws {
		w2 = ws
	}
	if w1 >= w2 {
		return 0
	}

	return (12 * 60 / math.Pi) * solarConstant * dr *
		((w2-w1)*math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*(math.Sin(w2)-math.Sin(w1)))
}

// DaylightHours returns N, the maximum possible sunshine duration in hours.
func DaylightHours(latDeg float64, date time.Time) float64 {
	doy := date.YearDay()
	diy := DaysInYear(date.Year())
	lat := latDeg * math.Pi / 180
	return 24 / math.Pi * SunsetHourAngle(lat, SolarDeclination(doy, diy))
}

// ClearSkyRadiation returns Rso in the same units as ra, for station
// elevation z in metres.
func ClearSkyRadiation(ra, elevationM float64) float64 {
	return (0.75 + 2e-5*elevationM) * ra
}
