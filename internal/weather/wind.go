package weather

import "math"

// WindLogProfileTo2m adjusts a wind speed measured at height z metres down to
// the FAO-56 reference height of 2 m using the logarithmic wind profile
// (FAO-56 Eq. 47). Used for hourly observations. For z = 10 m the factor is
// about 0.748.
func WindLogProfileTo2m(speed, heightM float64) float64 {
	if heightM <= 2 {
		return speed
	}
	return speed * 4.87 / math.Log(67.8*heightM-5.42)
}

// WindPowerLawTo2m adjusts wind to 2 m with the empirical power-law profile
// (exponent 0.13), appropriate for daily aggregates over short grass. For
// z = 10 m the factor is about 0.81.
func WindPowerLawTo2m(speed, heightM float64) float64 {
	if heightM <= 2 {
		return speed
	}
	return speed * math.Pow(2/heightM, 0.13)
}

// WattsToMegajoulesHourly converts a mean hourly flux in W/m² to MJ/m²/hour.
func WattsToMegajoulesHourly(watts float64) float64 {
	return watts * 0.0036
}
