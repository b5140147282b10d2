package eto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysInYear(t *testing.T) {
	assert.Equal(t, 366, DaysInYear(2024))
	assert.Equal(t, 365, DaysInYear(2026))
	assert.Equal(t, 365, DaysInYear(1900))
	assert.Equal(t, 366, DaysInYear(2000))
}

// FAO-56 Example 8: 20°S on 3 September gives Ra ≈ 32.2 MJ/m²/day.
func TestRaDailyAgainstReferenceTable(t *testing.T) {
	ra := RaDaily(-20, time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, 32.2, ra, 0.2)
}

// FAO-56 Example 9: same site and date, N ≈ 11.7 h.
func TestDaylightHours(t *testing.T) {
	n := DaylightHours(-20, time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, 11.7, n, 0.1)
}

func TestRaDailyZeroInPolarWinter(t *testing.T) {
	ra := RaDaily(-80, time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, 0, ra, 0.5)
}

func TestRaHourlyDayNightCycle(t *testing.T) {
	// Balsas, MA: local solar noon near 15:00 UTC.
	lat, lon := -7.5325, -46.0356
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	noon := RaHourly(lat, lon, date.Add(15*time.Hour))
	midnight := RaHourly(lat, lon, date.Add(3*time.Hour))

	assert.Greater(t, noon, 3.0, "tropical midday Ra should exceed 3 MJ/m²/h")
	assert.InDelta(t, 0, midnight, 1e-9, "Ra must be zero when the sun is down")

	// The 24 hourly values must sum close to the daily integral.
	var sum float64
	for h := 0; h < 24; h++ {
		sum += RaHourly(lat, lon, date.Add(time.Duration(h)*time.Hour))
	}
	assert.InDelta(t, RaDaily(lat, date), sum, 0.5)
}

func TestClearSkyRadiation(t *testing.T) {
	assert.InDelta(t, 0.75*30, ClearSkyRadiation(30, 0), 1e-9)
	assert.Greater(t, ClearSkyRadiation(30, 1000), ClearSkyRadiation(30, 0), "Rso grows with elevation")
}
