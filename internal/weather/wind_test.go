package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindLogProfileTo2m(t *testing.T) {
	// FAO-56 Eq. 47 at 10 m gives a factor of about 0.748.
	assert.InDelta(t, 0.748, WindLogProfileTo2m(1.0, 10), 0.001)
	assert.InDelta(t, 2*0.748, WindLogProfileTo2m(2.0, 10), 0.002)
}

func TestWindPowerLawTo2m(t *testing.T) {
	// Power-law profile with exponent 0.13: (2/10)^0.13 ≈ 0.81.
	assert.InDelta(t, 0.81, WindPowerLawTo2m(1.0, 10), 0.005)
}

func TestWindConversionAtOrBelow2m(t *testing.T) {
	assert.Equal(t, 3.5, WindLogProfileTo2m(3.5, 2))
	assert.Equal(t, 3.5, WindPowerLawTo2m(3.5, 2))
	assert.Equal(t, 1.2, WindLogProfileTo2m(1.2, 0))
}

func TestWattsToMegajoulesHourly(t *testing.T) {
	// 1000 W/m² sustained for an hour is 3.6 MJ/m².
	assert.InDelta(t, 3.6, WattsToMegajoulesHourly(1000), 1e-9)
}
