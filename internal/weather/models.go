package weather

import (
	"fmt"
	"time"
)

// Variable identifies a canonical climate variable shared by every data source
// after normalization.
type Variable string

const (
	VarTMax      Variable = "tmax"          // daily maximum temperature, °C
	VarTMin      Variable = "tmin"          // daily minimum temperature, °C
	VarTMean     Variable = "tmean"         // mean temperature, °C
	VarRH        Variable = "rh"            // relative humidity, %
	VarWind2m    Variable = "wind2m"        // wind speed at 2 m, m/s
	VarRadiation Variable = "radiation"     // shortwave radiation, MJ/m² per period
	VarPrecip    Variable = "precipitation" // precipitation, mm per period
	VarDewPoint  Variable = "dewpoint"      // dew point temperature, °C (hourly sources)
	VarRefETo    Variable = "eto_ref"       // provider-supplied reference ETo, mm
)

// CoreVariables is the set required by the daily Penman-Monteith computation.
var CoreVariables = []Variable{VarTMax, VarTMin, VarTMean, VarRH, VarWind2m, VarRadiation, VarPrecip}

// Resolution is the temporal resolution of a series.
type Resolution string

const (
	ResolutionDaily  Resolution = "daily"
	ResolutionHourly Resolution = "hourly"
)

// Location represents a point for which ETo is estimated. Reference data,
// loaded once per process and immutable afterwards.
type Location struct {
	ID         string  `json:"id"`
	Name       string  `json:"name" validate:"required"`
	State      string  `json:"state"`
	Latitude   float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64 `json:"longitude" validate:"gte=-180,lte=180"`
	ElevationM float64 `json:"elevation_m"`
}

// Key returns a canonical string key for indexing this location.
func (l Location) Key() string {
	return fmt.Sprintf("%s:%s", l.Name, l.State)
}

// DateRange is an inclusive UTC date interval.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange builds a range from two instants, truncated to UTC days.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s := start.UTC().Truncate(24 * time.Hour)
	e := end.UTC().Truncate(24 * time.Hour)
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("invalid date range: end %s before start %s", e.Format("2006-01-02"), s.Format("2006-01-02"))
	}
	return DateRange{Start: s, End: e}, nil
}

// Days returns the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Covers reports whether r fully contains other.
func (r DateRange) Covers(other DateRange) bool {
	return !r.Start.After(other.Start) && !r.End.Before(other.End)
}
