package weather

import (
	"context"
)

// Provider abstracts a remote weather data source (long-history archive,
// short-range forecast, batch forecast). Implementations recover transport
// and payload failures internally: GetWeather returns an empty series plus
// warnings rather than an error for anything short of caller misuse.
type Provider interface {
	Name() string
	Resolution() Resolution

	// GetWeather returns the normalized series for one location over the
	// requested range, consulting the cache before fetching remotely.
	GetWeather(ctx context.Context, loc Location, rng DateRange) (*Series, []string, error)
}

// BatchProvider fetches many locations in a single upstream call.
type BatchProvider interface {
	Provider

	// GetWeatherBatch returns one series per location, aligned with the
	// input slice. Locations that could not be served map to empty series.
	GetWeatherBatch(ctx context.Context, locs []Location, rng DateRange) ([]*Series, []string, error)
}
