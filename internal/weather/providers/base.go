package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"

	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/observability"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

// clientBase carries what every data source client shares: identity, the
// injected cache handle, metrics, and the resilient HTTP plumbing.
type clientBase struct {
	name    string
	baseURL string
	res     weather.Resolution
	ttl     time.Duration
	cache   cache.Cache
	metrics *observability.Metrics
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func (b *clientBase) Name() string {
	return b.name
}

func (b *clientBase) Resolution() weather.Resolution {
	return b.res
}

// cached returns the series stored for (location, range) if the cache holds
// a fresh, fully covering entry.
func (b *clientBase) cached(ctx context.Context, loc weather.Location, rng weather.DateRange) (*weather.Series, bool) {
	if b.cache == nil {
		return nil, false
	}

	key := cache.Key(b.name, b.res, rng, loc.Latitude, loc.Longitude)
	raw, ok := b.cache.Get(ctx, key, rng)
	b.countCache(ok)
	if !ok {
		return nil, false
	}

	var s weather.Series
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// store writes a freshly normalized series back with the provider's TTL.
func (b *clientBase) store(ctx context.Context, loc weather.Location, rng weather.DateRange, s *weather.Series) {
	if b.cache == nil || s.Len() == 0 {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	cover, err := s.Range()
	if err != nil {
		return
	}
	key := cache.Key(b.name, b.res, rng, loc.Latitude, loc.Longitude)
	b.cache.Put(ctx, key, raw, cover, b.ttl)
}

func (b *clientBase) countFetch(outcome string) {
	if b.metrics != nil {
		b.metrics.ProviderFetches.WithLabelValues(b.name, outcome).Inc()
	}
}

func (b *clientBase) countCache(hit bool) {
	if b.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	b.metrics.CacheLookups.WithLabelValues(b.name, result).Inc()
}

// emptySeries is what clients return past the transport-error boundary.
func (b *clientBase) emptySeries() *weather.Series {
	s := weather.NewSeries(b.res, nil)
	s.Sources = []string{b.name}
	return s
}
