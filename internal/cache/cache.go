// Package cache provides the tiered key/value store used by every data
// client: a networked Redis primary with a transparent file-backed fallback.
// All backend failures degrade to a cache miss, never an error.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

// Cache is the contract shared by the Redis and file backends. A stored value
// is served only while unexpired and, when the entry carries date coverage,
// only if that coverage is a superset of the requested range.
type Cache interface {
	// Get returns the payload for key if present, unexpired, and covering
	// rng. A zero rng skips the coverage check.
	Get(ctx context.Context, key string, rng weather.DateRange) ([]byte, bool)

	// Put stores payload under key with the given coverage and TTL.
	// A zero cover marks the entry as coverage-free (aggregate payloads).
	Put(ctx context.Context, key string, payload []byte, cover weather.DateRange, ttl time.Duration)
}

// Key builds the canonical cache key for a single-location series:
// {source}:{resolution}:{start}:{end}:{lat}:{lon} with coordinates rounded
// to four decimals so nearby requests share entries deterministically.
func Key(source string, res weather.Resolution, rng weather.DateRange, lat, lon float64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%.4f:%.4f",
		source, res,
		rng.Start.Format("20060102"), rng.End.Format("20060102"),
		lat, lon)
}

// Aggregate keys for the latest batch run and its metadata-only companion.
const (
	KeyLatestBatch     = "batch:latest"
	KeyLatestBatchMeta = "batch:latest:meta"
)

// envelope wraps a payload with the bookkeeping needed for expiry and
// coverage checks, identically on both backends.
type envelope struct {
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
	CoverStart *time.Time      `json:"cover_start,omitempty"`
	CoverEnd   *time.Time      `json:"cover_end,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (e *envelope) usable(now time.Time, rng weather.DateRange) bool {
	if !now.Before(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)) {
		return false
	}
	if rng == (weather.DateRange{}) {
		return true
	}
	if e.CoverStart == nil || e.CoverEnd == nil {
		return false
	}
	cover := weather.DateRange{Start: *e.CoverStart, End: *e.CoverEnd}
	return cover.Covers(rng)
}

func newEnvelope(now time.Time, payload []byte, cover weather.DateRange, ttl time.Duration) envelope {
	e := envelope{
		CreatedAt:  now,
		TTLSeconds: int64(ttl.Seconds()),
		Payload:    payload,
	}
	if cover != (weather.DateRange{}) {
		s, en := cover.Start, cover.End
		e.CoverStart, e.CoverEnd = &s, &en
	}
	return e
}

// New constructs the cache handle for the process. It pings Redis with a
// short timeout and silently falls back to the file store rooted at dir when
// the primary is unreachable; callers cannot tell which backend serves them.
func New(redisAddr, dir string, maxBytes int64, fileExpiry time.Duration, clock clockwork.Clock) Cache {
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err == nil {
			return &redisCache{client: client, clock: clock}
		}
		log.Printf("cache: redis at %s unreachable, falling back to file store in %s", redisAddr, dir)
	}
	return newFileCache(dir, maxBytes, fileExpiry, clock)
}

// redisCache is the networked primary backend.
type redisCache struct {
	client *redis.Client
	clock  clockwork.Clock
}

func (c *redisCache) Get(ctx context.Context, key string, rng weather.DateRange) ([]byte, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if !e.usable(c.clock.Now().UTC(), rng) {
		return nil, false
	}
	return e.Payload, true
}

func (c *redisCache) Put(ctx context.Context, key string, payload []byte, cover weather.DateRange, ttl time.Duration) {
	raw, err := json.Marshal(newEnvelope(c.clock.Now().UTC(), payload, cover, ttl))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Printf("cache: redis set %s failed: %v", key, err)
	}
}
