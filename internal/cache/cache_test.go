package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroclim/matopiba-eto/internal/weather"
)

func testRange(t *testing.T, startDay, endDay int) weather.DateRange {
	t.Helper()
	rng, err := weather.NewDateRange(
		time.Date(2026, 1, startDay, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, endDay, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return rng
}

func TestKeyFormat(t *testing.T) {
	rng := testRange(t, 1, 7)
	key := Key("archive", weather.ResolutionDaily, rng, -7.53251, -46.03559)
	assert.Equal(t, "archive:daily:20260101:20260107:-7.5325:-46.0356", key)
}

func TestFileCacheRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newFileCache(t.TempDir(), 0, time.Hour, clock)

	rng := testRange(t, 1, 7)
	payload := []byte(`{"hello":"world"}`)
	c.Put(context.Background(), "k1", payload, rng, 30*time.Minute)

	got, ok := c.Get(context.Background(), "k1", rng)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	_, ok = c.Get(context.Background(), "missing", rng)
	assert.False(t, ok)
}

func TestFileCacheCoverage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newFileCache(t.TempDir(), 0, time.Hour, clock)

	stored := testRange(t, 1, 7)
	c.Put(context.Background(), "k1", []byte(`"x"`), stored, time.Hour)

	// A sub-range of the stored coverage is a hit.
	_, ok := c.Get(context.Background(), "k1", testRange(t, 2, 5))
	assert.True(t, ok)

	// A wider range than stored is a miss.
	_, ok = c.Get(context.Background(), "k1", testRange(t, 1, 14))
	assert.False(t, ok)
}

func TestFileCacheTTLExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newFileCache(t.TempDir(), 0, 0, clock)

	rng := testRange(t, 1, 7)
	c.Put(context.Background(), "k1", []byte(`"x"`), rng, 10*time.Minute)

	_, ok := c.Get(context.Background(), "k1", rng)
	require.True(t, ok)

	clock.Advance(11 * time.Minute)
	_, ok = c.Get(context.Background(), "k1", rng)
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestFileCacheZeroRangeSkipsCoverage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newFileCache(t.TempDir(), 0, time.Hour, clock)

	c.Put(context.Background(), KeyLatestBatch, []byte(`"aggregate"`), weather.DateRange{}, time.Hour)

	got, ok := c.Get(context.Background(), KeyLatestBatch, weather.DateRange{})
	require.True(t, ok)
	assert.Equal(t, []byte(`"aggregate"`), got)

	// A coverage-free entry must not satisfy a ranged request.
	_, ok = c.Get(context.Background(), KeyLatestBatch, testRange(t, 1, 7))
	assert.False(t, ok)
}

func TestFileCacheSizeEviction(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	c := newFileCache(dir, 600, 0, clock)

	// Each envelope lands around 400 bytes, so one entry fits under the cap
	// and two do not.
	rng := testRange(t, 1, 7)
	payload := []byte(`"` + strings.Repeat("x", 250) + `"`)
	c.Put(context.Background(), "old", payload, rng, time.Hour)

	// Backdate the first entry so it sorts as oldest.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(c.path("old"), old, old))

	c.Put(context.Background(), "new", payload, rng, time.Hour)

	_, ok := c.Get(context.Background(), "old", rng)
	assert.False(t, ok, "oldest entry must be evicted once the cap is exceeded")
	_, ok = c.Get(context.Background(), "new", rng)
	assert.True(t, ok)
}

func TestFileCacheKeyCollisionSafety(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newFileCache(t.TempDir(), 0, time.Hour, clock)

	// Both keys sanitize to the same filename stem; the hash suffix keeps
	// them apart.
	rng := testRange(t, 1, 7)
	c.Put(context.Background(), "a:b", []byte(`"one"`), rng, time.Hour)
	c.Put(context.Background(), "a_b", []byte(`"two"`), rng, time.Hour)

	got, ok := c.Get(context.Background(), "a:b", rng)
	require.True(t, ok)
	assert.Equal(t, []byte(`"one"`), got)
}

func TestNewWithoutRedisFallsBackToFiles(t *testing.T) {
	c := New("", t.TempDir(), 0, time.Hour, clockwork.NewRealClock())
	_, isFile := c.(*fileCache)
	assert.True(t, isFile)
}
