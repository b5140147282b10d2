package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateRange_TruncatesToDays(t *testing.T) {
	rng, err := NewDateRange(
		time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 12, 1, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), rng.End)
	assert.Equal(t, 3, rng.Days())
}

func TestNewDateRange_EndBeforeStart(t *testing.T) {
	_, err := NewDateRange(
		time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	)
	assert.Error(t, err)
}

func TestDateRangeCovers(t *testing.T) {
	outer, err := NewDateRange(day(2026, 1, 1), day(2026, 1, 31))
	require.NoError(t, err)
	inner, err := NewDateRange(day(2026, 1, 10), day(2026, 1, 20))
	require.NoError(t, err)

	assert.True(t, outer.Covers(inner))
	assert.True(t, outer.Covers(outer))
	assert.False(t, inner.Covers(outer))
}

func TestLocationKey(t *testing.T) {
	loc := Location{Name: "Balsas", State: "MA"}
	assert.Equal(t, "Balsas:MA", loc.Key())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
