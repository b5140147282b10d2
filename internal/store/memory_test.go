package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLastSuccessful(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()

	_, err := s.LastSuccessful(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RecordRun(ctx, RunAudit{RunLabel: "a", Status: "DONE"}))
	require.NoError(t, s.RecordRun(ctx, RunAudit{RunLabel: "b", Status: "FAILURE"}))
	require.NoError(t, s.RecordRun(ctx, RunAudit{RunLabel: "c", Status: "DONE"}))
	require.NoError(t, s.RecordRun(ctx, RunAudit{RunLabel: "d", Status: "FAILURE"}))

	last, err := s.LastSuccessful(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", last.RunLabel, "failures after the last DONE run are skipped")
}

func TestMemoryStoreRetentionByCount(t *testing.T) {
	s := NewMemoryStore(3, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRun(ctx, RunAudit{RunLabel: fmt.Sprintf("run-%d", i), Status: "DONE"}))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.audits, 3)
	assert.Equal(t, "run-2", s.audits[0].RunLabel, "oldest audits are dropped first")
}

func TestMemoryStoreRetentionByAge(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	ctx := context.Background()

	old := RunAudit{RunLabel: "old", Status: "DONE", FinishedAt: time.Now().Add(-2 * time.Hour)}
	fresh := RunAudit{RunLabel: "fresh", Status: "DONE", FinishedAt: time.Now()}
	require.NoError(t, s.RecordRun(ctx, old))
	require.NoError(t, s.RecordRun(ctx, fresh))

	last, err := s.LastSuccessful(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", last.RunLabel)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.audits, 1, "audits older than maxAge are evicted on write")
}
