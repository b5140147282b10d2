package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory audit store, used when no
// MongoDB URI is configured. Audits survive only for the process lifetime,
// which is enough for the status endpoint and for tests.
type MemoryStore struct {
	mu sync.RWMutex

	audits []RunAudit

	// retention configuration
	maxHistory int           // max number of audits kept (0 = unlimited)
	maxAge     time.Duration // max age of audits (0 = unlimited)
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// RecordRun appends an audit and enforces retention.
func (s *MemoryStore) RecordRun(_ context.Context, audit RunAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits = append(s.audits, audit)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.audits) > s.maxHistory {
		over := len(s.audits) - s.maxHistory
		s.audits = s.audits[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.audits); i++ {
			if !s.audits[i].FinishedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 && i < len(s.audits) {
			s.audits = s.audits[i:]
		}
	}

	return nil
}

// LastSuccessful returns the most recent audit with a DONE status.
func (s *MemoryStore) LastSuccessful(_ context.Context) (RunAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.audits) - 1; i >= 0; i-- {
		if s.audits[i].Status == "DONE" {
			return s.audits[i], nil
		}
	}
	return RunAudit{}, ErrNotFound
}

var _ AuditStore = (*MemoryStore)(nil)
