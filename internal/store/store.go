// Package store persists one audit record per batch run, independent of
// cache expiry, for historical auditing and recovery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agroclim/matopiba-eto/internal/validation"
)

// ErrNotFound is returned when no matching run audit exists.
var ErrNotFound = errors.New("no run audit found")

// RunAudit is the durable summary of one batch run.
type RunAudit struct {
	RunLabel       string              `bson:"run_label" json:"run_label"`
	Status         string              `bson:"status" json:"status"`
	StartedAt      time.Time           `bson:"started_at" json:"started_at"`
	FinishedAt     time.Time           `bson:"finished_at" json:"finished_at"`
	LocationsTotal int                 `bson:"locations_total" json:"locations_total"`
	LocationsOK    int                 `bson:"locations_ok" json:"locations_ok"`
	SuccessRate    float64             `bson:"success_rate" json:"success_rate"`
	Metrics        *validation.Metrics `bson:"metrics,omitempty" json:"metrics,omitempty"`
	WarningCount   int                 `bson:"warning_count" json:"warning_count"`
}

// AuditStore is the contract the orchestrator persists run audits through.
type AuditStore interface {
	RecordRun(ctx context.Context, audit RunAudit) error
	LastSuccessful(ctx context.Context) (RunAudit, error)
}
