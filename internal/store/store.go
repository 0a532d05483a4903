// Package store defines the persistence contracts shared by the storage
// backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
)

var (
	// ErrConflict is returned by InsertFact when a fact with the same
	// external ID already exists.
	ErrConflict = errors.New("fact already exists")
	// ErrNotFound is returned when an update targets a missing fact.
	ErrNotFound = errors.New("fact not found")
)

// FactStore persists payment facts. Implementations must be safe for
// concurrent use.
type FactStore interface {
	// InsertFact stores f if no fact with the same ExternalID exists.
	InsertFact(ctx context.Context, f *domain.PaymentFact) error
	// QueryFacts returns facts with start <= ReceivedAt < end, ascending.
	// A zero start or end leaves that side unbounded.
	QueryFacts(ctx context.Context, start, end time.Time) ([]domain.PaymentFact, error)
	// ExistingExternalIDs returns the subset of ids already stored.
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	// UpdateFact applies a non-empty patch to the fact with the given ID.
	UpdateFact(ctx context.Context, id string, patch domain.FactPatch) error
	// ListIncompleteFacts returns up to limit facts that are unknown or
	// missing the amount or reference their kind should carry. Facts never
	// reparsed come first, oldest first, followed by the least recently
	// reparsed.
	ListIncompleteFacts(ctx context.Context, limit int) ([]domain.PaymentFact, error)
	// MarkReparsed stamps ReparsedAt on the given facts. Unknown IDs are
	// ignored.
	MarkReparsed(ctx context.Context, ids []string, at time.Time) error
	Close() error
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCESS"
	RunFailed    RunStatus = "FAILED"
)

// RunStats summarizes a finished ingestion run.
type RunStats struct {
	Inserted     int `json:"inserted"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	PagesScanned int `json:"pages_scanned"`
}

// IngestionRun is the audit record of one mailbox sync.
type IngestionRun struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      RunStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
}

// RunRecorder keeps the audit trail of ingestion runs.
type RunRecorder interface {
	StartIngestionRun(ctx context.Context, query string) (string, error)
	MarkIngestionRunSucceeded(ctx context.Context, runID string, stats RunStats) error
	// MarkIngestionRunFailed is best effort and only logs its own failures.
	MarkIngestionRunFailed(ctx context.Context, runID string, runErr error)
}

// MaxRunErrorLen caps stored run error messages.
const MaxRunErrorLen = 2000

// TruncateError returns err's message capped at MaxRunErrorLen bytes.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > MaxRunErrorLen {
		msg = msg[:MaxRunErrorLen]
	}
	return msg
}
