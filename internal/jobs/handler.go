package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/settlement-ledger/internal/extract"
	"github.com/dvloznov/settlement-ledger/internal/metrics"
	"github.com/dvloznov/settlement-ledger/internal/pipeline"
	"github.com/dvloznov/settlement-ledger/internal/store"
)

// Syncer runs one mailbox sync.
type Syncer interface {
	Sync(ctx context.Context, req pipeline.SyncRequest) (*pipeline.SyncResult, error)
}

// LedgerHandler dispatches ledger jobs to the ingestion pipeline.
type LedgerHandler struct {
	// Syncer is nil when no mailbox is configured.
	Syncer    Syncer
	Store     store.FactStore
	Extractor *extract.Extractor
	Metrics   *metrics.Metrics
}

// Handle implements JobHandler.
func (h *LedgerHandler) Handle(ctx context.Context, job *Job) error {
	var (
		result interface{}
		err    error
	)

	switch job.Type {
	case JobTypeSyncMailbox:
		if h.Syncer == nil {
			return fmt.Errorf("Handle: mailbox is not configured")
		}
		var p SyncParams
		if job.Sync != nil {
			p = *job.Sync
		}
		result, err = h.Syncer.Sync(ctx, pipeline.SyncRequest{Days: p.Days, Query: p.Query})
	case JobTypeReparseFacts:
		var p ReparseParams
		if job.Reparse != nil {
			p = *job.Reparse
		}
		result, err = pipeline.Reparse(ctx, h.Store, h.Extractor, h.Metrics, p.Limit)
	default:
		return fmt.Errorf("Handle: unknown job type %q", job.Type)
	}
	if err != nil {
		return fmt.Errorf("Handle: %s: %w", job.Type, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("Handle: marshal result: %w", err)
	}
	job.Result = raw
	return nil
}
