package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/extract"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/metrics"
	"github.com/dvloznov/settlement-ledger/internal/store"
)

// ReparseResult summarizes a maintenance pass.
type ReparseResult struct {
	Scanned int         `json:"scanned"`
	Updated int         `json:"updated"`
	Errors  []ItemError `json:"errors"`
}

// Reparse re-derives up to limit incomplete facts from their retained raw
// text and applies the resulting patches. Patches only fill gaps, so a pass
// can be repeated safely. Every scanned fact is marked as reparsed.
func Reparse(ctx context.Context, st store.FactStore, ex *extract.Extractor, m *metrics.Metrics, limit int) (*ReparseResult, error) {
	if limit <= 0 {
		limit = DefaultReparseLimit
	}

	facts, err := st.ListIncompleteFacts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("Reparse: list incomplete facts: %w", err)
	}

	log := logger.FromContext(ctx)
	res := &ReparseResult{Scanned: len(facts), Errors: []ItemError{}}
	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		ids = append(ids, f.ID)
		patch := ex.Rederive(f)
		if patch.Empty() {
			continue
		}
		if err := st.UpdateFact(ctx, f.ID, patch); err != nil {
			m.IngestError(metrics.StageReparse)
			log.Warn().Err(err).Str("fact_id", f.ID).Msg("fact update failed")
			res.Errors = append(res.Errors, ItemError{ExternalID: f.ExternalID, Reason: err.Error()})
			continue
		}
		res.Updated++
	}
	m.FactsUpdated(res.Updated)

	// Facts that stay incomplete sink behind untried ones on the next pass.
	if err := st.MarkReparsed(ctx, ids, time.Now()); err != nil {
		return res, fmt.Errorf("Reparse: mark reparsed: %w", err)
	}

	log.Info().Int("scanned", res.Scanned).Int("updated", res.Updated).Msg("reparse finished")
	return res, nil
}
