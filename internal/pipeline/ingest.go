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

// SyncRequest selects the messages a sync looks at.
type SyncRequest struct {
	// Days is the backfill window; zero means DefaultSyncDays.
	Days int `json:"days"`
	// Query replaces the default subject filters when set.
	Query string `json:"q"`
}

// ItemError records a message that could not be ingested.
type ItemError struct {
	ExternalID string `json:"id"`
	Reason     string `json:"reason"`
}

// SyncResult summarizes one sync.
type SyncResult struct {
	RunID        string      `json:"run_id,omitempty"`
	Query        string      `json:"query"`
	PagesScanned int         `json:"pages_scanned"`
	Inserted     int         `json:"inserted"`
	InsertedIDs  []string    `json:"inserted_ids"`
	Skipped      int         `json:"skipped"`
	Errors       []ItemError `json:"errors"`
}

// Ingestor pulls new notification emails into the fact store.
type Ingestor struct {
	Source    MailSource
	Store     store.FactStore
	Extractor *extract.Extractor

	// Optional collaborators.
	Runs       store.RunRecorder
	Archive    RawArchive
	Classifier Classifier
	Metrics    *metrics.Metrics

	MaxPages    int
	DefaultDays int
	// DefaultQuery replaces the subject filters for requests without one.
	DefaultQuery string
	Now          func() time.Time
}

func (ing *Ingestor) now() time.Time {
	if ing.Now != nil {
		return ing.Now()
	}
	return time.Now()
}

// Sync lists matching messages page by page, skips the ones already stored,
// and runs every new message through the ingestion pipeline. Failures on a
// single message are collected in the result. Listing and dedupe failures
// abort the sync and mark the ingestion run failed.
func (ing *Ingestor) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	days := req.Days
	if days == 0 && ing.DefaultDays > 0 {
		days = ing.DefaultDays
	}
	days = ClampDays(days)

	maxPages := ing.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	override := req.Query
	if override == "" {
		override = ing.DefaultQuery
	}
	query := BuildQuery(override, ing.now().Add(-time.Duration(days)*24*time.Hour))
	res := &SyncResult{Query: query, InsertedIDs: []string{}, Errors: []ItemError{}}

	log := logger.FromContext(ctx).With().Str("query", query).Logger()
	ctx = logger.WithContext(ctx, log)

	if ing.Runs != nil {
		runID, err := ing.Runs.StartIngestionRun(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("Sync: start ingestion run: %w", err)
		}
		res.RunID = runID
	}

	if err := ing.scan(ctx, query, maxPages, res); err != nil {
		if ing.Runs != nil {
			ing.Runs.MarkIngestionRunFailed(ctx, res.RunID, err)
		}
		return res, err
	}

	if ing.Runs != nil {
		stats := store.RunStats{
			Inserted:     res.Inserted,
			Skipped:      res.Skipped,
			Failed:       len(res.Errors),
			PagesScanned: res.PagesScanned,
		}
		if err := ing.Runs.MarkIngestionRunSucceeded(ctx, res.RunID, stats); err != nil {
			log.Error().Err(err).Str("run_id", res.RunID).Msg("failed to mark ingestion run succeeded")
		}
	}

	log.Info().
		Int("pages", res.PagesScanned).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Errors)).
		Msg("mailbox sync finished")
	return res, nil
}

func (ing *Ingestor) scan(ctx context.Context, query string, maxPages int, res *SyncResult) error {
	p := ing.NewMessageIngestionPipeline()
	log := logger.FromContext(ctx)

	var pageToken string
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stubs, next, err := ing.Source.ListPage(ctx, query, pageToken)
		if err != nil {
			ing.Metrics.IngestError(metrics.StageList)
			return fmt.Errorf("Sync: list page %d: %w", page+1, err)
		}
		res.PagesScanned++

		if len(stubs) > 0 {
			existing, err := ing.Store.ExistingExternalIDs(ctx, externalIDs(stubs))
			if err != nil {
				ing.Metrics.IngestError(metrics.StageDedupe)
				return fmt.Errorf("Sync: check existing ids: %w", err)
			}
			fresh := FilterNew(stubs, existing)
			res.Skipped += len(stubs) - len(fresh)
			ing.Metrics.MessagesSkipped(len(stubs) - len(fresh))

			for _, stub := range fresh {
				state := &PipelineState{ExternalID: stub.ExternalID}
				if err := p.Execute(ctx, state); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					ing.Metrics.IngestError(stageOf(err))
					log.Warn().Err(err).Str("external_id", stub.ExternalID).Msg("message ingestion failed")
					res.Errors = append(res.Errors, ItemError{ExternalID: stub.ExternalID, Reason: err.Error()})
					continue
				}
				switch {
				case state.Inserted:
					res.Inserted++
					res.InsertedIDs = append(res.InsertedIDs, stub.ExternalID)
					ing.Metrics.FactIngested(state.Fact.Kind)
				case state.Skipped:
					res.Skipped++
					ing.Metrics.MessagesSkipped(1)
				}
			}
		}

		if next == "" {
			break
		}
		pageToken = next
	}
	return nil
}
