package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/google/uuid"
)

// StartIngestionRunWithClient inserts a RUNNING run and returns its ID.
func StartIngestionRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, query string) (string, error) {
	runID := uuid.NewString()

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			run_id,
			query,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@query,
			@started_ts,
			@status
		)
	`, ds.Table(ingestionRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "query", Value: query},
		{Name: "started_ts", Value: time.Now().UTC()},
		{Name: "status", Value: string(store.RunRunning)},
	}

	if _, err := runDML(ctx, q); err != nil {
		return "", fmt.Errorf("StartIngestionRun: %w", err)
	}
	return runID, nil
}

// MarkIngestionRunSucceededWithClient records SUCCESS with the run's counters.
func MarkIngestionRunSucceededWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, stats store.RunStats) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    inserted = @inserted,
		    skipped = @skipped,
		    failed = @failed,
		    pages_scanned = @pages_scanned
		WHERE run_id = @run_id
	`, ds.Table(ingestionRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(store.RunSucceeded)},
		{Name: "finished_ts", Value: time.Now().UTC()},
		{Name: "inserted", Value: int64(stats.Inserted)},
		{Name: "skipped", Value: int64(stats.Skipped)},
		{Name: "failed", Value: int64(stats.Failed)},
		{Name: "pages_scanned", Value: int64(stats.PagesScanned)},
		{Name: "run_id", Value: runID},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("MarkIngestionRunSucceeded: %w", err)
	}
	return nil
}

// MarkIngestionRunFailedWithClient records FAILED and the truncated error.
// Failures are logged, not returned.
func MarkIngestionRunFailedWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, runErr error) {
	log := logger.FromContext(ctx)

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, ds.Table(ingestionRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(store.RunFailed)},
		{Name: "finished_ts", Value: time.Now().UTC()},
		{Name: "error_message", Value: store.TruncateError(runErr)},
		{Name: "run_id", Value: runID},
	}

	if _, err := runDML(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkIngestionRunFailed: update failed")
	}
}
