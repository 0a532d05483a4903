// Package bigquery stores payment facts and ingestion runs in BigQuery.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/store"
)

// FactRepository implements store.FactStore and store.RunRecorder on
// BigQuery. It holds one client shared by all operations.
type FactRepository struct {
	client *bigquery.Client
	ds     Dataset
}

var (
	_ store.FactStore   = (*FactRepository)(nil)
	_ store.RunRecorder = (*FactRepository)(nil)
)

// NewFactRepository creates a client for projectID and targets datasetID.
func NewFactRepository(ctx context.Context, projectID, datasetID string) (*FactRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewFactRepository: creating client: %w", err)
	}
	return NewFactRepositoryWithClient(client, Dataset{ProjectID: projectID, DatasetID: datasetID}), nil
}

// NewFactRepositoryWithClient wraps an existing client.
func NewFactRepositoryWithClient(client *bigquery.Client, ds Dataset) *FactRepository {
	return &FactRepository{client: client, ds: ds}
}

// Close closes the BigQuery client connection.
func (r *FactRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *FactRepository) InsertFact(ctx context.Context, f *domain.PaymentFact) error {
	return InsertFactWithClient(ctx, r.client, r.ds, NewFactRow(*f))
}

func (r *FactRepository) QueryFacts(ctx context.Context, start, end time.Time) ([]domain.PaymentFact, error) {
	return QueryFactsWithClient(ctx, r.client, r.ds, start, end)
}

func (r *FactRepository) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return ExistingExternalIDsWithClient(ctx, r.client, r.ds, ids)
}

func (r *FactRepository) UpdateFact(ctx context.Context, id string, patch domain.FactPatch) error {
	return UpdateFactWithClient(ctx, r.client, r.ds, id, patch)
}

func (r *FactRepository) ListIncompleteFacts(ctx context.Context, limit int) ([]domain.PaymentFact, error) {
	return ListIncompleteFactsWithClient(ctx, r.client, r.ds, limit)
}

func (r *FactRepository) MarkReparsed(ctx context.Context, ids []string, at time.Time) error {
	return MarkReparsedWithClient(ctx, r.client, r.ds, ids, at)
}

func (r *FactRepository) StartIngestionRun(ctx context.Context, query string) (string, error) {
	return StartIngestionRunWithClient(ctx, r.client, r.ds, query)
}

func (r *FactRepository) MarkIngestionRunSucceeded(ctx context.Context, runID string, stats store.RunStats) error {
	return MarkIngestionRunSucceededWithClient(ctx, r.client, r.ds, runID, stats)
}

func (r *FactRepository) MarkIngestionRunFailed(ctx context.Context, runID string, runErr error) {
	MarkIngestionRunFailedWithClient(ctx, r.client, r.ds, runID, runErr)
}
