package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/extract"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/metrics"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/google/uuid"
)

// PipelineStep represents a single step in the message ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across the steps for one message.
type PipelineState struct {
	ExternalID string
	Message    domain.RawMessage
	ArchiveURI string
	Draft      domain.Draft
	Fact       *domain.PaymentFact

	// Inserted is set when the fact was stored; Skipped when another writer
	// stored it first.
	Inserted bool
	Skipped  bool
}

// stageError tags a step failure with the metrics stage it belongs to.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// stageOf returns the stage recorded on err.
func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "other"
}

// FetchMessageStep loads the full message for state.ExternalID.
type FetchMessageStep struct {
	Source MailSource
}

func (s *FetchMessageStep) Execute(ctx context.Context, state *PipelineState) error {
	msg, err := s.Source.Fetch(ctx, state.ExternalID)
	if err != nil {
		return &stageError{stage: metrics.StageFetch, err: fmt.Errorf("FetchMessageStep: fetch %s: %w", state.ExternalID, err)}
	}
	if msg.ExternalID == "" {
		msg.ExternalID = state.ExternalID
	}
	state.Message = msg
	return nil
}

// ArchiveRawStep copies the fetched message to the raw archive. Archive
// failures are logged and do not stop ingestion.
type ArchiveRawStep struct {
	Archive RawArchive
	Metrics *metrics.Metrics
}

func (s *ArchiveRawStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Archive == nil {
		return nil
	}
	uri, err := s.Archive.ArchiveRawMessage(ctx, state.Message)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("external_id", state.ExternalID).Msg("raw archive failed")
		s.Metrics.IngestError(metrics.StageArchive)
		return nil
	}
	state.ArchiveURI = uri
	return nil
}

// ExtractFactStep runs the pattern extractor over the message.
type ExtractFactStep struct {
	Extractor *extract.Extractor
}

func (s *ExtractFactStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Draft = s.Extractor.Extract(state.Message.Subject, state.Message.BodyText)
	return nil
}

// FallbackClassifyStep asks the classifier about messages the extractor left
// unknown. Its output passes through the same normalization as extracted
// drafts. A classifier failure keeps the unknown draft.
type FallbackClassifyStep struct {
	Classifier Classifier
	Extractor  *extract.Extractor
}

func (s *FallbackClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Classifier == nil || state.Draft.Kind != domain.KindUnknown {
		return nil
	}
	d, err := s.Classifier.Classify(ctx, state.Message.Subject, state.Message.BodyText)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("external_id", state.ExternalID).Msg("fallback classification failed")
		return nil
	}
	state.Draft = s.Extractor.Normalize(d)
	return nil
}

// InsertFactStep stores the fact. A conflict means another writer got there
// first and is reported through state.Skipped.
type InsertFactStep struct {
	Store store.FactStore
	Now   func() time.Time
}

func (s *InsertFactStep) Execute(ctx context.Context, state *PipelineState) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	fact := domain.NewPaymentFact(uuid.NewString(), state.Message, state.Draft, now().UTC())
	if err := s.Store.InsertFact(ctx, &fact); err != nil {
		if errors.Is(err, store.ErrConflict) {
			state.Skipped = true
			return nil
		}
		return &stageError{stage: metrics.StageInsert, err: fmt.Errorf("InsertFactStep: insert %s: %w", state.ExternalID, err)}
	}
	state.Fact = &fact
	state.Inserted = true
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewMessageIngestionPipeline creates the standard per-message pipeline:
// fetch, archive, extract, fallback classification, insert.
func (ing *Ingestor) NewMessageIngestionPipeline() *Pipeline {
	return NewPipeline(
		&FetchMessageStep{Source: ing.Source},
		&ArchiveRawStep{Archive: ing.Archive, Metrics: ing.Metrics},
		&ExtractFactStep{Extractor: ing.Extractor},
		&FallbackClassifyStep{Classifier: ing.Classifier, Extractor: ing.Extractor},
		&InsertFactStep{Store: ing.Store, Now: ing.Now},
	)
}
