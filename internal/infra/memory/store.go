// Package memory is an in-process FactStore and RunRecorder used by tests
// and local runs without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/google/uuid"
)

// Store keeps facts and runs in maps guarded by a mutex.
type Store struct {
	mu         sync.RWMutex
	facts      map[string]*domain.PaymentFact // by ID
	byExternal map[string]string              // external ID -> ID
	runs       map[string]*store.IngestionRun
	now        func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		facts:      make(map[string]*domain.PaymentFact),
		byExternal: make(map[string]string),
		runs:       make(map[string]*store.IngestionRun),
		now:        time.Now,
	}
}

var (
	_ store.FactStore   = (*Store)(nil)
	_ store.RunRecorder = (*Store)(nil)
)

func (s *Store) InsertFact(ctx context.Context, f *domain.PaymentFact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.ExternalID == "" {
		return fmt.Errorf("InsertFact: external id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byExternal[f.ExternalID]; exists {
		return store.ErrConflict
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	cp := *f
	s.facts[cp.ID] = &cp
	s.byExternal[cp.ExternalID] = cp.ID
	return nil
}

func (s *Store) QueryFacts(ctx context.Context, start, end time.Time) ([]domain.PaymentFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.PaymentFact, 0, len(s.facts))
	for _, f := range s.facts {
		if !start.IsZero() && f.ReceivedAt.Before(start) {
			continue
		}
		if !end.IsZero() && !f.ReceivedAt.Before(end) {
			continue
		}
		out = append(out, *f)
	}
	s.mu.RUnlock()

	sortFacts(out)
	return out, nil
}

func (s *Store) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.byExternal[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (s *Store) UpdateFact(ctx context.Context, id string, patch domain.FactPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return fmt.Errorf("UpdateFact %s: %w", id, store.ErrNotFound)
	}
	patch.Apply(f)
	f.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListIncompleteFacts(ctx context.Context, limit int) ([]domain.PaymentFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []domain.PaymentFact
	for _, f := range s.facts {
		if f.Incomplete() {
			out = append(out, *f)
		}
	}
	s.mu.RUnlock()

	sortForReparse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkReparsed(ctx context.Context, ids []string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if f, ok := s.facts[id]; ok {
			t := at
			f.ReparsedAt = &t
		}
	}
	return nil
}

func (s *Store) StartIngestionRun(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.runs[id] = &store.IngestionRun{
		ID:        id,
		Query:     query,
		Status:    store.RunRunning,
		StartedAt: s.now(),
	}
	return id, nil
}

func (s *Store) MarkIngestionRunSucceeded(ctx context.Context, runID string, stats store.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("MarkIngestionRunSucceeded: run %s not found", runID)
	}
	now := s.now()
	run.Status = store.RunSucceeded
	run.FinishedAt = &now
	run.Stats = stats
	run.Error = ""
	return nil
}

func (s *Store) MarkIngestionRunFailed(ctx context.Context, runID string, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		now := s.now()
		run.Status = store.RunFailed
		run.FinishedAt = &now
		run.Error = store.TruncateError(runErr)
	}
}

// Run returns a copy of the recorded run.
func (s *Store) Run(runID string) (store.IngestionRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.IngestionRun{}, false
	}
	return *run, true
}

func (s *Store) Close() error { return nil }

func sortFacts(facts []domain.PaymentFact) {
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].ReceivedAt.Equal(facts[j].ReceivedAt) {
			return facts[i].ExternalID < facts[j].ExternalID
		}
		return facts[i].ReceivedAt.Before(facts[j].ReceivedAt)
	})
}

func sortForReparse(facts []domain.PaymentFact) {
	sortFacts(facts)
	sort.SliceStable(facts, func(i, j int) bool {
		a, b := facts[i].ReparsedAt, facts[j].ReparsedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
}
