// Package sqlite is a FactStore backed by a local SQLite database through
// gorm. It serves single-machine deployments and integration tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type factRecord struct {
	ID              string    `gorm:"primaryKey"`
	ExternalID      string    `gorm:"uniqueIndex;not null"`
	ReceivedAt      time.Time `gorm:"index;not null"`
	Kind            string    `gorm:"not null"`
	VirtualAmount   *string
	BankCredit      *string
	IndifiDeduction *string
	TransactionRef  *string
	VirtualCode     *string
	BankAccount     *string
	RawSubject      string
	RawBody         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ReparsedAt      *time.Time `gorm:"index"`
}

func (factRecord) TableName() string { return "payment_facts" }

type runRecord struct {
	ID           string `gorm:"primaryKey"`
	Query        string
	Status       string `gorm:"not null"`
	StartedAt    time.Time
	FinishedAt   *time.Time
	Inserted     int
	Skipped      int
	Failed       int
	PagesScanned int
	ErrorMessage string
}

func (runRecord) TableName() string { return "ingestion_runs" }

// Store implements store.FactStore and store.RunRecorder.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ store.FactStore   = (*Store)(nil)
	_ store.RunRecorder = (*Store)(nil)
)

// Open connects to dsn and creates the tables if needed.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: underlying db: %w", err)
	}
	// SQLite has a single writer; one connection also keeps in-memory
	// databases alive for the life of the store.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&factRecord{}, &runRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite.Open: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InsertFact(ctx context.Context, f *domain.PaymentFact) error {
	if f.ExternalID == "" {
		return fmt.Errorf("InsertFact: external id is required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	rec := toRecord(*f)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("InsertFact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) QueryFacts(ctx context.Context, start, end time.Time) ([]domain.PaymentFact, error) {
	q := s.db.WithContext(ctx).Model(&factRecord{})
	if !start.IsZero() {
		q = q.Where("received_at >= ?", start.UTC())
	}
	if !end.IsZero() {
		q = q.Where("received_at < ?", end.UTC())
	}

	var recs []factRecord
	if err := q.Order("received_at ASC, external_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("QueryFacts: %w", err)
	}
	return toFacts(recs)
}

func (s *Store) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(ids) == 0 {
		return found, nil
	}

	var existing []string
	err := s.db.WithContext(ctx).
		Model(&factRecord{}).
		Where("external_id IN ?", ids).
		Pluck("external_id", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("ExistingExternalIDs: %w", err)
	}
	for _, id := range existing {
		found[id] = struct{}{}
	}
	return found, nil
}

func (s *Store) UpdateFact(ctx context.Context, id string, patch domain.FactPatch) error {
	if patch.Empty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec factRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("UpdateFact %s: %w", id, store.ErrNotFound)
			}
			return fmt.Errorf("UpdateFact %s: load: %w", id, err)
		}

		f, err := rec.toDomain()
		if err != nil {
			return fmt.Errorf("UpdateFact %s: %w", id, err)
		}
		patch.Apply(&f)
		f.UpdatedAt = s.now()

		updated := toRecord(f)
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("UpdateFact %s: save: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListIncompleteFacts(ctx context.Context, limit int) ([]domain.PaymentFact, error) {
	q := s.db.WithContext(ctx).
		Model(&factRecord{}).
		Where(`kind = ? OR transaction_ref IS NULL
			OR (kind = ? AND virtual_amount IS NULL)
			OR (kind = ? AND bank_credit IS NULL)
			OR (kind = ? AND indifi_deduction IS NULL)`,
			domain.KindUnknown,
			domain.KindVirtualCredit,
			domain.KindReleaseToBank,
			domain.KindEMIDeduction,
		).
		Order("reparsed_at IS NOT NULL, reparsed_at ASC, received_at ASC, external_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []factRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("ListIncompleteFacts: %w", err)
	}
	return toFacts(recs)
}

func (s *Store) MarkReparsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&factRecord{}).
		Where("id IN ?", ids).
		UpdateColumn("reparsed_at", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("MarkReparsed: %w", err)
	}
	return nil
}

func (s *Store) StartIngestionRun(ctx context.Context, query string) (string, error) {
	rec := runRecord{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    string(store.RunRunning),
		StartedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("StartIngestionRun: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) MarkIngestionRunSucceeded(ctx context.Context, runID string, stats store.RunStats) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).
		Model(&runRecord{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":        string(store.RunSucceeded),
			"finished_at":   now,
			"inserted":      stats.Inserted,
			"skipped":       stats.Skipped,
			"failed":        stats.Failed,
			"pages_scanned": stats.PagesScanned,
			"error_message": "",
		})
	if res.Error != nil {
		return fmt.Errorf("MarkIngestionRunSucceeded: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("MarkIngestionRunSucceeded: run %s not found", runID)
	}
	return nil
}

func (s *Store) MarkIngestionRunFailed(ctx context.Context, runID string, runErr error) {
	now := s.now().UTC()
	s.db.WithContext(ctx).
		Model(&runRecord{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":        string(store.RunFailed),
			"finished_at":   now,
			"error_message": store.TruncateError(runErr),
		})
}

// Run loads one ingestion run.
func (s *Store) Run(ctx context.Context, runID string) (store.IngestionRun, error) {
	var rec runRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", runID).Error; err != nil {
		return store.IngestionRun{}, fmt.Errorf("Run %s: %w", runID, err)
	}
	return store.IngestionRun{
		ID:         rec.ID,
		Query:      rec.Query,
		Status:     store.RunStatus(rec.Status),
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Stats: store.RunStats{
			Inserted:     rec.Inserted,
			Skipped:      rec.Skipped,
			Failed:       rec.Failed,
			PagesScanned: rec.PagesScanned,
		},
		Error: rec.ErrorMessage,
	}, nil
}

func toRecord(f domain.PaymentFact) factRecord {
	return factRecord{
		ID:              f.ID,
		ExternalID:      f.ExternalID,
		ReceivedAt:      f.ReceivedAt.UTC(),
		Kind:            string(f.Kind),
		VirtualAmount:   decimalText(f.VirtualAmount),
		BankCredit:      decimalText(f.BankCredit),
		IndifiDeduction: decimalText(f.IndifiDeduction),
		TransactionRef:  f.TransactionRef,
		VirtualCode:     f.VirtualCode,
		BankAccount:     f.BankAccount,
		RawSubject:      f.RawSubject,
		RawBody:         f.RawBody,
		CreatedAt:       f.CreatedAt.UTC(),
		UpdatedAt:       f.UpdatedAt.UTC(),
		ReparsedAt:      utcPtr(f.ReparsedAt),
	}
}

func (r factRecord) toDomain() (domain.PaymentFact, error) {
	f := domain.PaymentFact{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		ReceivedAt: r.ReceivedAt.UTC(),
		RawSubject: r.RawSubject,
		RawBody:    r.RawBody,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		ReparsedAt: r.ReparsedAt,
	}
	f.Kind = domain.FactKind(r.Kind)
	f.TransactionRef = r.TransactionRef
	f.VirtualCode = r.VirtualCode
	f.BankAccount = r.BankAccount

	var err error
	if f.VirtualAmount, err = parseDecimalText(r.VirtualAmount); err != nil {
		return f, fmt.Errorf("fact %s virtual_amount: %w", r.ID, err)
	}
	if f.BankCredit, err = parseDecimalText(r.BankCredit); err != nil {
		return f, fmt.Errorf("fact %s bank_credit: %w", r.ID, err)
	}
	if f.IndifiDeduction, err = parseDecimalText(r.IndifiDeduction); err != nil {
		return f, fmt.Errorf("fact %s indifi_deduction: %w", r.ID, err)
	}
	return f, nil
}

func toFacts(recs []factRecord) ([]domain.PaymentFact, error) {
	out := make([]domain.PaymentFact, 0, len(recs))
	for _, r := range recs {
		f, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func decimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseDecimalText(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
