package bigquery

import (
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	factsTable         = "payment_facts"
	ingestionRunsTable = "ingestion_runs"
)

// Dataset locates the ledger tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the fully qualified, quoted name of table.
func (d Dataset) Table(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, table)
}

// FactRow mirrors ledger.payment_facts. NUMERIC columns travel as strings
// so amounts never pass through floating point.
type FactRow struct {
	FactID     string    `bigquery:"fact_id"`     // REQUIRED
	ExternalID string    `bigquery:"external_id"` // REQUIRED, unique
	ReceivedTS time.Time `bigquery:"received_ts"` // REQUIRED
	Kind       string    `bigquery:"kind"`        // REQUIRED

	VirtualAmount   bigquery.NullString `bigquery:"virtual_amount"`   // NULLABLE NUMERIC
	BankCredit      bigquery.NullString `bigquery:"bank_credit"`      // NULLABLE NUMERIC
	IndifiDeduction bigquery.NullString `bigquery:"indifi_deduction"` // NULLABLE NUMERIC

	TransactionRef bigquery.NullString `bigquery:"transaction_ref"` // NULLABLE
	VirtualCode    bigquery.NullString `bigquery:"virtual_code"`    // NULLABLE
	BankAccount    bigquery.NullString `bigquery:"bank_account"`    // NULLABLE

	RawSubject string `bigquery:"raw_subject"`
	RawBody    string `bigquery:"raw_body"`

	CreatedTS  time.Time              `bigquery:"created_ts"`
	UpdatedTS  time.Time              `bigquery:"updated_ts"`
	ReparsedTS bigquery.NullTimestamp `bigquery:"reparsed_ts"` // NULLABLE
}

// NewFactRow converts a domain fact into its table row.
func NewFactRow(f domain.PaymentFact) *FactRow {
	return &FactRow{
		FactID:          f.ID,
		ExternalID:      f.ExternalID,
		ReceivedTS:      f.ReceivedAt.UTC(),
		Kind:            string(f.Kind),
		VirtualAmount:   numeric(f.VirtualAmount),
		BankCredit:      numeric(f.BankCredit),
		IndifiDeduction: numeric(f.IndifiDeduction),
		TransactionRef:  nullString(f.TransactionRef),
		VirtualCode:     nullString(f.VirtualCode),
		BankAccount:     nullString(f.BankAccount),
		RawSubject:      f.RawSubject,
		RawBody:         f.RawBody,
		CreatedTS:       f.CreatedAt.UTC(),
		UpdatedTS:       f.UpdatedAt.UTC(),
		ReparsedTS:      nullTimestamp(f.ReparsedAt),
	}
}

// Fact converts the row back into a domain fact.
func (r *FactRow) Fact() (domain.PaymentFact, error) {
	f := domain.PaymentFact{
		ID:         r.FactID,
		ExternalID: r.ExternalID,
		ReceivedAt: r.ReceivedTS,
		RawSubject: r.RawSubject,
		RawBody:    r.RawBody,
		CreatedAt:  r.CreatedTS,
		UpdatedAt:  r.UpdatedTS,
	}
	if r.ReparsedTS.Valid {
		t := r.ReparsedTS.Timestamp
		f.ReparsedAt = &t
	}
	f.Kind = domain.FactKind(r.Kind)
	f.TransactionRef = stringPtr(r.TransactionRef)
	f.VirtualCode = stringPtr(r.VirtualCode)
	f.BankAccount = stringPtr(r.BankAccount)

	var err error
	if f.VirtualAmount, err = parseNumeric(r.VirtualAmount); err != nil {
		return f, fmt.Errorf("fact %s virtual_amount: %w", r.FactID, err)
	}
	if f.BankCredit, err = parseNumeric(r.BankCredit); err != nil {
		return f, fmt.Errorf("fact %s bank_credit: %w", r.FactID, err)
	}
	if f.IndifiDeduction, err = parseNumeric(r.IndifiDeduction); err != nil {
		return f, fmt.Errorf("fact %s indifi_deduction: %w", r.FactID, err)
	}
	return f, nil
}

func numeric(d decimal.NullDecimal) bigquery.NullString {
	if !d.Valid {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: d.Decimal.String(), Valid: true}
}

func parseNumeric(s bigquery.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.StringVal)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullString(p *string) bigquery.NullString {
	if p == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *p, Valid: true}
}

func stringPtr(s bigquery.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.StringVal
	return &v
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: t.UTC(), Valid: true}
}
