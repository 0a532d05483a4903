package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Amounts are written as decimal strings so no precision is lost.
type settlementParquetRow struct {
	WindowStart       string `parquet:"name=window_start, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowEnd         string `parquet:"name=window_end, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreditsCount      int32  `parquet:"name=credits_count, type=INT32"`
	TotalVirtual      string `parquet:"name=total_virtual, type=BYTE_ARRAY, convertedtype=UTF8"`
	BankCredit        string `parquet:"name=bank_credit, type=BYTE_ARRAY, convertedtype=UTF8"`
	Deduction         string `parquet:"name=deduction, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExplicitDeduction string `parquet:"name=explicit_deduction, type=BYTE_ARRAY, convertedtype=UTF8"`
	HasExplicit       bool   `parquet:"name=has_explicit, type=BOOLEAN"`
	InferredDeduction string `parquet:"name=inferred_deduction, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReleaseRef        string `parquet:"name=release_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReleaseAccount    string `parquet:"name=release_account, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReleaseFactID     string `parquet:"name=release_fact_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type factParquetRow struct {
	ID              string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExternalID      string `parquet:"name=external_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReceivedAt      string `parquet:"name=received_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind            string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	VirtualAmount   string `parquet:"name=virtual_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	BankCredit      string `parquet:"name=bank_credit, type=BYTE_ARRAY, convertedtype=UTF8"`
	IndifiDeduction string `parquet:"name=indifi_deduction, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransactionRef  string `parquet:"name=transaction_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	VirtualCode     string `parquet:"name=virtual_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	BankAccount     string `parquet:"name=bank_account, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteSettlementsParquet writes windows as a Snappy-compressed Parquet file.
func WriteSettlementsParquet(w io.Writer, windows []settlement.Window, loc *time.Location) error {
	rows := make([]interface{}, 0, len(windows))
	for _, win := range windows {
		rows = append(rows, &settlementParquetRow{
			WindowStart:       win.WindowStart.In(loc).Format(time.RFC3339),
			WindowEnd:         win.WindowEnd.In(loc).Format(time.RFC3339),
			CreditsCount:      int32(win.CreditsCount),
			TotalVirtual:      money(win.TotalVirtual),
			BankCredit:        money(win.BankCredit),
			Deduction:         money(win.Deduction()),
			ExplicitDeduction: nullMoney(win.ExplicitDeduction),
			HasExplicit:       win.ExplicitDeduction.Valid,
			InferredDeduction: money(win.InferredDeduction),
			ReleaseRef:        domain.StringValue(win.ReleaseRef),
			ReleaseAccount:    domain.StringValue(win.ReleaseAccount),
			ReleaseFactID:     win.ReleaseFactID,
		})
	}
	return writeParquet(w, new(settlementParquetRow), rows)
}

// WriteFactsParquet writes raw facts as a Snappy-compressed Parquet file.
func WriteFactsParquet(w io.Writer, facts []domain.PaymentFact, loc *time.Location) error {
	rows := make([]interface{}, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, &factParquetRow{
			ID:              f.ID,
			ExternalID:      f.ExternalID,
			ReceivedAt:      f.ReceivedAt.In(loc).Format(time.RFC3339),
			Kind:            string(f.Kind),
			VirtualAmount:   nullMoney(f.VirtualAmount),
			BankCredit:      nullMoney(f.BankCredit),
			IndifiDeduction: nullMoney(f.IndifiDeduction),
			TransactionRef:  domain.StringValue(f.TransactionRef),
			VirtualCode:     domain.StringValue(f.VirtualCode),
			BankAccount:     domain.StringValue(f.BankAccount),
		})
	}
	return writeParquet(w, new(factParquetRow), rows)
}

func writeParquet(w io.Writer, schema interface{}, rows []interface{}) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		return fmt.Errorf("writeParquet: schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("writeParquet: write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("writeParquet: finalize: %w", err)
	}
	return nil
}
