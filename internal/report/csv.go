package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/shopspring/decimal"
)

var settlementHeader = []string{
	"Window Start", "Window End", "Credits Count", "Total Virtual (INR)",
	"Released to Bank (INR)", "Deduction (INR)", "Explicit Deduction (INR)",
	"Inferred Deduction (INR)", "Release Ref", "Release Account",
}

var factHeader = []string{
	"id", "external_id", "received_at", "kind", "virtual_amount", "bank_credit",
	"indifi_deduction", "transaction_ref", "virtual_code", "bank_account", "subject",
}

var dailyHeader = []string{
	"date", "total_virtual", "total_bank", "released_to_own_account", "released_to_lender",
	"total_explicit_deduction", "deduction",
	"gap", "virtual_count", "release_count", "deduction_count",
}

var totalsHeader = []string{
	"From", "To", "Total Virtual (INR)", "Total Released (INR)",
	"Released to Own Account (INR)", "Released to Lender (INR)",
	"Explicit Deduction (INR)", "Deduction (INR)", "Virtual Count", "Release Count",
}

// WriteSettlementsCSV writes one row per window, timestamps in loc.
func WriteSettlementsCSV(w io.Writer, windows []settlement.Window, loc *time.Location) error {
	rows := make([][]string, 0, len(windows))
	for _, win := range windows {
		rows = append(rows, []string{
			win.WindowStart.In(loc).Format(time.RFC3339),
			win.WindowEnd.In(loc).Format(time.RFC3339),
			strconv.Itoa(win.CreditsCount),
			money(win.TotalVirtual),
			money(win.BankCredit),
			money(win.Deduction()),
			nullMoney(win.ExplicitDeduction),
			money(win.InferredDeduction),
			domain.StringValue(win.ReleaseRef),
			domain.StringValue(win.ReleaseAccount),
		})
	}
	return writeCSV(w, settlementHeader, rows)
}

// WriteFactsCSV writes the raw facts, timestamps in loc.
func WriteFactsCSV(w io.Writer, facts []domain.PaymentFact, loc *time.Location) error {
	rows := make([][]string, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []string{
			f.ID,
			f.ExternalID,
			f.ReceivedAt.In(loc).Format(time.RFC3339),
			string(f.Kind),
			nullMoney(f.VirtualAmount),
			nullMoney(f.BankCredit),
			nullMoney(f.IndifiDeduction),
			domain.StringValue(f.TransactionRef),
			domain.StringValue(f.VirtualCode),
			domain.StringValue(f.BankAccount),
			f.RawSubject,
		})
	}
	return writeCSV(w, factHeader, rows)
}

// WriteDailyCSV writes one row per bucket.
func WriteDailyCSV(w io.Writer, buckets []DailyBucket) error {
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, []string{
			b.Date.String(),
			money(b.TotalVirtual),
			money(b.TotalBank),
			money(b.ReleasedToOwnAccount),
			money(b.ReleasedToLender),
			money(b.TotalExplicitDeduction),
			money(b.Deduction),
			money(b.Gap),
			strconv.Itoa(b.VirtualCount),
			strconv.Itoa(b.ReleaseCount),
			strconv.Itoa(b.DeductionCount),
		})
	}
	return writeCSV(w, dailyHeader, rows)
}

// WriteTotalsCSV writes the single-row range summary.
func WriteTotalsCSV(w io.Writer, rng Range, t Totals) error {
	row := []string{
		rng.From.String(),
		rng.To.String(),
		money(t.TotalVirtual),
		money(t.TotalReleased),
		money(t.ReleasedToOwnAccount),
		money(t.ReleasedToLender),
		money(t.TotalExplicitDeduction),
		money(t.Deduction),
		strconv.Itoa(t.VirtualCount),
		strconv.Itoa(t.ReleaseCount),
	}
	return writeCSV(w, totalsHeader, [][]string{row})
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writeCSV: header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writeCSV: rows: %w", err)
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return money(d.Decimal)
}
