package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func fact(id string, kind domain.FactKind, at time.Time, amount string) domain.PaymentFact {
	f := domain.PaymentFact{ID: id, ExternalID: "msg-" + id, ReceivedAt: at}
	f.Kind = kind
	if amount != "" {
		v := decimal.NewNullDecimal(decimal.RequireFromString(amount))
		switch kind {
		case domain.KindVirtualCredit:
			f.VirtualAmount = v
		case domain.KindReleaseToBank:
			f.BankCredit = v
		case domain.KindEMIDeduction:
			f.IndifiDeduction = v
		}
	}
	return f
}

func TestParseRange(t *testing.T) {
	loc := ist(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	t.Run("both bounds", func(t *testing.T) {
		rng, err := ParseRange("2024-05-01", "2024-05-03", loc, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, loc), rng.Start)
		assert.Equal(t, time.Date(2024, 5, 4, 0, 0, 0, 0, loc), rng.End)
		assert.True(t, rng.Contains(time.Date(2024, 5, 3, 23, 59, 59, 0, loc)))
		assert.False(t, rng.Contains(rng.End))
		assert.True(t, rng.Contains(rng.Start))
	})

	t.Run("to defaults to today", func(t *testing.T) {
		rng, err := ParseRange("2024-05-01", "", loc, now)
		require.NoError(t, err)
		assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 10}, rng.To)
	})

	tests := []struct {
		name  string
		from  string
		to    string
		field string
	}{
		{"missing from", "", "2024-05-01", "from"},
		{"bad from", "01/05/2024", "", "from"},
		{"bad to", "2024-05-01", "tomorrow", "to"},
		{"inverted", "2024-05-03", "2024-05-01", "to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRange(tt.from, tt.to, loc, now)
			var rerr *RangeError
			require.True(t, errors.As(err, &rerr), "want RangeError, got %v", err)
			assert.Equal(t, tt.field, rerr.Field)
		})
	}
}

func TestLoadLocationFallback(t *testing.T) {
	loc := LoadLocation("Not/AZone")
	require.NotNil(t, loc)
	assert.Contains(t, []string{DefaultTimezone, "UTC"}, loc.String())
}

func TestBucketFactsByDay(t *testing.T) {
	loc := ist(t)
	rng, err := ParseRange("2024-05-01", "2024-05-05", loc, time.Now())
	require.NoError(t, err)

	facts := []domain.PaymentFact{
		// 20:00 UTC on May 1 is already May 2 in IST.
		fact("a", domain.KindVirtualCredit, time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC), "1000"),
		fact("b", domain.KindVirtualCredit, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), "250.50"),
		fact("c", domain.KindReleaseToBank, time.Date(2024, 5, 2, 9, 0, 0, 0, loc), "900"),
		fact("d", domain.KindEMIDeduction, time.Date(2024, 5, 4, 9, 0, 0, 0, loc), "40"),
		fact("e", domain.KindUnknown, time.Date(2024, 5, 3, 9, 0, 0, 0, loc), ""),
		fact("f", domain.KindVirtualCredit, time.Date(2024, 6, 1, 9, 0, 0, 0, loc), "10"),
	}

	got := BucketFactsByDay(facts, rng, loc, NewLender(DefaultLenderAccount))
	require.Len(t, got, 3)

	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 1}, got[0].Date)
	assert.Equal(t, "250.5", got[0].TotalVirtual.String())
	assert.Equal(t, 1, got[0].VirtualCount)

	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 2}, got[1].Date)
	assert.Equal(t, "1000", got[1].TotalVirtual.String())
	assert.Equal(t, "900", got[1].TotalBank.String())
	assert.Equal(t, "900", got[1].ReleasedToOwnAccount.String())
	assert.True(t, got[1].ReleasedToLender.IsZero())
	assert.Equal(t, "100", got[1].Gap.String())
	assert.Equal(t, "100", got[1].Deduction.String())

	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 4}, got[2].Date)
	assert.Equal(t, "40", got[2].TotalExplicitDeduction.String())
	assert.Equal(t, 1, got[2].DeductionCount)
}

func TestBucketFactsByDayNegativeGap(t *testing.T) {
	loc := time.UTC
	rng, err := ParseRange("2024-05-01", "2024-05-01", loc, time.Now())
	require.NoError(t, err)

	got := BucketFactsByDay([]domain.PaymentFact{
		fact("r", domain.KindReleaseToBank, time.Date(2024, 5, 1, 9, 0, 0, 0, loc), "500"),
	}, rng, loc, Lender{})
	require.Len(t, got, 1)
	assert.Equal(t, "-500", got[0].Gap.String())
	assert.True(t, got[0].Deduction.IsZero())
}

func TestBucketSettlementsByDay(t *testing.T) {
	loc := time.UTC
	rng, err := ParseRange("2024-05-01", "2024-05-31", loc, time.Now())
	require.NoError(t, err)

	res := settlement.Reconstruct([]domain.PaymentFact{
		fact("c1", domain.KindVirtualCredit, time.Date(2024, 5, 1, 9, 0, 0, 0, loc), "1000"),
		fact("c2", domain.KindVirtualCredit, time.Date(2024, 5, 2, 9, 0, 0, 0, loc), "500"),
		fact("r1", domain.KindReleaseToBank, time.Date(2024, 5, 3, 9, 0, 0, 0, loc), "1400"),
		fact("c3", domain.KindVirtualCredit, time.Date(2024, 5, 3, 10, 0, 0, 0, loc), "800"),
		fact("d1", domain.KindEMIDeduction, time.Date(2024, 5, 3, 11, 0, 0, 0, loc), "50"),
		fact("r2", domain.KindReleaseToBank, time.Date(2024, 5, 3, 12, 0, 0, 0, loc), "750"),
	})
	require.Len(t, res.Settlements, 2)

	got := BucketSettlementsByDay(res.Settlements, rng, loc, NewLender(DefaultLenderAccount))
	require.Len(t, got, 1)
	b := got[0]
	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 3}, b.Date)
	assert.Equal(t, 2, b.ReleaseCount)
	assert.Equal(t, 3, b.VirtualCount)
	assert.Equal(t, "2300", b.TotalVirtual.String())
	assert.Equal(t, "2150", b.TotalBank.String())
	// 100 inferred for the first window, 50 explicit for the second.
	assert.Equal(t, "150", b.Deduction.String())
	assert.Equal(t, "50", b.TotalExplicitDeduction.String())
	assert.Equal(t, 1, b.DeductionCount)
}

func TestComputeTotals(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	got := ComputeTotals([]domain.PaymentFact{
		fact("a", domain.KindVirtualCredit, at, "1000.005"),
		fact("b", domain.KindVirtualCredit, at, ""),
		fact("c", domain.KindReleaseToBank, at, "2000"),
		fact("d", domain.KindEMIDeduction, at, "10"),
		fact("e", domain.KindEMIDeduction, at, "2.255"),
		fact("f", domain.KindEMIDeduction, at, ""),
	}, NewLender(DefaultLenderAccount))
	assert.Equal(t, 2, got.VirtualCount)
	assert.Equal(t, 1, got.ReleaseCount)
	assert.Equal(t, 3, got.DeductionCount)
	assert.Equal(t, "1000.01", got.TotalVirtual.String())
	assert.Equal(t, "12.26", got.TotalExplicitDeduction.String())
	assert.Equal(t, "2000", got.ReleasedToOwnAccount.String())
	assert.True(t, got.Deduction.IsZero())
}

func release(id string, at time.Time, amount, account, body string) domain.PaymentFact {
	f := fact(id, domain.KindReleaseToBank, at, amount)
	f.BankAccount = domain.StringPtr(account)
	f.RawBody = body
	return f
}

func TestLenderReceives(t *testing.T) {
	lender := NewLender("Indifi  Capital Pvt Ltd")
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		f    domain.PaymentFact
		want bool
	}{
		{"lender account", release("a", at, "1", "Indifi Capital Pvt Ltd - 50200021608160", ""), true},
		{"case and spacing", release("b", at, "1", "INDIFI CAPITAL  PVT LTD - 1", ""), true},
		{"own account", release("c", at, "1", "BIGONBUY TRADING PVT LTD - 678105600878", ""), false},
		{"body fallback", release("d", at, "1", "", "released to the registered bank account Indifi Capital Pvt Ltd - 5020"), true},
		{"nothing to go on", release("e", at, "1", "", "released"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lender.Receives(tt.f))
		})
	}

	assert.False(t, NewLender("").Receives(release("f", at, "1", "Indifi Capital Pvt Ltd", "")))
}

func TestReleasesSplitByRecipient(t *testing.T) {
	loc := time.UTC
	rng, err := ParseRange("2024-05-01", "2024-05-31", loc, time.Now())
	require.NoError(t, err)
	lender := NewLender(DefaultLenderAccount)

	facts := []domain.PaymentFact{
		fact("c1", domain.KindVirtualCredit, time.Date(2024, 5, 1, 9, 0, 0, 0, loc), "10000"),
		release("r1", time.Date(2024, 5, 1, 12, 0, 0, 0, loc), "9800", "Indifi Capital Pvt Ltd - 50200021608160", ""),
		fact("c2", domain.KindVirtualCredit, time.Date(2024, 5, 1, 13, 0, 0, 0, loc), "5000"),
		release("r2", time.Date(2024, 5, 1, 18, 0, 0, 0, loc), "4900", "BIGONBUY TRADING PVT LTD - 678105600878", ""),
	}

	byFact := BucketFactsByDay(facts, rng, loc, lender)
	require.Len(t, byFact, 1)
	assert.Equal(t, "14700", byFact[0].TotalBank.String())
	assert.Equal(t, "9800", byFact[0].ReleasedToLender.String())
	assert.Equal(t, "4900", byFact[0].ReleasedToOwnAccount.String())

	res := settlement.Reconstruct(facts)
	require.Len(t, res.Settlements, 2)
	assert.Equal(t, "Indifi Capital Pvt Ltd - 50200021608160", domain.StringValue(res.Settlements[0].ReleaseAccount))

	bySettlement := BucketSettlementsByDay(res.Settlements, rng, loc, lender)
	require.Len(t, bySettlement, 1)
	assert.Equal(t, "9800", bySettlement[0].ReleasedToLender.String())
	assert.Equal(t, "4900", bySettlement[0].ReleasedToOwnAccount.String())

	totals := ComputeTotals(facts, lender)
	assert.Equal(t, "14700", totals.TotalReleased.String())
	assert.Equal(t, "9800", totals.ReleasedToLender.String())
	assert.Equal(t, "4900", totals.ReleasedToOwnAccount.String())
}

func TestWriteSettlementsCSV(t *testing.T) {
	loc := time.UTC
	ref := "UTR,12\"34\n56"
	windows := []settlement.Window{{
		WindowStart:       time.Date(2024, 5, 1, 9, 0, 0, 0, loc),
		WindowEnd:         time.Date(2024, 5, 2, 9, 0, 0, 0, loc),
		CreditsCount:      2,
		TotalVirtual:      decimal.RequireFromString("1500"),
		BankCredit:        decimal.RequireFromString("1400"),
		InferredDeduction: decimal.RequireFromString("100"),
		ReleaseRef:        &ref,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteSettlementsCSV(&buf, windows, loc))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, settlementHeader, records[0])
	assert.Equal(t, []string{
		"2024-05-01T09:00:00Z", "2024-05-02T09:00:00Z", "2",
		"1500.00", "1400.00", "100.00", "", "100.00", ref, "",
	}, records[1])
}

func TestWriteFactsCSVHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFactsCSV(&buf, nil, time.UTC))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, factHeader, records[0])
}

func TestWriteTotalsCSV(t *testing.T) {
	rng, err := ParseRange("2024-05-01", "2024-05-31", time.UTC, time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTotalsCSV(&buf, rng, Totals{
		TotalVirtual:           decimal.RequireFromString("10"),
		TotalReleased:          decimal.RequireFromString("7.5"),
		ReleasedToOwnAccount:   decimal.RequireFromString("5"),
		ReleasedToLender:       decimal.RequireFromString("2.5"),
		TotalExplicitDeduction: decimal.RequireFromString("1.25"),
		Deduction:              decimal.RequireFromString("2.5"),
		VirtualCount:           1,
		ReleaseCount:           2,
	}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, totalsHeader, records[0])
	assert.Equal(t, []string{"2024-05-01", "2024-05-31", "10.00", "7.50", "5.00", "2.50", "1.25", "2.50", "1", "2"}, records[1])
}

func TestWriteParquet(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	facts := []domain.PaymentFact{
		fact("c1", domain.KindVirtualCredit, at, "1000"),
		fact("r1", domain.KindReleaseToBank, at.Add(time.Hour), "990"),
	}

	var factsBuf bytes.Buffer
	require.NoError(t, WriteFactsParquet(&factsBuf, facts, time.UTC))
	assertParquetMagic(t, factsBuf.Bytes())

	var winBuf bytes.Buffer
	require.NoError(t, WriteSettlementsParquet(&winBuf, settlement.Reconstruct(facts).Settlements, time.UTC))
	assertParquetMagic(t, winBuf.Bytes())
}

func assertParquetMagic(t *testing.T, b []byte) {
	t.Helper()
	require.Greater(t, len(b), 8)
	assert.Equal(t, "PAR1", string(b[:4]))
	assert.Equal(t, "PAR1", string(b[len(b)-4:]))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("Parquet")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)
	assert.Equal(t, "parquet", f.Extension())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}
