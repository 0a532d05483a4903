package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDataset = Dataset{ProjectID: "proj", DatasetID: "ledger"}

func TestDatasetTable(t *testing.T) {
	assert.Equal(t, "`proj.ledger.payment_facts`", testDataset.Table(factsTable))
}

func TestFactRowRoundTrip(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	f := domain.PaymentFact{
		ID:         "id-1",
		ExternalID: "ext-1",
		ReceivedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, ist),
		RawSubject: "Payment Received",
		RawBody:    "INR 2,500.50 credited",
	}
	f.Kind = domain.KindVirtualCredit
	f.VirtualAmount = decimal.NewNullDecimal(decimal.RequireFromString("2500.50"))
	f.IndifiDeduction = decimal.NewNullDecimal(decimal.RequireFromString("12"))
	f.TransactionRef = domain.StringPtr("UTR123456")

	row := NewFactRow(f)
	assert.Equal(t, time.UTC, row.ReceivedTS.Location())
	assert.Equal(t, bigquery.NullString{StringVal: "2500.5", Valid: true}, row.VirtualAmount)
	assert.False(t, row.BankCredit.Valid)
	assert.False(t, row.VirtualCode.Valid)

	got, err := row.Fact()
	require.NoError(t, err)
	assert.True(t, got.ReceivedAt.Equal(f.ReceivedAt))
	assert.Equal(t, domain.KindVirtualCredit, got.Kind)
	assert.True(t, got.VirtualAmount.Decimal.Equal(f.VirtualAmount.Decimal))
	assert.True(t, got.IndifiDeduction.Valid)
	assert.False(t, got.BankCredit.Valid)
	assert.Equal(t, "UTR123456", domain.StringValue(got.TransactionRef))
	assert.Nil(t, got.VirtualCode)
}

func TestFactRowBadNumeric(t *testing.T) {
	row := &FactRow{FactID: "x", BankCredit: bigquery.NullString{StringVal: "abc", Valid: true}}
	_, err := row.Fact()
	assert.ErrorContains(t, err, "bank_credit")
}

func TestBuildFactsRangeQuery(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	sql, params := buildFactsRangeQuery(testDataset, start, end)
	assert.Contains(t, sql, "FROM `proj.ledger.payment_facts`")
	assert.Contains(t, sql, "WHERE received_ts >= @start_ts AND received_ts < @end_ts")
	assert.Contains(t, sql, "CAST(virtual_amount AS STRING) AS virtual_amount")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY received_ts, external_id"))
	require.Len(t, params, 2)
	assert.Equal(t, "start_ts", params[0].Name)
	assert.Equal(t, end, params[1].Value)

	sql, params = buildFactsRangeQuery(testDataset, time.Time{}, time.Time{})
	assert.NotContains(t, sql, "WHERE")
	assert.Empty(t, params)
}

func TestBuildFactUpdate(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	kind := domain.KindReleaseToBank
	amount := decimal.RequireFromString("990.00")
	ref := "UTR777777"

	sql, params := buildFactUpdate(testDataset, "fact-9", domain.FactPatch{
		Kind:           &kind,
		BankCredit:     &amount,
		TransactionRef: &ref,
	}, now)

	assert.Contains(t, sql, "UPDATE `proj.ledger.payment_facts`")
	assert.Contains(t, sql, "kind = @kind")
	assert.Contains(t, sql, "bank_credit = CAST(@bank_credit AS NUMERIC)")
	assert.Contains(t, sql, "transaction_ref = @transaction_ref")
	assert.Contains(t, sql, "updated_ts = @updated_ts")
	assert.Contains(t, sql, "WHERE fact_id = @fact_id")
	assert.NotContains(t, sql, "virtual_amount")

	values := map[string]interface{}{}
	for _, p := range params {
		values[p.Name] = p.Value
	}
	assert.Equal(t, "release_to_bank", values["kind"])
	assert.Equal(t, "990", values["bank_credit"])
	assert.Equal(t, ref, values["transaction_ref"])
	assert.Equal(t, now, values["updated_ts"])
	assert.Equal(t, "fact-9", values["fact_id"])
}

func TestBuildIncompleteQuery(t *testing.T) {
	sql, params := buildIncompleteQuery(testDataset, 50)
	assert.Contains(t, sql, "ORDER BY reparsed_ts ASC NULLS FIRST, received_ts, external_id")
	assert.Contains(t, sql, "reparsed_ts")
	assert.Contains(t, sql, "LIMIT @limit")
	require.Len(t, params, 1)
	assert.Equal(t, int64(50), params[0].Value)

	sql, params = buildIncompleteQuery(testDataset, 0)
	assert.NotContains(t, sql, "LIMIT")
	assert.Empty(t, params)
}

func TestFactRowReparsedTimestamp(t *testing.T) {
	at := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	f := domain.PaymentFact{ID: "id-2", ExternalID: "ext-2", ReparsedAt: &at}
	f.Kind = domain.KindUnknown

	row := NewFactRow(f)
	assert.True(t, row.ReparsedTS.Valid)

	got, err := row.Fact()
	require.NoError(t, err)
	require.NotNil(t, got.ReparsedAt)
	assert.True(t, got.ReparsedAt.Equal(at))

	assert.False(t, NewFactRow(domain.PaymentFact{ID: "id-3"}).ReparsedTS.Valid)
}
