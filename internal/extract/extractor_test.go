package extract

import (
	"testing"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.NullDecimal) {
	t.Helper()
	if want == "" {
		assert.False(t, got.Valid, "expected null amount, got %s", got.Decimal)
		return
	}
	require.True(t, got.Valid, "expected %s, got null", want)
	assert.True(t, dec(want).Equal(got.Decimal), "expected %s, got %s", want, got.Decimal)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		subject string
		body    string
		want    domain.FactKind
	}{
		{"Payment Received in virtual account", "", domain.KindVirtualCredit},
		{"Payment release successful", "", domain.KindReleaseToBank},
		{"Payment release succesfull", "", domain.KindReleaseToBank},
		{"Payment release successfull", "", domain.KindReleaseToBank},
		{"EMI deducted", "", domain.KindEMIDeduction},
		{"", "INR 500 has been debited from your account", domain.KindEMIDeduction},
		{"", "An amount of INR 1,000 has been credited to Virtual Code 77", domain.KindVirtualCredit},
		{"", "INR 900 has been transferred to your bank account", domain.KindReleaseToBank},
		{"Weekly newsletter", "Nothing to see here", domain.KindUnknown},
		{"", "", domain.KindUnknown},
		// Subject wins over a quoted body.
		{"Payment release successful", "Earlier INR 1,000 was credited to Virtual Code 9", domain.KindReleaseToBank},
	}

	for _, tt := range tests {
		t.Run(tt.subject+"|"+tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.subject, tt.body))
		})
	}
}

func TestExtract(t *testing.T) {
	ex := New(DefaultOptions())

	tests := []struct {
		name        string
		subject     string
		body        string
		kind        domain.FactKind
		virtual     string
		bank        string
		deduction   string
		ref         string
		virtualCode string
		bankAccount string
	}{
		{
			name:        "virtual credit below floor",
			body:        "An amount of Rs. 499 has been credited to Virtual Code 123",
			kind:        domain.KindVirtualCredit,
			virtualCode: "123",
		},
		{
			name:        "virtual credit with labelled reference",
			subject:     "Payment Received in virtual account",
			body:        "Dear Customer, An amount of INR 12,345.50 has been credited to Virtual Code AMZN0042 on 12-05-2024. Transaction reference: UTR2024051200123.",
			kind:        domain.KindVirtualCredit,
			virtual:     "12345.50",
			ref:         "UTR2024051200123",
			virtualCode: "AMZN0042",
		},
		{
			name:        "release with misspelt subject",
			subject:     "Payment release succesfull",
			body:        "Dear Customer, An amount of INR 9,800.00 has been released to the registered bank account BIGONBUY TRADING PVT LTD - 678105600878 vide UTR HDFC0000123456.",
			kind:        domain.KindReleaseToBank,
			bank:        "9800",
			ref:         "HDFC0000123456",
			bankAccount: "BIGONBUY TRADING PVT LTD - 678105600878",
		},
		{
			name:        "explicit emi deduction",
			subject:     "EMI deducted",
			body:        "EMI of INR 1,250 has been deducted from your virtual account VA99887766 vide ref TXN88112233.",
			kind:        domain.KindEMIDeduction,
			deduction:   "1250",
			ref:         "TXN88112233",
			virtualCode: "VA99887766",
		},
		{
			name:        "deduction co-occurring with credit",
			subject:     "Payment Received in virtual account",
			body:        "An amount of INR 10,000 has been credited to Virtual Code VC12345. EMI of INR 500 has been deducted towards your loan.",
			kind:        domain.KindVirtualCredit,
			virtual:     "10000",
			deduction:   "500",
			virtualCode: "VC12345",
		},
		{
			name:        "bank phrase inside a credit notice",
			subject:     "Payment Received in virtual account",
			body:        "An amount of INR 5,000 has been credited to Virtual Code VC1. INR 4,900 has been transferred to your bank account.",
			kind:        domain.KindVirtualCredit,
			virtual:     "5000",
			virtualCode: "VC1",
		},
		{
			name:    "stop word reference rejected",
			body:    "Payment release successful. Transaction is complete. An amount of INR 2,000 has been released to your bank account.",
			kind:    domain.KindReleaseToBank,
			bank:    "2000",
		},
		{
			name:    "subject fallback amount",
			subject: "Payment Received in virtual account - INR 2,500",
			kind:    domain.KindVirtualCredit,
			virtual: "2500",
		},
		{
			name:    "loose verb anchored amount",
			subject: "Payment Received in virtual account",
			body:    "Funds credited on 12/05 of Rs.3,000.75 via NEFT",
			kind:    domain.KindVirtualCredit,
			virtual: "3000.75",
		},
		{
			name:    "deduction below floor",
			subject: "EMI deducted",
			body:    "EMI of INR 0.50 has been deducted",
			kind:    domain.KindEMIDeduction,
		},
		{
			name:    "unknown carries nothing",
			subject: "Weekly newsletter",
			body:    "Save INR 5,000 on your next purchase. Ref ABC123456",
			kind:    domain.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ex.Extract(tt.subject, tt.body)

			assert.Equal(t, tt.kind, d.Kind)
			assertAmount(t, tt.virtual, d.VirtualAmount)
			assertAmount(t, tt.bank, d.BankCredit)
			assertAmount(t, tt.deduction, d.IndifiDeduction)
			assert.Equal(t, tt.ref, domain.StringValue(d.TransactionRef))
			assert.Equal(t, tt.virtualCode, domain.StringValue(d.VirtualCode))
			assert.Equal(t, tt.bankAccount, domain.StringValue(d.BankAccount))

			// Mutual exclusion.
			if d.Kind == domain.KindVirtualCredit {
				assert.False(t, d.BankCredit.Valid)
			}
			if d.Kind == domain.KindReleaseToBank {
				assert.False(t, d.VirtualAmount.Valid)
			}

			// Idempotence.
			assert.Equal(t, d, ex.Extract(tt.subject, tt.body))
		})
	}
}

func TestExtractNeverPanicsOnJunk(t *testing.T) {
	ex := New(DefaultOptions())
	inputs := []string{
		"INR", "₹₹₹", "amount of INR ,,,", "vide", "Transaction: -", "\x00\xff\xfe",
		"credited to virtual code INR 1.2.3",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { ex.Extract(in, in) })
	}
}

func TestNormalize(t *testing.T) {
	ex := New(DefaultOptions())

	t.Run("release drops virtual amount", func(t *testing.T) {
		d := ex.Normalize(domain.Draft{
			Kind:          domain.KindReleaseToBank,
			VirtualAmount: decimal.NewNullDecimal(dec("1000")),
			BankCredit:    decimal.NewNullDecimal(dec("900")),
		})
		assert.False(t, d.VirtualAmount.Valid)
		assertAmount(t, "900", d.BankCredit)
	})

	t.Run("virtual drops bank credit", func(t *testing.T) {
		d := ex.Normalize(domain.Draft{
			Kind:          domain.KindVirtualCredit,
			VirtualAmount: decimal.NewNullDecimal(dec("1000")),
			BankCredit:    decimal.NewNullDecimal(dec("900")),
		})
		assertAmount(t, "1000", d.VirtualAmount)
		assert.False(t, d.BankCredit.Valid)
	})

	t.Run("invalid kind becomes unknown", func(t *testing.T) {
		d := ex.Normalize(domain.Draft{Kind: "refund", VirtualAmount: decimal.NewNullDecimal(dec("1000"))})
		assert.Equal(t, domain.KindUnknown, d.Kind)
		assert.False(t, d.VirtualAmount.Valid)
	})

	t.Run("short reference dropped", func(t *testing.T) {
		d := ex.Normalize(domain.Draft{Kind: domain.KindReleaseToBank, TransactionRef: domain.StringPtr("is")})
		assert.Nil(t, d.TransactionRef)
	})
}

func TestValidReference(t *testing.T) {
	ex := New(DefaultOptions())
	assert.False(t, ex.ValidReference("is"))
	assert.False(t, ex.ValidReference("successful"))
	assert.False(t, ex.ValidReference("AB123"))
	assert.True(t, ex.ValidReference("AB1234"))
	assert.False(t, ex.ValidReference("A123456789012345678901234567890123"))
}

func TestCustomThresholds(t *testing.T) {
	ex := New(Options{
		CreditFloor:    dec("100"),
		DeductionFloor: dec("1"),
		MinRefLength:   4,
	})
	d := ex.Extract("", "An amount of Rs. 499 has been credited to Virtual Code 123 vide AB12")
	assertAmount(t, "499", d.VirtualAmount)
	assert.Equal(t, "AB12", domain.StringValue(d.TransactionRef))
}
