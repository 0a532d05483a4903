package report

import (
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Totals is the flat summary of a fact range.
type Totals struct {
	TotalVirtual           decimal.Decimal `json:"total_virtual"`
	TotalReleased          decimal.Decimal `json:"total_released"`
	ReleasedToOwnAccount   decimal.Decimal `json:"released_to_own_account"`
	ReleasedToLender       decimal.Decimal `json:"released_to_lender"`
	TotalExplicitDeduction decimal.Decimal `json:"total_explicit_deduction"`
	Deduction              decimal.Decimal `json:"deduction"`
	VirtualCount           int             `json:"virtual_count"`
	ReleaseCount           int             `json:"release_count"`
	DeductionCount         int             `json:"deduction_count"`
}

// ComputeTotals sums credits, releases and explicit deductions. Releases are
// also split by recipient. Deduction is max(0, virtual - released).
func ComputeTotals(facts []domain.PaymentFact, lender Lender) Totals {
	var t Totals
	for _, f := range facts {
		switch f.Kind {
		case domain.KindVirtualCredit:
			if f.VirtualAmount.Valid {
				t.TotalVirtual = t.TotalVirtual.Add(f.VirtualAmount.Decimal)
			}
			t.VirtualCount++
		case domain.KindReleaseToBank:
			if f.BankCredit.Valid {
				t.TotalReleased = t.TotalReleased.Add(f.BankCredit.Decimal)
				if lender.Receives(f) {
					t.ReleasedToLender = t.ReleasedToLender.Add(f.BankCredit.Decimal)
				} else {
					t.ReleasedToOwnAccount = t.ReleasedToOwnAccount.Add(f.BankCredit.Decimal)
				}
			}
			t.ReleaseCount++
		case domain.KindEMIDeduction:
			if f.IndifiDeduction.Valid {
				t.TotalExplicitDeduction = t.TotalExplicitDeduction.Add(f.IndifiDeduction.Decimal)
			}
			t.DeductionCount++
		}
	}
	t.Deduction = decimal.Max(decimal.Zero, t.TotalVirtual.Sub(t.TotalReleased)).Round(2)
	t.TotalVirtual = t.TotalVirtual.Round(2)
	t.TotalReleased = t.TotalReleased.Round(2)
	t.ReleasedToOwnAccount = t.ReleasedToOwnAccount.Round(2)
	t.ReleasedToLender = t.ReleasedToLender.Round(2)
	t.TotalExplicitDeduction = t.TotalExplicitDeduction.Round(2)
	return t
}
