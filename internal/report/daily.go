package report

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/shopspring/decimal"
)

// DailyBucket aggregates one calendar day.
type DailyBucket struct {
	Date                   civil.Date      `json:"date"`
	TotalVirtual           decimal.Decimal `json:"total_virtual"`
	TotalBank              decimal.Decimal `json:"total_bank"`
	ReleasedToOwnAccount   decimal.Decimal `json:"released_to_own_account"`
	ReleasedToLender       decimal.Decimal `json:"released_to_lender"`
	TotalExplicitDeduction decimal.Decimal `json:"total_explicit_deduction"`
	// Deduction is max(0, virtual - bank) for fact buckets and the summed
	// window deductions for settlement buckets.
	Deduction decimal.Decimal `json:"deduction"`
	// Gap is virtual - bank and may be negative when a release lands on a
	// later day than its credits.
	Gap            decimal.Decimal `json:"gap"`
	VirtualCount   int             `json:"virtual_count"`
	ReleaseCount   int             `json:"release_count"`
	DeductionCount int             `json:"deduction_count"`
}

// BucketFactsByDay groups facts inside rng by the calendar day of ReceivedAt
// in loc. Days without activity are omitted and the result is ascending.
// Releases are split between the merchant's account and lender.
func BucketFactsByDay(facts []domain.PaymentFact, rng Range, loc *time.Location, lender Lender) []DailyBucket {
	days := map[civil.Date]*DailyBucket{}

	for _, f := range facts {
		if !rng.Contains(f.ReceivedAt) || f.Kind == domain.KindUnknown || !f.Kind.Valid() {
			continue
		}
		b := bucketFor(days, civil.DateOf(f.ReceivedAt.In(loc)))

		switch f.Kind {
		case domain.KindVirtualCredit:
			if f.VirtualAmount.Valid {
				b.TotalVirtual = b.TotalVirtual.Add(f.VirtualAmount.Decimal)
			}
			b.VirtualCount++
		case domain.KindReleaseToBank:
			if f.BankCredit.Valid {
				b.TotalBank = b.TotalBank.Add(f.BankCredit.Decimal)
				b.addRelease(f.BankCredit.Decimal, lender.Receives(f))
			}
			b.ReleaseCount++
		case domain.KindEMIDeduction:
			if f.IndifiDeduction.Valid {
				b.TotalExplicitDeduction = b.TotalExplicitDeduction.Add(f.IndifiDeduction.Decimal)
			}
			b.DeductionCount++
		}
	}

	out := sorted(days)
	for i := range out {
		b := &out[i]
		b.Gap = b.TotalVirtual.Sub(b.TotalBank)
		b.Deduction = decimal.Max(decimal.Zero, b.Gap)
		b.round()
	}
	return out
}

// BucketSettlementsByDay groups windows by the day of their release.
func BucketSettlementsByDay(windows []settlement.Window, rng Range, loc *time.Location, lender Lender) []DailyBucket {
	days := map[civil.Date]*DailyBucket{}

	for _, w := range windows {
		if !rng.Contains(w.ReleaseAt) {
			continue
		}
		b := bucketFor(days, civil.DateOf(w.ReleaseAt.In(loc)))
		b.TotalVirtual = b.TotalVirtual.Add(w.TotalVirtual)
		b.TotalBank = b.TotalBank.Add(w.BankCredit)
		b.addRelease(w.BankCredit, lender.Owns(w.ReleaseAccount))
		b.Deduction = b.Deduction.Add(w.Deduction())
		if w.ExplicitDeduction.Valid {
			b.TotalExplicitDeduction = b.TotalExplicitDeduction.Add(w.ExplicitDeduction.Decimal)
			b.DeductionCount++
		}
		b.VirtualCount += w.CreditsCount
		b.ReleaseCount++
	}

	out := sorted(days)
	for i := range out {
		out[i].Gap = out[i].TotalVirtual.Sub(out[i].TotalBank)
		out[i].round()
	}
	return out
}

func bucketFor(days map[civil.Date]*DailyBucket, day civil.Date) *DailyBucket {
	b, ok := days[day]
	if !ok {
		b = &DailyBucket{Date: day}
		days[day] = b
	}
	return b
}

func sorted(days map[civil.Date]*DailyBucket) []DailyBucket {
	out := make([]DailyBucket, 0, len(days))
	for _, b := range days {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (b *DailyBucket) addRelease(amount decimal.Decimal, toLender bool) {
	if toLender {
		b.ReleasedToLender = b.ReleasedToLender.Add(amount)
		return
	}
	b.ReleasedToOwnAccount = b.ReleasedToOwnAccount.Add(amount)
}

func (b *DailyBucket) round() {
	b.TotalVirtual = b.TotalVirtual.Round(2)
	b.TotalBank = b.TotalBank.Round(2)
	b.ReleasedToOwnAccount = b.ReleasedToOwnAccount.Round(2)
	b.ReleasedToLender = b.ReleasedToLender.Round(2)
	b.TotalExplicitDeduction = b.TotalExplicitDeduction.Round(2)
	b.Deduction = b.Deduction.Round(2)
	b.Gap = b.Gap.Round(2)
}
