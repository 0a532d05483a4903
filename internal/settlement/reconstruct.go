// Package settlement rebuilds settlement windows from a time-ordered stream
// of payment facts.
package settlement

import (
	"sort"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Presented figures are rounded to this many places.
const places = 2

// Window is one closed settlement: every credit since the previous release,
// settled by a single bank release.
type Window struct {
	WindowStart       time.Time           `json:"window_start"`
	WindowEnd         time.Time           `json:"window_end"`
	CreditsCount      int                 `json:"credits_count"`
	TotalVirtual      decimal.Decimal     `json:"total_virtual"`
	BankCredit        decimal.Decimal     `json:"bank_credit"`
	ExplicitDeduction decimal.NullDecimal `json:"explicit_deduction"`
	InferredDeduction decimal.Decimal     `json:"inferred_deduction"`
	ReleaseRef        *string             `json:"release_ref"`
	ReleaseAccount    *string             `json:"release_account"`
	ReleaseAt         time.Time           `json:"release_at"`
	ReleaseFactID     string              `json:"release_fact_id"`
	CreditFactIDs     []string            `json:"credit_fact_ids"`
}

// Deduction is the authoritative fee for the window: the explicit figure when
// one was reported, the inferred gap otherwise.
func (w Window) Deduction() decimal.Decimal {
	if w.ExplicitDeduction.Valid {
		return w.ExplicitDeduction.Decimal
	}
	return w.InferredDeduction
}

// GrandTotals sums the whole input, independent of windows.
type GrandTotals struct {
	TotalVirtual           decimal.Decimal `json:"total_virtual"`
	TotalBank              decimal.Decimal `json:"total_bank"`
	TotalExplicitDeduction decimal.Decimal `json:"total_explicit_deduction"`
	// TotalDeduction sums Window.Deduction over the emitted windows.
	TotalDeduction decimal.Decimal `json:"total_deduction"`
}

// Result is the output of Reconstruct.
type Result struct {
	Settlements       []Window             `json:"settlements"`
	UnmatchedCredits  []domain.PaymentFact `json:"unmatched_credits"`
	UnmatchedReleases []domain.PaymentFact `json:"unmatched_releases"`
	Grand             GrandTotals          `json:"grand"`
}

// Reconstruct folds facts, in receivedAt order, into settlement windows.
// Credits and explicit deductions accumulate in a bucket; each release closes
// the bucket. A release with nothing accumulated is reported as unmatched and
// credits left over at the end are pending. Unknown facts are ignored.
//
// Input is stably sorted by ReceivedAt on a copy, so callers may pass facts
// in any order and equal timestamps keep their relative order.
func Reconstruct(facts []domain.PaymentFact) Result {
	ordered := make([]domain.PaymentFact, len(facts))
	copy(ordered, facts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
	})

	res := Result{
		Settlements:       []Window{},
		UnmatchedCredits:  []domain.PaymentFact{},
		UnmatchedReleases: []domain.PaymentFact{},
	}

	var (
		bucket        []domain.PaymentFact
		sumVirtual    decimal.Decimal
		sumBank       decimal.Decimal
		sumExplicit   decimal.Decimal
		sumDeductions decimal.Decimal
	)

	for _, f := range ordered {
		switch f.Kind {
		case domain.KindVirtualCredit:
			sumVirtual = sumVirtual.Add(valueOrZero(f.VirtualAmount))
			bucket = append(bucket, f)

		case domain.KindEMIDeduction:
			sumExplicit = sumExplicit.Add(valueOrZero(f.IndifiDeduction))
			bucket = append(bucket, f)

		case domain.KindReleaseToBank:
			sumBank = sumBank.Add(valueOrZero(f.BankCredit))

			w, ok := closeWindow(bucket, f)
			if !ok {
				res.UnmatchedReleases = append(res.UnmatchedReleases, f)
			} else {
				sumDeductions = sumDeductions.Add(w.Deduction())
				res.Settlements = append(res.Settlements, w.rounded())
			}
			bucket = nil
		}
	}

	for _, f := range bucket {
		if f.Kind == domain.KindVirtualCredit {
			res.UnmatchedCredits = append(res.UnmatchedCredits, f)
		}
	}

	res.Grand = GrandTotals{
		TotalVirtual:           sumVirtual.Round(places),
		TotalBank:              sumBank.Round(places),
		TotalExplicitDeduction: sumExplicit.Round(places),
		TotalDeduction:         sumDeductions.Round(places),
	}
	return res
}

// closeWindow settles the bucket against release. It reports false when the
// bucket holds neither credits nor an explicit deduction.
func closeWindow(bucket []domain.PaymentFact, release domain.PaymentFact) (Window, bool) {
	var (
		credits      []domain.PaymentFact
		explicit     *domain.PaymentFact
		totalVirtual decimal.Decimal
	)
	for i := range bucket {
		f := bucket[i]
		switch f.Kind {
		case domain.KindVirtualCredit:
			credits = append(credits, f)
			totalVirtual = totalVirtual.Add(valueOrZero(f.VirtualAmount))
		case domain.KindEMIDeduction:
			// First explicit deduction in the window wins.
			if explicit == nil {
				explicit = &bucket[i]
			}
		}
	}

	if len(credits) == 0 && explicit == nil {
		return Window{}, false
	}

	bankCredit := valueOrZero(release.BankCredit)
	inferred := totalVirtual.Sub(bankCredit)
	if inferred.IsNegative() {
		inferred = decimal.Zero
	}

	start := release.ReceivedAt
	if len(bucket) > 0 {
		start = bucket[0].ReceivedAt
	}

	ids := make([]string, 0, len(credits))
	for _, c := range credits {
		ids = append(ids, c.ID)
	}

	w := Window{
		WindowStart:       start,
		WindowEnd:         release.ReceivedAt,
		CreditsCount:      len(credits),
		TotalVirtual:      totalVirtual,
		BankCredit:        bankCredit,
		InferredDeduction: inferred,
		ReleaseRef:        release.TransactionRef,
		ReleaseAccount:    release.BankAccount,
		ReleaseAt:         release.ReceivedAt,
		ReleaseFactID:     release.ID,
		CreditFactIDs:     ids,
	}
	if explicit != nil {
		w.ExplicitDeduction = explicit.IndifiDeduction
	}
	return w, true
}

func (w Window) rounded() Window {
	w.TotalVirtual = w.TotalVirtual.Round(places)
	w.BankCredit = w.BankCredit.Round(places)
	w.InferredDeduction = w.InferredDeduction.Round(places)
	if w.ExplicitDeduction.Valid {
		w.ExplicitDeduction = decimal.NewNullDecimal(w.ExplicitDeduction.Decimal.Round(places))
	}
	return w
}

func valueOrZero(v decimal.NullDecimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return decimal.Zero
}
