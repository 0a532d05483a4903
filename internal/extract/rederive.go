package extract

import (
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Rederive re-runs extraction on the retained raw text of f and returns the
// changes worth applying. The patch only fills nulls, upgrades an unknown
// kind, or replaces values that fail today's validity rules. It never clears
// a field.
func (e *Extractor) Rederive(f domain.PaymentFact) domain.FactPatch {
	d := e.Extract(f.RawSubject, f.RawBody)

	var p domain.FactPatch

	kind := f.Kind
	if kind == domain.KindUnknown && d.Kind != domain.KindUnknown {
		k := d.Kind
		p.Kind = &k
		kind = k
	}

	// Amounts for the main kind are only taken when both runs agree on it.
	if kind == d.Kind {
		p.VirtualAmount = mergeAmount(f.VirtualAmount, d.VirtualAmount, e.opts.CreditFloor)
		p.BankCredit = mergeAmount(f.BankCredit, d.BankCredit, e.opts.CreditFloor)
	}
	p.IndifiDeduction = mergeAmount(f.IndifiDeduction, d.IndifiDeduction, e.opts.DeductionFloor)

	if d.TransactionRef != nil && (f.TransactionRef == nil || !e.ValidReference(*f.TransactionRef)) {
		if f.TransactionRef == nil || *f.TransactionRef != *d.TransactionRef {
			p.TransactionRef = d.TransactionRef
		}
	}
	if f.VirtualCode == nil && d.VirtualCode != nil {
		p.VirtualCode = d.VirtualCode
	}
	if f.BankAccount == nil && d.BankAccount != nil {
		p.BankAccount = d.BankAccount
	}

	return p
}

func mergeAmount(current, next decimal.NullDecimal, threshold decimal.Decimal) *decimal.Decimal {
	if !next.Valid {
		return nil
	}
	if !current.Valid {
		v := next.Decimal
		return &v
	}
	if current.Decimal.LessThan(threshold) && !current.Decimal.Equal(next.Decimal) {
		v := next.Decimal
		return &v
	}
	return nil
}
