package domain

import "github.com/shopspring/decimal"

// FactPatch is a partial update of a PaymentFact. Nil fields are left unchanged;
// a patch can never clear a field.
type FactPatch struct {
	Kind            *FactKind        `json:"kind,omitempty"`
	VirtualAmount   *decimal.Decimal `json:"virtual_amount,omitempty"`
	BankCredit      *decimal.Decimal `json:"bank_credit,omitempty"`
	IndifiDeduction *decimal.Decimal `json:"indifi_deduction,omitempty"`
	TransactionRef  *string          `json:"transaction_ref,omitempty"`
	VirtualCode     *string          `json:"virtual_code,omitempty"`
	BankAccount     *string          `json:"bank_account,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p FactPatch) Empty() bool {
	return p.Kind == nil &&
		p.VirtualAmount == nil &&
		p.BankCredit == nil &&
		p.IndifiDeduction == nil &&
		p.TransactionRef == nil &&
		p.VirtualCode == nil &&
		p.BankAccount == nil
}

// Apply writes the non-nil fields of p onto f.
func (p FactPatch) Apply(f *PaymentFact) {
	if p.Kind != nil {
		f.Kind = *p.Kind
	}
	if p.VirtualAmount != nil {
		f.VirtualAmount = decimal.NewNullDecimal(*p.VirtualAmount)
	}
	if p.BankCredit != nil {
		f.BankCredit = decimal.NewNullDecimal(*p.BankCredit)
	}
	if p.IndifiDeduction != nil {
		f.IndifiDeduction = decimal.NewNullDecimal(*p.IndifiDeduction)
	}
	if p.TransactionRef != nil {
		v := *p.TransactionRef
		f.TransactionRef = &v
	}
	if p.VirtualCode != nil {
		v := *p.VirtualCode
		f.VirtualCode = &v
	}
	if p.BankAccount != nil {
		v := *p.BankAccount
		f.BankAccount = &v
	}
}
