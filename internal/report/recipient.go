package report

import (
	"strings"

	"github.com/dvloznov/settlement-ledger/internal/domain"
)

// DefaultLenderAccount is the account name releases to the lender carry.
const DefaultLenderAccount = "Indifi Capital Pvt Ltd"

// Lender recognises releases paid to the lender's account. Every other
// release went to the merchant's own account.
type Lender struct {
	name string
}

// NewLender matches accounts containing name, ignoring case and spacing.
// An empty name matches nothing.
func NewLender(name string) Lender {
	return Lender{name: normalizeAccount(name)}
}

// Owns reports whether account belongs to the lender.
func (l Lender) Owns(account *string) bool {
	if l.name == "" || account == nil {
		return false
	}
	return strings.Contains(normalizeAccount(*account), l.name)
}

// Receives reports whether release f was paid to the lender. The extracted
// account is checked first and the raw body is the fallback when none was
// extracted.
func (l Lender) Receives(f domain.PaymentFact) bool {
	if f.BankAccount != nil {
		return l.Owns(f.BankAccount)
	}
	body := f.RawBody
	return l.Owns(&body)
}

func normalizeAccount(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
