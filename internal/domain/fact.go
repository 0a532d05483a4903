package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FactKind classifies a notification email.
type FactKind string

const (
	KindVirtualCredit FactKind = "virtual_credit"
	KindReleaseToBank FactKind = "release_to_bank"
	KindEMIDeduction  FactKind = "emi_deduction_explicit"
	KindUnknown       FactKind = "unknown"
)

// Valid reports whether k is one of the known kinds.
func (k FactKind) Valid() bool {
	switch k {
	case KindVirtualCredit, KindReleaseToBank, KindEMIDeduction, KindUnknown:
		return true
	}
	return false
}

// RawMessage is one email as delivered by the mail source.
// Listing calls return stubs that only carry ExternalID.
type RawMessage struct {
	ExternalID string    `json:"external_id"`
	Subject    string    `json:"subject"`
	BodyText   string    `json:"body_text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Draft is what the extractor derives from a subject/body pair.
// Every optional field defaults to null.
type Draft struct {
	Kind            FactKind            `json:"kind"`
	VirtualAmount   decimal.NullDecimal `json:"virtual_amount"`
	BankCredit      decimal.NullDecimal `json:"bank_credit"`
	IndifiDeduction decimal.NullDecimal `json:"indifi_deduction"`
	TransactionRef  *string             `json:"transaction_ref"`
	VirtualCode     *string             `json:"virtual_code"`
	BankAccount     *string             `json:"bank_account"`
}

// PaymentFact is the persisted form of one ingested email.
type PaymentFact struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	ReceivedAt time.Time `json:"received_at"`
	Draft
	RawSubject string    `json:"raw_subject"`
	RawBody    string    `json:"raw_body"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// ReparsedAt is when a reparse pass last tried to complete the fact.
	ReparsedAt *time.Time `json:"reparsed_at,omitempty"`
}

// NewPaymentFact builds a fact for msg from an extraction result.
func NewPaymentFact(id string, msg RawMessage, d Draft, now time.Time) PaymentFact {
	return PaymentFact{
		ID:         id,
		ExternalID: msg.ExternalID,
		ReceivedAt: msg.ReceivedAt,
		Draft:      d,
		RawSubject: msg.Subject,
		RawBody:    msg.BodyText,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Incomplete reports whether the fact is missing a field its kind should carry.
func (f PaymentFact) Incomplete() bool {
	if f.TransactionRef == nil {
		return true
	}
	switch f.Kind {
	case KindUnknown:
		return true
	case KindVirtualCredit:
		return !f.VirtualAmount.Valid
	case KindReleaseToBank:
		return !f.BankCredit.Valid
	case KindEMIDeduction:
		return !f.IndifiDeduction.Valid
	}
	return false
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
