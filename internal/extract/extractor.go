// Package extract classifies payment notification emails and pulls typed
// monetary facts out of their free text.
package extract

import (
	"regexp"
	"strings"

	"github.com/dvloznov/settlement-ledger/internal/amount"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Extractor turns subject/body pairs into drafts. It holds no mutable state
// and is safe for concurrent use.
type Extractor struct {
	opts Options
}

// New creates an Extractor with the given thresholds.
func New(opts Options) *Extractor {
	if opts.MinRefLength <= 0 {
		opts.MinRefLength = DefaultMinRefLength
	}
	return &Extractor{opts: opts}
}

// Options returns the thresholds the extractor was built with.
func (e *Extractor) Options() Options {
	return e.opts
}

// Extract classifies the message and extracts amounts, reference and auxiliary
// fields. A field nothing matched stays null; Extract never fails.
func (e *Extractor) Extract(subject, body string) domain.Draft {
	d := domain.Draft{Kind: Classify(subject, body)}

	switch d.Kind {
	case domain.KindVirtualCredit:
		d.VirtualAmount = firstAmount(virtualAmountPatterns, subject, body)
	case domain.KindReleaseToBank:
		d.BankCredit = firstAmount(releaseAmountPatterns, subject, body)
	case domain.KindEMIDeduction:
		d.IndifiDeduction = firstAmount(deductionAmountPatterns, subject, body)
	}

	// A deduction mentioned inside a credit or release notice is kept apart
	// from the main amount.
	if d.Kind == domain.KindVirtualCredit || d.Kind == domain.KindReleaseToBank {
		if matchesAny(emiMarkers, subject, body) {
			d.IndifiDeduction = firstBodyAmount(emiAmountPatterns, body)
		}
	}

	if d.Kind != domain.KindUnknown {
		d.TransactionRef = e.firstReference(subject, body)
		d.VirtualCode = firstCapture([]*regexp.Regexp{virtualCodePattern}, body)
		if d.Kind == domain.KindReleaseToBank {
			d.BankAccount = firstCapture(bankAccountPatterns, body)
		}
	}

	return e.Normalize(d)
}

// Classify decides the kind of a message. Subject markers take precedence
// over body markers since the body often quotes other notices.
func Classify(subject, body string) domain.FactKind {
	if k := classifyText(subject); k != domain.KindUnknown {
		return k
	}
	return classifyText(body)
}

func classifyText(text string) domain.FactKind {
	if text == "" {
		return domain.KindUnknown
	}
	switch {
	case matchesAny(virtualMarkers, text):
		return domain.KindVirtualCredit
	case matchesAny(releaseMarkers, text):
		return domain.KindReleaseToBank
	case matchesAny(emiMarkers, text), matchesAny(genericDeductionMarkers, text):
		return domain.KindEMIDeduction
	}
	return domain.KindUnknown
}

// Normalize applies the materiality floors, reference validity and the
// one-amount-per-kind rule to a draft from any source.
func (e *Extractor) Normalize(d domain.Draft) domain.Draft {
	if !d.Kind.Valid() {
		d.Kind = domain.KindUnknown
	}

	d.VirtualAmount = floor(d.VirtualAmount, e.opts.CreditFloor)
	d.BankCredit = floor(d.BankCredit, e.opts.CreditFloor)
	d.IndifiDeduction = floor(d.IndifiDeduction, e.opts.DeductionFloor)

	switch d.Kind {
	case domain.KindVirtualCredit:
		d.BankCredit = decimal.NullDecimal{}
	case domain.KindReleaseToBank:
		d.VirtualAmount = decimal.NullDecimal{}
	case domain.KindEMIDeduction, domain.KindUnknown:
		d.VirtualAmount = decimal.NullDecimal{}
		d.BankCredit = decimal.NullDecimal{}
	}

	if d.TransactionRef != nil && !e.ValidReference(*d.TransactionRef) {
		d.TransactionRef = nil
	}
	d.VirtualCode = trimmed(d.VirtualCode)
	d.BankAccount = trimmed(d.BankAccount)

	return d
}

// ValidReference reports whether ref is long enough and looks like an
// identifier rather than a word.
func (e *Extractor) ValidReference(ref string) bool {
	if len(ref) < e.opts.MinRefLength || len(ref) > maxRefLength {
		return false
	}
	return strings.ContainsAny(ref, "0123456789")
}

func (e *Extractor) firstReference(subject, body string) *string {
	for _, re := range referencePatterns {
		for _, text := range []string{body, subject} {
			for start := 0; start < len(text); {
				loc := re.FindStringSubmatchIndex(text[start:])
				if loc == nil {
					break
				}
				candidate := strings.TrimRight(text[start+loc[2]:start+loc[3]], "/_-")
				if e.ValidReference(candidate) {
					return &candidate
				}
				start += loc[0] + 1
			}
		}
	}
	return nil
}

// firstAmount runs the table against the body and falls back to a bare
// currency amount in the subject. The first pattern that matches decides,
// even when its value later falls under the floor.
func firstAmount(patterns []*regexp.Regexp, subject, body string) decimal.NullDecimal {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return amount.Parse(m[1])
		}
	}
	if m := subjectAmountPattern.FindStringSubmatch(subject); m != nil {
		return amount.Parse(m[1])
	}
	return decimal.NullDecimal{}
}

func firstBodyAmount(patterns []*regexp.Regexp, body string) decimal.NullDecimal {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return amount.Parse(m[1])
		}
	}
	return decimal.NullDecimal{}
}

func firstCapture(patterns []*regexp.Regexp, text string) *string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return domain.StringPtr(strings.TrimSpace(m[1]))
		}
	}
	return nil
}

func matchesAny(patterns []*regexp.Regexp, texts ...string) bool {
	for _, re := range patterns {
		for _, t := range texts {
			if re.MatchString(t) {
				return true
			}
		}
	}
	return false
}

func floor(v decimal.NullDecimal, threshold decimal.Decimal) decimal.NullDecimal {
	if !v.Valid || v.Decimal.IsNegative() || v.Decimal.LessThan(threshold) {
		return decimal.NullDecimal{}
	}
	return v
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	return domain.StringPtr(strings.TrimSpace(*p))
}
