package extract

import "regexp"

const (
	currency = `(?:INR|Rs\.?|₹)\s*`
	number   = `([0-9][0-9,]*(?:\.[0-9]+)?)`
	money    = currency + number

	bankTarget = `(?:your\s+|the\s+)?(?:registered\s+)?bank`

	// "No.", "ID" or "Number" plus an optional separator after a label.
	refLabelSuffix = `(?:(?:no\b\.?|id\b|number\b)\s*)?[:#-]?\s*`
)

func mustCompileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Classification markers, checked against subject and body.
var (
	virtualMarkers = mustCompileAll(
		`payment\s+received\s+in\s+virtual\s+account`,
		`credited\s+to\s+(?:your\s+)?virtual\s+(?:code|account)`,
		`received\s+in\s+(?:your\s+)?virtual\s+account`,
	)

	// "succesfull" and friends show up in real subjects.
	releaseMarkers = mustCompileAll(
		`payment\s+release\s+succ?ess?ful+`,
		`released\s+to\s+`+bankTarget+`\s+account`,
		`(?:transferred|credited)\s+to\s+`+bankTarget+`\s+account`,
	)

	emiMarkers = mustCompileAll(
		`\bEMI\s*(?:deduction|deducted|debited)`,
		`\bEMI\s+(?:amount\s+)?(?:of\s+)?`+money+`\s+(?:has\s+been\s+)?(?:deducted|debited)`,
	)

	genericDeductionMarkers = mustCompileAll(
		`\bdeducted\b`,
		`\bdebited\b`,
	)
)

// Amount tables, most anchored first. Each has exactly one capture group.
var (
	virtualAmountPatterns = mustCompileAll(
		`amount\s+of\s+`+money+`\s+has\s+been\s+credited\s+to\s+(?:your\s+)?virtual\s+(?:code|account)`,
		money+`\s+has\s+been\s+credited\s+to\s+(?:your\s+)?virtual\s+(?:code|account)`,
		`amount\s+of\s+`+money,
		`credited\b.*?`+money,
	)

	releaseAmountPatterns = mustCompileAll(
		`amount\s+of\s+`+money+`\s+has\s+been\s+(?:released|transferred|credited)\s+to\s+`+bankTarget,
		money+`\s+(?:has\s+been\s+)?(?:released|transferred|credited)\s+to\s+`+bankTarget,
		`amount\s+of\s+`+money,
		`(?:transferred|credited|released)\s+.*?\bbank\b.*?`+money,
		`(?:released|transferred)\b.*?`+money,
	)

	// Only EMI-worded patterns run when the message is primarily a credit or release.
	emiAmountPatterns = mustCompileAll(
		`\bEMI\s+(?:amount\s+)?(?:of\s+)?`+money+`\s+(?:has\s+been\s+)?(?:deducted|debited)`,
		`\bEMI\s*(?:deduction|deducted|debited)\D*?`+money,
	)

	genericDeductionAmountPatterns = mustCompileAll(
		money+`\s+(?:has\s+been\s+)?(?:deducted|debited)`,
		`(?:deducted|debited?)\D*?`+money,
	)

	deductionAmountPatterns = append(append([]*regexp.Regexp{}, emiAmountPatterns...), genericDeductionAmountPatterns...)

	subjectAmountPattern = regexp.MustCompile(`(?i)` + money)
)

// Reference tables. Every match position is considered, in order, including
// overlapping ones such as "Transaction reference: X".
var referencePatterns = mustCompileAll(
	`\bvide\s+(?:(?:UTR|ref(?:erence)?|txn)\b\s*`+refLabelSuffix+`)?([A-Za-z0-9][A-Za-z0-9/_-]*)`,
	`\b(?:UTR|Ref(?:erence)?|TXN|Transaction)\b\s*`+refLabelSuffix+`([A-Za-z0-9][A-Za-z0-9/_-]*)`,
)

var (
	virtualCodePattern = regexp.MustCompile(`(?i)virtual\s+(?:code|account)\s*` + refLabelSuffix + `([A-Za-z0-9]*[0-9][A-Za-z0-9]*)`)

	bankAccountPatterns = mustCompileAll(
		`released\s+to\s+`+bankTarget+`\s+account\s+(?:of\s+)?([A-Za-z0-9&.,' ]+?\s*-\s*[0-9Xx*]{4,})`,
		`bank\s+account\s+(?:no\.?|number)?\s*[:#-]?\s*([0-9Xx*]{4,})`,
	)
)
