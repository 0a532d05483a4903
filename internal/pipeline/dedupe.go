package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
)

// FilterNew drops messages whose ExternalID is in existing, and repeats of
// an ExternalID already seen earlier in msgs. Order is preserved.
func FilterNew(msgs []domain.RawMessage, existing map[string]struct{}) []domain.RawMessage {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]domain.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := existing[m.ExternalID]; ok {
			continue
		}
		if _, ok := seen[m.ExternalID]; ok {
			continue
		}
		seen[m.ExternalID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func externalIDs(msgs []domain.RawMessage) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ExternalID)
	}
	return ids
}

// Subject filters for the default mailbox search. The misspelt release
// subject is sent by the lender as-is.
var defaultSubjects = []string{
	`(subject:"Payment Received in virtual account")`,
	`(subject:"Payment release successful")`,
	`(subject:"Payment release succesfull")`,
}

// BuildQuery returns the mailbox search for messages received after the
// given instant. A non-empty override replaces the subject filters.
func BuildQuery(override string, after time.Time) string {
	window := fmt.Sprintf("after:%d", after.Unix())
	if override = strings.TrimSpace(override); override != "" {
		return override + " " + window
	}
	return strings.Join(defaultSubjects, " OR ") + " " + window
}

// ClampDays applies the default to zero and bounds the backfill window.
func ClampDays(days int) int {
	switch {
	case days == 0:
		return DefaultSyncDays
	case days < 1:
		return 1
	case days > MaxSyncDays:
		return MaxSyncDays
	}
	return days
}
