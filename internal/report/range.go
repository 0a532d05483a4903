// Package report projects facts and settlement windows into day buckets,
// totals and tabular exports.
package report

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultTimezone is used for day boundaries when none is configured.
const DefaultTimezone = "Asia/Kolkata"

// RangeError rejects a missing or malformed date range.
type RangeError struct {
	Field  string
	Value  string
	Reason string
}

func (e *RangeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Range is a half-open receivedAt interval [Start, End) covering whole days
// From..To in Location.
type Range struct {
	From     civil.Date
	To       civil.Date
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ParseRange reads ISO dates. from is required; to defaults to today in loc
// and is inclusive through the end of that day.
func ParseRange(from, to string, loc *time.Location, now time.Time) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}

	from = strings.TrimSpace(from)
	if from == "" {
		return Range{}, &RangeError{Field: "from", Reason: "required (YYYY-MM-DD)"}
	}
	fromDate, err := civil.ParseDate(from)
	if err != nil {
		return Range{}, &RangeError{Field: "from", Value: from, Reason: "expected YYYY-MM-DD"}
	}

	toDate := civil.DateOf(now.In(loc))
	if to = strings.TrimSpace(to); to != "" {
		toDate, err = civil.ParseDate(to)
		if err != nil {
			return Range{}, &RangeError{Field: "to", Value: to, Reason: "expected YYYY-MM-DD"}
		}
	}

	if toDate.Before(fromDate) {
		return Range{}, &RangeError{Field: "to", Value: toDate.String(), Reason: "before from"}
	}

	return Range{
		From:     fromDate,
		To:       toDate,
		Start:    fromDate.In(loc),
		End:      toDate.AddDays(1).In(loc),
		Location: loc,
	}, nil
}

// LoadLocation resolves name, falling back to DefaultTimezone and then UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}
