package notionsync

import (
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

// Property names of the settlements database.
const (
	PropReleaseFactID     = "Release Fact ID"
	PropWindowStart       = "Window Start"
	PropWindowEnd         = "Window End"
	PropReleasedAt        = "Released At"
	PropCredits           = "Credits"
	PropTotalVirtual      = "Total Virtual (INR)"
	PropReleasedToBank    = "Released to Bank (INR)"
	PropDeduction         = "Deduction (INR)"
	PropExplicitDeduction = "Explicit Deduction (INR)"
	PropReleaseRef        = "Release Ref"
)

// WindowToNotionProperties converts a settlement window into page properties.
// The release fact ID is the page title and identifies the window across syncs.
func WindowToNotionProperties(w settlement.Window, loc *time.Location) notionapi.Properties {
	if loc == nil {
		loc = time.UTC
	}

	props := notionapi.Properties{
		PropReleaseFactID: notionapi.TitleProperty{
			Title: []notionapi.RichText{textValue(w.ReleaseFactID)},
		},
		PropWindowStart:    dateProperty(w.WindowStart.In(loc)),
		PropWindowEnd:      dateProperty(w.WindowEnd.In(loc)),
		PropReleasedAt:     dateProperty(w.ReleaseAt.In(loc)),
		PropCredits:        notionapi.NumberProperty{Number: float64(w.CreditsCount)},
		PropTotalVirtual:   numberProperty(w.TotalVirtual),
		PropReleasedToBank: numberProperty(w.BankCredit),
		PropDeduction:      numberProperty(w.Deduction()),
	}

	if w.ExplicitDeduction.Valid {
		props[PropExplicitDeduction] = numberProperty(w.ExplicitDeduction.Decimal)
	}
	if ref := domain.StringValue(w.ReleaseRef); ref != "" {
		props[PropReleaseRef] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{textValue(ref)},
		}
	}

	return props
}

func textValue(s string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

func numberProperty(d decimal.Decimal) notionapi.NumberProperty {
	return notionapi.NumberProperty{Number: d.Round(2).InexactFloat64()}
}

// releaseFactID reads the title back from a queried page. Returns "" if the
// page has none.
func releaseFactID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropReleaseFactID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}

// releasedAt reads the release timestamp back from a queried page.
func releasedAt(page notionapi.Page) (time.Time, bool) {
	if prop, ok := page.Properties[PropReleasedAt]; ok {
		if date, ok := prop.(*notionapi.DateProperty); ok && date.Date != nil && date.Date.Start != nil {
			return time.Time(*date.Date.Start), true
		}
	}
	return time.Time{}, false
}
