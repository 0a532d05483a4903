package notionsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/infra/memory"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockNotionService is a mock implementation of NotionService.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	ArchivePageFunc   func(ctx context.Context, pageID string) error
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.CreatePageFunc(ctx, databaseID, properties)
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.UpdatePageFunc(ctx, pageID, properties)
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return m.QueryDatabaseFunc(ctx, databaseID, filter)
}

func (m *MockNotionService) ArchivePage(ctx context.Context, pageID string) error {
	return m.ArchivePageFunc(ctx, pageID)
}

var ist = report.LoadLocation(report.DefaultTimezone)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestWindowToNotionProperties(t *testing.T) {
	start := time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)
	w := settlement.Window{
		WindowStart:       start,
		WindowEnd:         start.Add(2 * time.Hour),
		ReleaseAt:         start.Add(2 * time.Hour),
		CreditsCount:      2,
		TotalVirtual:      decimal.RequireFromString("3000"),
		BankCredit:        decimal.RequireFromString("2700.5"),
		InferredDeduction: decimal.RequireFromString("299.5"),
		ReleaseFactID:     "r1",
	}

	props := WindowToNotionProperties(w, ist)

	title, ok := props[PropReleaseFactID].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "r1", title.Title[0].Text.Content)

	assert.Equal(t, notionapi.NumberProperty{Number: 2}, props[PropCredits])
	assert.Equal(t, notionapi.NumberProperty{Number: 3000}, props[PropTotalVirtual])
	assert.Equal(t, notionapi.NumberProperty{Number: 2700.5}, props[PropReleasedToBank])
	assert.Equal(t, notionapi.NumberProperty{Number: 299.5}, props[PropDeduction])

	released, ok := props[PropReleasedAt].(notionapi.DateProperty)
	require.True(t, ok)
	assert.Equal(t, ist, time.Time(*released.Date.Start).Location())
	assert.True(t, w.ReleaseAt.Equal(time.Time(*released.Date.Start)))

	assert.NotContains(t, props, PropExplicitDeduction)
	assert.NotContains(t, props, PropReleaseRef)

	w.ExplicitDeduction = nd("250")
	w.ReleaseRef = domain.StringPtr("UTR2024")
	props = WindowToNotionProperties(w, nil)
	assert.Equal(t, notionapi.NumberProperty{Number: 250}, props[PropExplicitDeduction])
	assert.Equal(t, notionapi.NumberProperty{Number: 250}, props[PropDeduction])
	ref, ok := props[PropReleaseRef].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "UTR2024", ref.RichText[0].Text.Content)
}

func notionPage(id, releaseID string, released time.Time) notionapi.Page {
	props := notionapi.Properties{}
	if releaseID != "" {
		props[PropReleaseFactID] = &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: releaseID}}}
	}
	if !released.IsZero() {
		d := notionapi.Date(released)
		props[PropReleasedAt] = &notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.NewStore()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	facts := []domain.PaymentFact{
		{ID: "c1", ExternalID: "m1", ReceivedAt: base, Draft: domain.Draft{Kind: domain.KindVirtualCredit, VirtualAmount: nd("1000")}},
		{ID: "r1", ExternalID: "m2", ReceivedAt: base.Add(time.Hour), Draft: domain.Draft{Kind: domain.KindReleaseToBank, BankCredit: nd("900")}},
		{ID: "c2", ExternalID: "m3", ReceivedAt: base.Add(24 * time.Hour), Draft: domain.Draft{Kind: domain.KindVirtualCredit, VirtualAmount: nd("500")}},
		{ID: "r2", ExternalID: "m4", ReceivedAt: base.Add(25 * time.Hour), Draft: domain.Draft{Kind: domain.KindReleaseToBank, BankCredit: nd("500")}},
	}
	for i := range facts {
		require.NoError(t, st.InsertFact(context.Background(), &facts[i]))
	}
	return st
}

func mustRange(t *testing.T, from, to string) report.Range {
	t.Helper()
	rng, err := report.ParseRange(from, to, ist, time.Now())
	require.NoError(t, err)
	return rng
}

func TestSyncSettlementsUpserts(t *testing.T) {
	st := seedStore(t)
	inRange := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	outOfRange := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	var created, updated, archived []string
	var cursors []notionapi.Cursor
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			assert.Equal(t, "db-1", databaseID)
			cursors = append(cursors, filter.StartCursor)
			assert.NotNil(t, filter.Filter)
			if filter.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{notionPage("page-r1", "r1", inRange)},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{
				notionPage("page-gone", "r-deleted", inRange),
				notionPage("page-old", "r-old", outOfRange),
				notionPage("page-untitled", "", time.Time{}),
			}}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			title := properties[PropReleaseFactID].(notionapi.TitleProperty)
			created = append(created, title.Title[0].Text.Content)
			return &notionapi.Page{ID: "page-new"}, nil
		},
		UpdatePageFunc: func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
			updated = append(updated, pageID)
			return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
		},
		ArchivePageFunc: func(ctx context.Context, pageID string) error {
			archived = append(archived, pageID)
			return nil
		},
	}

	res, err := SyncSettlements(context.Background(), st, mock, "db-1", mustRange(t, "2024-05-01", "2024-05-31"), Options{Prune: true})
	require.NoError(t, err)

	assert.Equal(t, []notionapi.Cursor{"", "next"}, cursors)
	assert.Equal(t, &SyncResult{Windows: 2, Created: 1, Updated: 1, Archived: 2}, res)
	assert.Equal(t, []string{"r2"}, created)
	assert.Equal(t, []string{"page-r1"}, updated)
	assert.ElementsMatch(t, []string{"page-gone", "page-untitled"}, archived)
}

func TestReleaseRangeQuery(t *testing.T) {
	rng := mustRange(t, "2024-05-01", "2024-05-31")

	q := releaseRangeQuery(rng, "abc")
	assert.Equal(t, notionapi.Cursor("abc"), q.StartCursor)
	assert.Equal(t, BatchSize, q.PageSize)

	or, ok := q.Filter.(notionapi.OrCompoundFilter)
	require.True(t, ok)
	require.Len(t, or, 3)

	window, ok := or[0].(notionapi.AndCompoundFilter)
	require.True(t, ok)
	require.Len(t, window, 2)
	from := window[0].(notionapi.PropertyFilter)
	to := window[1].(notionapi.PropertyFilter)
	assert.Equal(t, PropReleasedAt, from.Property)
	assert.True(t, rng.Start.Equal(time.Time(*from.Date.OnOrAfter)))
	assert.True(t, rng.End.Equal(time.Time(*to.Date.Before)))

	undated := or[1].(notionapi.PropertyFilter)
	assert.Equal(t, PropReleasedAt, undated.Property)
	assert.True(t, undated.Date.IsEmpty)

	untitled := or[2].(notionapi.PropertyFilter)
	assert.Equal(t, PropReleaseFactID, untitled.Property)
	assert.True(t, untitled.RichText.IsEmpty)
}

func TestSyncSettlementsDryRun(t *testing.T) {
	st := seedStore(t)
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{notionPage("page-r1", "r1", time.Time{})}}, nil
		},
	}

	res, err := SyncSettlements(context.Background(), st, mock, "db-1", mustRange(t, "2024-05-01", "2024-05-31"), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Windows: 2, Created: 1, Updated: 1}, res)
}

func TestSyncSettlementsFailures(t *testing.T) {
	st := seedStore(t)
	rng := mustRange(t, "2024-05-01", "2024-05-31")

	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, errors.New("unauthorized")
		},
	}
	_, err := SyncSettlements(context.Background(), st, mock, "db-1", rng, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	calls := 0
	mock = &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			calls++
			if calls == 1 {
				return nil, fmt.Errorf("rate limited")
			}
			return &notionapi.Page{ID: "ok"}, nil
		},
	}
	res, err := SyncSettlements(context.Background(), st, mock, "db-1", rng, Options{})
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Windows: 2, Created: 1, Failed: 1}, res)
}
