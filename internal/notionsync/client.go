package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/jomei/notionapi"
)

var _ NotionService = (*SettlementsClient)(nil)

// SettlementsClient talks to the settlements database through jomei/notionapi.
type SettlementsClient struct {
	api *notionapi.Client
}

// NewSettlementsClient authenticates with an internal integration token.
func NewSettlementsClient(token string) *SettlementsClient {
	return &SettlementsClient{api: notionapi.NewClient(notionapi.Token(token))}
}

// CreatePage adds a window page to the database.
func (c *SettlementsClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage overwrites the figures of an existing window page.
func (c *SettlementsClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: page %s: %w", pageID, err)
	}
	return page, nil
}

func (c *SettlementsClient) QueryDatabase(ctx context.Context, databaseID string, query *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), query)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// ArchivePage moves a stale window page to the trash.
func (c *SettlementsClient) ArchivePage(ctx context.Context, pageID string) error {
	if _, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Archived: true}); err != nil {
		return fmt.Errorf("ArchivePage: page %s: %w", pageID, err)
	}
	return nil
}

// releaseRangeQuery selects the pages a sync of rng can touch: pages released
// inside the range plus pages missing either the release fact ID or the
// release date.
func releaseRangeQuery(rng report.Range, cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	from := notionapi.Date(rng.Start)
	to := notionapi.Date(rng.End)
	return &notionapi.DatabaseQueryRequest{
		Filter: notionapi.OrCompoundFilter{
			notionapi.AndCompoundFilter{
				notionapi.PropertyFilter{
					Property: PropReleasedAt,
					Date:     &notionapi.DateFilterCondition{OnOrAfter: &from},
				},
				notionapi.PropertyFilter{
					Property: PropReleasedAt,
					Date:     &notionapi.DateFilterCondition{Before: &to},
				},
			},
			notionapi.PropertyFilter{
				Property: PropReleasedAt,
				Date:     &notionapi.DateFilterCondition{IsEmpty: true},
			},
			notionapi.PropertyFilter{
				Property: PropReleaseFactID,
				RichText: &notionapi.TextFilterCondition{IsEmpty: true},
			},
		},
		StartCursor: cursor,
		PageSize:    BatchSize,
	}
}

// queryReleasePages follows cursors until every page matching
// releaseRangeQuery has been read.
func queryReleasePages(ctx context.Context, svc NotionService, databaseID string, rng report.Range) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor
	for {
		resp, err := svc.QueryDatabase(ctx, databaseID, releaseRangeQuery(rng, cursor))
		if err != nil {
			return nil, fmt.Errorf("queryReleasePages: %w", err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}
