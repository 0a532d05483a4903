// Package notionsync mirrors reconstructed settlement windows into a Notion
// database, one page per window keyed by its release fact.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/jomei/notionapi"
)

// BatchSize is the Notion query page size and the logging batch size.
const BatchSize = 100

// Options controls a settlement sync.
type Options struct {
	// DryRun logs the changes without calling the write endpoints.
	DryRun bool
	// Prune archives pages released inside the range whose window no longer
	// exists, plus pages without a release fact ID.
	Prune bool
}

// SyncResult counts what a sync did.
type SyncResult struct {
	Windows  int `json:"windows"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SyncSettlements reconstructs the windows of rng from facts and upserts one
// Notion page per window. Existing pages are matched on the release fact ID
// and updated in place, so a reparse that changes window figures is picked
// up by the next sync. Per-page failures are logged and counted.
func SyncSettlements(ctx context.Context, facts store.FactStore, notionClient NotionService, notionDBID string, rng report.Range, opts Options) (*SyncResult, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Str("from", rng.From.String()).
		Str("to", rng.To.String()).
		Bool("dry_run", opts.DryRun).
		Bool("prune", opts.Prune).
		Msg("Starting settlement sync to Notion")

	rows, err := facts.QueryFacts(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("SyncSettlements: query facts: %w", err)
	}
	windows := settlement.Reconstruct(rows).Settlements

	log.Info().Int("fact_count", len(rows)).Int("window_count", len(windows)).Msg("Reconstructed settlement windows")

	notionPages, err := queryReleasePages(ctx, notionClient, notionDBID, rng)
	if err != nil {
		return nil, fmt.Errorf("SyncSettlements: query Notion pages: %w", err)
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	existing := make(map[string]string, len(notionPages)) // release fact ID -> page ID
	for _, page := range notionPages {
		if id := releaseFactID(page); id != "" {
			existing[id] = string(page.ID)
		}
	}

	res := &SyncResult{Windows: len(windows)}

	if opts.Prune {
		current := make(map[string]bool, len(windows))
		for _, w := range windows {
			current[w.ReleaseFactID] = true
		}
		for _, page := range notionPages {
			if !isStale(page, current, rng) {
				continue
			}
			pageLog := log.With().Str("release_fact_id", releaseFactID(page)).Str("page_id", string(page.ID)).Logger()
			if opts.DryRun {
				pageLog.Info().Msg("[DRY RUN] Would archive stale Notion page")
				res.Archived++
				continue
			}
			if err := notionClient.ArchivePage(ctx, string(page.ID)); err != nil {
				pageLog.Warn().Err(err).Msg("Failed to archive stale Notion page")
				res.Failed++
				continue
			}
			pageLog.Info().Msg("Archived stale Notion page")
			res.Archived++
		}
	}

	for i := 0; i < len(windows); i += BatchSize {
		end := i + BatchSize
		if end > len(windows) {
			end = len(windows)
		}
		log.Debug().Int("batch_start", i).Int("batch_end", end).Msg("Processing batch")

		for _, w := range windows[i:end] {
			upsertWindow(ctx, notionClient, notionDBID, w, rng, existing[w.ReleaseFactID], opts.DryRun, res)
		}
	}

	log.Info().
		Int("windows", res.Windows).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Settlement sync completed")

	return res, nil
}

func upsertWindow(ctx context.Context, notionClient NotionService, notionDBID string, w settlement.Window, rng report.Range, pageID string, dryRun bool, res *SyncResult) {
	log := logger.FromContext(ctx).With().Str("release_fact_id", w.ReleaseFactID).Logger()

	if dryRun {
		if pageID != "" {
			log.Info().Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
			res.Updated++
		} else {
			log.Info().Msg("[DRY RUN] Would create Notion page")
			res.Created++
		}
		return
	}

	props := WindowToNotionProperties(w, rng.Location)

	if pageID != "" {
		if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
			log.Warn().Err(err).Str("page_id", pageID).Msg("Failed to update Notion page")
			res.Failed++
			return
		}
		log.Info().Str("page_id", pageID).Msg("Updated Notion page")
		res.Updated++
		return
	}

	page, err := notionClient.CreatePage(ctx, notionDBID, props)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create Notion page")
		res.Failed++
		return
	}
	log.Info().Str("page_id", string(page.ID)).Msg("Created Notion page")
	res.Created++
}

// isStale reports whether a page should be archived. Pages released outside
// rng are left alone since their windows were not reconstructed.
func isStale(page notionapi.Page, current map[string]bool, rng report.Range) bool {
	id := releaseFactID(page)
	if id == "" {
		return true
	}
	if current[id] {
		return false
	}
	at, ok := releasedAt(page)
	return ok && rng.Contains(at)
}
