package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/bootstrap"
	"github.com/dvloznov/settlement-ledger/internal/config"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/notionsync"
	"github.com/dvloznov/settlement-ledger/internal/report"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load config")
	}
	log := bootstrap.NewLogger(cfg)

	fromStr := flag.String("from", "", "Start date in YYYY-MM-DD format (required)")
	toStr := flag.String("to", "", "End date in YYYY-MM-DD format (default today)")
	notionToken := flag.String("notion-token", cfg.Notion.Token, "Notion API token (or NOTION_TOKEN)")
	notionDBID := flag.String("notion-db-id", cfg.Notion.DatabaseID, "Notion database ID (or NOTION_DATABASE_ID)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	prune := flag.Bool("prune", false, "Archive pages whose settlement window no longer exists")
	flag.Parse()

	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	rng, err := report.ParseRange(*fromStr, *toStr, cfg.Location(), time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Error: invalid date range")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	facts, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open fact store")
	}
	defer facts.Close()

	notionClient := notionsync.NewSettlementsClient(*notionToken)

	res, err := notionsync.SyncSettlements(ctx, facts, notionClient, *notionDBID, rng, notionsync.Options{
		DryRun: *dryRun,
		Prune:  *prune,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d windows, %d created, %d updated, %d archived, %d failed.\n",
		res.Windows, res.Created, res.Updated, res.Archived, res.Failed)
}
