package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/bootstrap"
	"github.com/dvloznov/settlement-ledger/internal/config"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/pipeline"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var run func(ctx context.Context, app *bootstrap.App, args []string) error
	switch os.Args[1] {
	case "sync":
		run = runSync
	case "reparse":
		run = runReparse
	case "summary":
		run = runSummary
	case "export":
		run = runExport
	case "replay":
		run = runReplay
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load config")
	}
	log := bootstrap.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	err = run(ctx, app, os.Args[2:])
	app.Close()
	if err != nil {
		exitOnError(log, err)
	}
}

func printUsage() {
	fmt.Println("Settlement Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync      Pull new notification emails into the ledger")
	fmt.Println("  reparse   Re-derive missing fields of stored facts")
	fmt.Println("  summary   Print settlement windows and totals for a date range")
	fmt.Println("  export    Write facts, settlements, daily rows or totals as CSV or Parquet")
	fmt.Println("  replay    Re-run extraction on an archived raw message")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func exitOnError(log zerolog.Logger, err error) {
	var rangeErr *report.RangeError
	if errors.As(err, &rangeErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", rangeErr)
		os.Exit(1)
	}
	log.Fatal().Err(err).Msg("Command failed")
}

func runSync(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	days := fs.Int("days", 0, "Look back this many days (default from config)")
	query := fs.String("q", "", "Mailbox query replacing the default subject filters")
	fs.Parse(args)

	if app.Ingestor == nil {
		return fmt.Errorf("sync: mailbox credentials are not configured")
	}

	res, err := app.Ingestor.Sync(ctx, pipeline.SyncRequest{Days: *days, Query: *query})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func runReparse(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("reparse", flag.ExitOnError)
	limit := fs.Int("limit", pipeline.DefaultReparseLimit, "Maximum facts to re-derive")
	fs.Parse(args)

	res, err := pipeline.Reparse(ctx, app.Facts, app.Extractor, app.Metrics, *limit)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func rangeFlags(fs *flag.FlagSet) (from, to *string) {
	from = fs.String("from", "", "Start date YYYY-MM-DD (required)")
	to = fs.String("to", "", "End date YYYY-MM-DD, inclusive (default today)")
	return from, to
}

func runSummary(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	from, to := rangeFlags(fs)
	fs.Parse(args)

	rng, err := report.ParseRange(*from, *to, app.Config.Location(), time.Now())
	if err != nil {
		return err
	}
	facts, err := app.Facts.QueryFacts(ctx, rng.Start, rng.End)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, struct {
		settlement.Result
		Totals report.Totals `json:"totals"`
	}{settlement.Reconstruct(facts), report.ComputeTotals(facts, app.Config.Lender())})
}

func runExport(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	from, to := rangeFlags(fs)
	kind := fs.String("kind", "settlements", "What to export: facts, settlements, daily or totals")
	formatName := fs.String("format", "csv", "csv or parquet (facts and settlements only)")
	out := fs.String("out", "", "Output file (default stdout)")
	fs.Parse(args)

	format, err := report.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	loc := app.Config.Location()
	rng, err := report.ParseRange(*from, *to, loc, time.Now())
	if err != nil {
		return err
	}
	facts, err := app.Facts.QueryFacts(ctx, rng.Start, rng.End)
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		defer f.Close()
		w = f
	}

	parquet := format == report.FormatParquet
	switch *kind {
	case "facts":
		if parquet {
			return report.WriteFactsParquet(w, facts, loc)
		}
		return report.WriteFactsCSV(w, facts, loc)
	case "settlements":
		windows := settlement.Reconstruct(facts).Settlements
		if parquet {
			return report.WriteSettlementsParquet(w, windows, loc)
		}
		return report.WriteSettlementsCSV(w, windows, loc)
	case "daily":
		if parquet {
			return fmt.Errorf("export: daily rows are CSV only")
		}
		return report.WriteDailyCSV(w, report.BucketFactsByDay(facts, rng, loc, app.Config.Lender()))
	case "totals":
		if parquet {
			return fmt.Errorf("export: totals are CSV only")
		}
		return report.WriteTotalsCSV(w, rng, report.ComputeTotals(facts, app.Config.Lender()))
	}
	return fmt.Errorf("export: unknown kind %q", *kind)
}

func runReplay(ctx context.Context, app *bootstrap.App, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	uri := fs.String("uri", "", "gs:// URI of an archived raw message (required)")
	fs.Parse(args)

	if *uri == "" {
		return fmt.Errorf("replay: -uri is required")
	}
	if app.Archiver == nil {
		return fmt.Errorf("replay: archive.bucket is not configured")
	}

	msg, err := app.Archiver.LoadRawMessage(ctx, *uri)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]interface{}{
		"external_id": msg.ExternalID,
		"received_at": msg.ReceivedAt,
		"draft":       app.Extractor.Extract(msg.Subject, msg.BodyText),
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
