// Package bootstrap turns a loaded Config into the wired collaborators the
// binaries share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/settlement-ledger/internal/config"
	"github.com/dvloznov/settlement-ledger/internal/extract"
	"github.com/dvloznov/settlement-ledger/internal/gcsuploader"
	infraBQ "github.com/dvloznov/settlement-ledger/internal/infra/bigquery"
	"github.com/dvloznov/settlement-ledger/internal/infra/memory"
	"github.com/dvloznov/settlement-ledger/internal/infra/sqlite"
	"github.com/dvloznov/settlement-ledger/internal/jobs"
	"github.com/dvloznov/settlement-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/mail/gmail"
	"github.com/dvloznov/settlement-ledger/internal/metrics"
	"github.com/dvloznov/settlement-ledger/internal/pipeline"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/rs/zerolog"
)

// JobQueueSize is the number of queued jobs before Publish blocks.
const JobQueueSize = 100

// App holds the collaborators built from one Config.
type App struct {
	Config    config.Config
	Log       zerolog.Logger
	Facts     store.FactStore
	Extractor *extract.Extractor
	Metrics   *metrics.Metrics

	// Ingestor is nil when no mailbox credentials are configured.
	Ingestor *pipeline.Ingestor
	// Archiver is nil when no archive bucket is configured.
	Archiver *gcsuploader.Archiver

	closers []func() error
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg config.Config) zerolog.Logger {
	return logger.NewWithOptions(os.Stdout, logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// OpenStore opens the fact store selected by store.driver.
func OpenStore(ctx context.Context, cfg config.Config) (store.FactStore, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return memory.NewStore(), nil
	case config.StoreSQLite:
		st, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	case config.StoreBigQuery:
		repo, err := infraBQ.NewFactRepository(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.DatasetID)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("OpenStore: unknown driver %q", cfg.Store.Driver)
}

// New opens the store and builds every optional collaborator the config
// enables. The caller must Close the App.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	opts, err := cfg.ExtractOptions()
	if err != nil {
		return nil, err
	}

	facts, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Log:       log,
		Facts:     facts,
		Extractor: extract.New(opts),
		Metrics:   metrics.New(),
		closers:   []func() error{facts.Close},
	}

	if cfg.Archive.Bucket != "" {
		objects, err := gcsuploader.NewGCSObjectStore(ctx, cfg.Archive.Bucket)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: archive bucket: %w", err)
		}
		app.closers = append(app.closers, objects.Close)
		app.Archiver = gcsuploader.NewArchiver(objects)
	}

	if cfg.Gmail.Configured() {
		if err := app.buildIngestor(ctx); err != nil {
			app.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("No mailbox credentials configured - sync is disabled")
	}

	log.Info().
		Str("store", cfg.Store.Driver).
		Bool("mailbox", app.Ingestor != nil).
		Bool("archive", app.Archiver != nil).
		Bool("classifier", cfg.Gemini.Enabled).
		Msg("Application initialized")

	return app, nil
}

func (a *App) buildIngestor(ctx context.Context) error {
	cfg := a.Config

	src, err := gmail.NewSource(ctx, gmail.Credentials{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RefreshToken: cfg.Gmail.RefreshToken,
		RedirectURI:  cfg.Gmail.RedirectURI,
	}, cfg.Gmail.RequestsPerSecond, cfg.Gmail.Burst)
	if err != nil {
		return fmt.Errorf("bootstrap: mailbox: %w", err)
	}

	ing := &pipeline.Ingestor{
		Source:       src,
		Store:        a.Facts,
		Extractor:    a.Extractor,
		Metrics:      a.Metrics,
		MaxPages:     cfg.Ingest.MaxPages,
		DefaultDays:  cfg.Ingest.Days,
		DefaultQuery: cfg.Ingest.Query,
	}
	if runs, ok := a.Facts.(store.RunRecorder); ok {
		ing.Runs = runs
	}
	// Optional collaborators stay untyped nil when disabled.
	if a.Archiver != nil {
		ing.Archive = a.Archiver
	}
	if cfg.Gemini.Enabled {
		classifier, err := pipeline.NewGeminiClassifier(ctx, cfg.Gemini.Model)
		if err != nil {
			return fmt.Errorf("bootstrap: classifier: %w", err)
		}
		ing.Classifier = classifier
	}

	a.Ingestor = ing
	return nil
}

// JobHandler dispatches queued jobs to the ingestor and re-derivation.
func (a *App) JobHandler() jobs.JobHandler {
	h := &jobs.LedgerHandler{
		Store:     a.Facts,
		Extractor: a.Extractor,
		Metrics:   a.Metrics,
	}
	if a.Ingestor != nil {
		h.Syncer = a.Ingestor
	}
	return h.Handle
}

// NewJobQueue builds the in-memory job store and worker pool.
func (a *App) NewJobQueue() (*inmemory.Store, *inmemory.Queue) {
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(JobQueueSize, jobStore, inmemory.QueueOptions{
		Workers:    a.Config.Jobs.Workers,
		MaxRetries: a.Config.Jobs.MaxRetries,
		Metrics:    a.Metrics,
	})
	return jobStore, queue
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
