package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/api"
	"github.com/dvloznov/settlement-ledger/internal/bootstrap"
	"github.com/dvloznov/settlement-ledger/internal/config"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load config")
	}

	log := bootstrap.NewLogger(cfg)
	ctx := logger.WithContext(context.Background(), log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer app.Close()

	jobStore, jobQueue := app.NewJobQueue()

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, app.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	deps := api.Deps{
		Facts:     app.Facts,
		Location:  cfg.Location(),
		Lender:    cfg.Lender(),
		JobStore:  jobStore,
		Publisher: jobQueue,
		Metrics:   app.Metrics,
		Log:       log,
	}
	if app.Archiver != nil {
		deps.Uploader = app.Archiver
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("timezone", cfg.Timezone).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdown(log, server, jobQueue, cancelWorker, cfg.Server.ShutdownTimeout)
}

type stoppable interface {
	Stop(ctx context.Context) error
	Close() error
}

func shutdown(log zerolog.Logger, server *http.Server, queue stoppable, cancelWorker context.CancelFunc, timeout time.Duration) {
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight jobs finish before cancelling their context.
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := queue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
