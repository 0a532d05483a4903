package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/bootstrap"
	"github.com/dvloznov/settlement-ledger/internal/config"
	"github.com/dvloznov/settlement-ledger/internal/jobs"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load config")
	}
	log := bootstrap.NewLogger(cfg)

	interval := flag.Duration("interval", 15*time.Minute, "Time between scheduled mailbox syncs")
	reparse := flag.Bool("reparse", true, "Queue a reparse pass after every sync")
	flag.Parse()

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer app.Close()

	if app.Ingestor == nil {
		log.Fatal().Msg("Worker needs mailbox credentials (GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET, GMAIL_REFRESH_TOKEN)")
	}

	_, jobQueue := app.NewJobQueue()
	if err := jobQueue.Start(ctx, app.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Dur("interval", *interval).Bool("reparse", *reparse).Msg("Worker service started")

	go schedule(ctx, log, jobQueue, *interval, scheduledJobs(*reparse))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancel()

	log.Info().Msg("Worker service stopped")
}

// scheduledJobs returns the jobs queued on every tick.
func scheduledJobs(reparse bool) func() []*jobs.Job {
	return func() []*jobs.Job {
		out := []*jobs.Job{jobs.NewSyncJob(jobs.SyncParams{})}
		if reparse {
			out = append(out, jobs.NewReparseJob(jobs.ReparseParams{}))
		}
		return out
	}
}

// schedule publishes a batch of jobs immediately and then every interval
// until ctx is done.
func schedule(ctx context.Context, log zerolog.Logger, pub jobs.Publisher, interval time.Duration, next func() []*jobs.Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, job := range next() {
			if err := pub.Publish(ctx, job); err != nil {
				log.Error().Err(err).Str("job_type", string(job.Type)).Msg("Failed to queue scheduled job")
				continue
			}
			log.Info().Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("Queued scheduled job")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
