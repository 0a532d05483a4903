// Package api assembles the HTTP surface: ledger views, exports and the
// background job endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/api/handlers"
	"github.com/dvloznov/settlement-ledger/internal/api/middleware"
	"github.com/dvloznov/settlement-ledger/internal/jobs"
	"github.com/dvloznov/settlement-ledger/internal/metrics"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the router serves. Uploader and Metrics may be
// nil.
type Deps struct {
	Facts     store.FactStore
	Location  *time.Location
	Lender    report.Lender
	JobStore  jobs.JobStore
	Publisher jobs.Publisher
	Uploader  handlers.ReportUploader
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

// NewRouter wires handlers and middleware into a chi router.
func NewRouter(d Deps) http.Handler {
	ledger := handlers.NewLedgerHandler(d.Facts, d.Location, d.Lender)
	exports := handlers.NewExportHandler(ledger, d.Uploader)
	jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Publisher)

	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(d.Log),
		middleware.RequestID,
		middleware.Logger(d.Log),
		middleware.Metrics(d.Metrics),
		middleware.CORS,
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", ledger.Summary)
		r.Get("/daily", ledger.Daily)
		r.Get("/transactions", ledger.Transactions)

		r.Get("/export", exports.Facts)
		r.Get("/export-settlements", exports.Settlements)
		r.Get("/export-totals", exports.Totals)

		r.Post("/sync", jobsHandler.EnqueueSync)
		r.Post("/reparse", jobsHandler.EnqueueReparse)
		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{id}", jobsHandler.GetJob)
	})

	return r
}
