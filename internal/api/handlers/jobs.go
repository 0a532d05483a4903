package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/settlement-ledger/internal/api/middleware"
	"github.com/dvloznov/settlement-ledger/internal/jobs"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// JobsHandler queues background work and reports on it.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher) *JobsHandler {
	return &JobsHandler{store: store, publisher: publisher}
}

// EnqueueSync handles POST /api/sync
func (h *JobsHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SyncRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Days < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "days must not be negative")
		return
	}

	h.enqueue(w, r, jobs.NewSyncJob(jobs.SyncParams{Days: req.Days, Query: req.Query}))
}

// EnqueueReparse handles POST /api/reparse
func (h *JobsHandler) EnqueueReparse(w http.ResponseWriter, r *http.Request) {
	var req jobs.ReparseParams
	if err := decodeOptionalBody(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Limit < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	h.enqueue(w, r, jobs.NewReparseJob(req))
}

func (h *JobsHandler) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.Job) {
	log := logger.FromContext(r.Context())
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_type", string(job.Type)).Msg("Failed to enqueue job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	log.Info().Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("Job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":     true,
		"job_id": job.ID,
		"type":   job.Type,
		"status": job.Status,
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "job": job})
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// decodeOptionalBody decodes a JSON body; an empty body leaves v untouched.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
