package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrJobNotFound is returned by a JobStore for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeSyncMailbox pulls new notification emails into the fact store.
	JobTypeSyncMailbox JobType = "sync_mailbox"
	// JobTypeReparseFacts re-derives incomplete facts from their raw text.
	JobTypeReparseFacts JobType = "reparse_facts"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and will not be retried.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is waiting for a retry.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is used when a job does not set MaxRetries.
const DefaultMaxRetries = 3

// SyncParams are the arguments of a mailbox sync job.
type SyncParams struct {
	Days  int    `json:"days"`
	Query string `json:"q,omitempty"`
}

// ReparseParams are the arguments of a reparse job.
type ReparseParams struct {
	Limit int `json:"limit"`
}

// Job is one unit of background work with its lifecycle.
type Job struct {
	ID     string    `json:"id"`
	Type   JobType   `json:"type"`
	Status JobStatus `json:"status"`

	// Exactly one of the parameter blocks is set, matching Type.
	Sync    *SyncParams    `json:"sync,omitempty"`
	Reparse *ReparseParams `json:"reparse,omitempty"`

	// Result is the JSON summary the handler produced on success.
	Result json.RawMessage `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the last failure, kept across retries.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// NewSyncJob builds a pending mailbox sync job.
func NewSyncJob(p SyncParams) *Job {
	return &Job{Type: JobTypeSyncMailbox, Sync: &p}
}

// NewReparseJob builds a pending reparse job.
func NewReparseJob(p ReparseParams) *Job {
	return &Job{Type: JobTypeReparseFacts, Reparse: &p}
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish assigns defaults (ID, status, timestamps), saves and enqueues job.
	Publish(ctx context.Context, job *Job) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error makes the job eligible for a
// retry. The handler may set job.Result.
type JobHandler func(ctx context.Context, job *Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID. Unknown IDs yield ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs, newest first, with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Type filters jobs by type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
