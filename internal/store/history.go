package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("job run not found")

// JobRun models one row of the job_runs table.
type JobRun struct {
	ID           string          `json:"job_id"`
	RequesterID  string          `json:"requester_id"`
	Source       string          `json:"source"`
	Total        int             `json:"total"`
	Delivered    int             `json:"delivered"`
	Status       manga.JobStatus `json:"status"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// HistoryRepository persists job runs so they outlive the in-memory scheduler.
type HistoryRepository interface {
	// RecordQueued inserts a run in the queued state. Re-recording is a no-op.
	RecordQueued(ctx context.Context, run JobRun) error
	// MarkStarted moves a run to running.
	MarkStarted(ctx context.Context, id string, at time.Time) error
	// UpdateProgress stores the delivered count; it never decreases.
	UpdateProgress(ctx context.Context, id string, delivered int) error
	// Complete records the terminal status.
	Complete(ctx context.Context, id string, at time.Time, status manga.JobStatus, delivered int, errMsg *string) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id string) (JobRun, error)
	// ListRuns returns runs newest first, optionally for one requester.
	ListRuns(ctx context.Context, requesterID string, limit, offset int) ([]JobRun, error)
}
