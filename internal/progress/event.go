package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageJobQueued        Stage = "JOB_QUEUED"
	StageJobStart         Stage = "JOB_START"
	StageChapterFetched   Stage = "CHAPTER_FETCHED"
	StageChapterDelivered Stage = "CHAPTER_DELIVERED"
	StageChapterSkipped   Stage = "CHAPTER_SKIPPED"
	StageJobDone          Stage = "JOB_DONE"
	StageJobCancelled     Stage = "JOB_CANCELLED"
	StageJobError         Stage = "JOB_ERROR"
)

// Event is one milestone of a job.
type Event struct {
	JobID       string    `json:"job_id"`
	TS          time.Time `json:"ts"`
	Stage       Stage     `json:"stage"`
	RequesterID string    `json:"requester_id,omitempty"`
	Source      string    `json:"source,omitempty"`
	// Title and Chapter name the work and chapter label for chapter stages.
	Title   string `json:"title,omitempty"`
	Chapter string `json:"chapter,omitempty"`
	// Delivered and Total snapshot the job counters when the event was emitted.
	Delivered int `json:"delivered"`
	Total     int `json:"total"`
	// Pages, Missing, and Bytes describe a CHAPTER_FETCHED event.
	Pages   int           `json:"pages,omitempty"`
	Missing int           `json:"missing,omitempty"`
	Bytes   int64         `json:"bytes,omitempty"`
	Dur     time.Duration `json:"dur,omitempty"`
	Note    string        `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobQueued, StageJobStart, StageJobDone, StageJobCancelled, StageJobError:
	case StageChapterFetched, StageChapterDelivered, StageChapterSkipped:
		if e.Chapter == "" {
			return fmt.Errorf("%s requires chapter", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Delivered < 0 || e.Delivered > e.Total {
		return fmt.Errorf("delivered %d outside [0, %d]", e.Delivered, e.Total)
	}
	return nil
}

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobCancelled || s == StageJobError
}

// Status maps a terminal stage to the job status it records.
func (s Stage) Status() manga.JobStatus {
	switch s {
	case StageJobQueued:
		return manga.JobStatusQueued
	case StageJobDone:
		return manga.JobStatusCompleted
	case StageJobCancelled:
		return manga.JobStatusCancelled
	case StageJobError:
		return manga.JobStatusFailed
	default:
		return manga.JobStatusRunning
	}
}

// TerminalStage maps a terminal job status to its stage.
func TerminalStage(status manga.JobStatus) Stage {
	switch status {
	case manga.JobStatusCompleted:
		return StageJobDone
	case manga.JobStatusCancelled:
		return StageJobCancelled
	default:
		return StageJobError
	}
}
