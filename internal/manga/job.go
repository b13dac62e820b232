package manga

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// JobStatus represents the lifecycle state of a download job.
type JobStatus string

// Job status values.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

func (s JobStatus) canTransition(to JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Job is one requester's order for an ordered list of chapters from a single
// source. The worker that dequeues it is the only writer of its progress;
// status readers and the cancel path touch only the synchronized fields.
type Job struct {
	ID          string
	RequesterID string
	Source      Connector
	Chapters    []ChapterRef
	SubmittedAt time.Time

	mu         sync.Mutex
	status     JobStatus
	startedAt  time.Time
	finishedAt time.Time
	note       string

	delivered       atomic.Int64
	skipped         atomic.Int64
	cancelRequested atomic.Bool
}

// NewJob builds a queued job. The chapter slice is copied.
func NewJob(id, requesterID string, source Connector, chapters []ChapterRef, submitted time.Time) *Job {
	return &Job{
		ID:          id,
		RequesterID: requesterID,
		Source:      source,
		Chapters:    append([]ChapterRef(nil), chapters...),
		SubmittedAt: submitted,
		status:      JobStatusQueued,
	}
}

// Status returns the current state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Transition moves the job along the state machine and stamps the time.
func (j *Job) Transition(to JobStatus, at time.Time, note string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	if to == JobStatusRunning {
		j.startedAt = at
	}
	if to.Terminal() {
		j.finishedAt = at
		j.note = note
	}
	return nil
}

// RequestCancel raises the cancel flag unless the job already finished.
func (j *Job) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.cancelRequested.Store(true)
	return true
}

// CancelRequested reports whether cancellation was asked for.
func (j *Job) CancelRequested() bool {
	return j.cancelRequested.Load()
}

// MarkDelivered counts one more delivered chapter, never past Total.
func (j *Job) MarkDelivered() int {
	for {
		cur := j.delivered.Load()
		if cur >= int64(len(j.Chapters)) {
			return int(cur)
		}
		if j.delivered.CompareAndSwap(cur, cur+1) {
			return int(cur + 1)
		}
	}
}

// MarkSkipped counts one more skipped chapter.
func (j *Job) MarkSkipped() {
	j.skipped.Add(1)
}

// Progress is the number of chapters delivered so far.
func (j *Job) Progress() int {
	return int(j.delivered.Load())
}

// Total is the number of chapters ordered.
func (j *Job) Total() int {
	return len(j.Chapters)
}

// OwnedBy reports whether requesterID submitted the job.
func (j *Job) OwnedBy(requesterID string) bool {
	return requesterID != "" && j.RequesterID == requesterID
}

// JobSnapshot is a point-in-time copy used for status reporting.
type JobSnapshot struct {
	ID              string     `json:"job_id"`
	RequesterID     string     `json:"requester_id"`
	Source          string     `json:"source"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"`
	Skipped         int        `json:"skipped"`
	Total           int        `json:"total"`
	CancelRequested bool       `json:"cancel_requested"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Note            string     `json:"note,omitempty"`
}

// Snapshot copies the job's reportable state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := JobSnapshot{
		ID:              j.ID,
		RequesterID:     j.RequesterID,
		Status:          j.status,
		Progress:        int(j.delivered.Load()),
		Skipped:         int(j.skipped.Load()),
		Total:           len(j.Chapters),
		CancelRequested: j.cancelRequested.Load(),
		SubmittedAt:     j.SubmittedAt,
		Note:            j.note,
	}
	if j.Source != nil {
		snap.Source = j.Source.Name()
	}
	if !j.startedAt.IsZero() {
		started := j.startedAt
		snap.StartedAt = &started
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}
