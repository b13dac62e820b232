package manga

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestJob(chapters int) *Job {
	refs := make([]ChapterRef, chapters)
	for i := range refs {
		refs[i] = ChapterRef{ID: "c", Number: "1"}
	}
	return NewJob("job-1", "owner", nil, refs, time.Unix(100, 0))
}

func TestJobTransitionsFollowStateMachine(t *testing.T) {
	t.Parallel()

	job := newTestJob(1)
	require.Equal(t, JobStatusQueued, job.Status())

	require.ErrorIs(t, job.Transition(JobStatusCompleted, time.Now(), ""), ErrInvalidTransition)
	require.NoError(t, job.Transition(JobStatusRunning, time.Unix(101, 0), ""))
	require.ErrorIs(t, job.Transition(JobStatusRunning, time.Now(), ""), ErrInvalidTransition)
	require.NoError(t, job.Transition(JobStatusCancelled, time.Unix(102, 0), "stopped"))

	for _, to := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed} {
		require.ErrorIs(t, job.Transition(to, time.Now(), ""), ErrInvalidTransition)
	}

	snap := job.Snapshot()
	require.Equal(t, JobStatusCancelled, snap.Status)
	require.Equal(t, "stopped", snap.Note)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.FinishedAt)
	require.Equal(t, time.Unix(102, 0), *snap.FinishedAt)
}

func TestJobRequestCancelRejectedWhenTerminal(t *testing.T) {
	t.Parallel()

	job := newTestJob(2)
	require.True(t, job.RequestCancel())
	require.True(t, job.CancelRequested())

	done := newTestJob(2)
	require.NoError(t, done.Transition(JobStatusRunning, time.Now(), ""))
	require.NoError(t, done.Transition(JobStatusCompleted, time.Now(), ""))
	require.False(t, done.RequestCancel())
	require.False(t, done.CancelRequested())
}

func TestJobProgressIsBoundedAndMonotonic(t *testing.T) {
	t.Parallel()

	job := newTestJob(3)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.MarkDelivered()
		}()
	}
	wg.Wait()
	require.Equal(t, 3, job.Progress())
	require.Equal(t, 3, job.Total())
}

func TestJobOwnedBy(t *testing.T) {
	t.Parallel()

	job := newTestJob(1)
	require.True(t, job.OwnedBy("owner"))
	require.False(t, job.OwnedBy("intruder"))
	require.False(t, job.OwnedBy(""))
}

func TestNewJobCopiesChapters(t *testing.T) {
	t.Parallel()

	refs := []ChapterRef{{ID: "a", Number: "1"}}
	job := NewJob("j", "r", nil, refs, time.Now())
	refs[0].ID = "mutated"
	require.Equal(t, "a", job.Chapters[0].ID)
}
