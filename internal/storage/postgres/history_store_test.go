package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/store"
)

var runColumns = []string{
	"id", "requester_id", "source", "total", "delivered", "status",
	"submitted_at", "started_at", "finished_at", "error_message",
}

func newMockStore(t *testing.T) (*HistoryStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewHistoryStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestRecordQueuedInsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("job-1", "u1", "MangaFlix", 3, "queued", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordQueued(context.Background(), store.JobRun{
		ID: "job-1", RequesterID: "u1", Source: "MangaFlix", Total: 3, SubmittedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleUpdates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	reason := "interrupted by shutdown"

	mock.ExpectExec("UPDATE job_runs SET status").
		WithArgs("running", now, "job-1", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE job_runs SET delivered").
		WithArgs(2, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE job_runs").
		WithArgs("failed", now, 2, &reason, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkStarted(ctx, "job-1", now))
	require.NoError(t, s.UpdateProgress(ctx, "job-1", 2))
	require.NoError(t, s.Complete(ctx, "job-1", now, manga.JobStatusFailed, 2, &reason))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRejectsNonTerminalAndMissing(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()

	require.Error(t, s.Complete(ctx, "job-1", time.Now(), manga.JobStatusRunning, 0, nil))

	mock.ExpectExec("UPDATE job_runs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.Complete(ctx, "ghost", time.Now(), manga.JobStatusCompleted, 0, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id, requester_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("job-1", "u1", "ToonBr", 4, 1, "running", now, nil, nil, nil))
	mock.ExpectQuery("SELECT id, requester_id").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "ToonBr", run.Source)
	require.Equal(t, manga.JobStatusRunning, run.Status)
	require.Equal(t, 1, run.Delivered)
	require.Nil(t, run.FinishedAt)

	_, err = s.GetRun(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id, requester_id").
		WithArgs("u1", 50, 0).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("job-2", "u1", "ToonBr", 1, 1, "completed", now, nil, nil, nil).
			AddRow("job-1", "u1", "MangaFlix", 2, 0, "cancelled", now.Add(-time.Hour), nil, nil, nil))

	runs, err := s.ListRuns(context.Background(), "u1", 0, -5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "job-2", runs[0].ID)
	require.Equal(t, manga.JobStatusCancelled, runs[1].Status)

	mock.ExpectQuery("SELECT id, requester_id").
		WillReturnError(errors.New("connection refused"))
	_, err = s.ListRuns(context.Background(), "", 10, 0)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHistoryStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewHistoryStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewHistoryStoreWithPool(nil)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewHistoryStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, s.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
