// Package worker runs the per-job chapter loop: list pages, fetch, pack,
// deliver, release.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/clock"
	"github.com/JakeFAU/chapterbox/internal/fetcher"
	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/metrics"
	"github.com/JakeFAU/chapterbox/internal/packager"
	"github.com/JakeFAU/chapterbox/internal/progress"
	"github.com/JakeFAU/chapterbox/internal/retry"
)

const (
	notifyTimeout = 10 * time.Second

	noteCancelled   = "cancelled by request"
	noteInterrupted = "interrupted by shutdown"
)

// Chapter outcome labels.
const (
	OutcomeDelivered   = "delivered"
	OutcomePartial     = "partial"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "provider_error"
	OutcomeUndelivered = "undelivered"
	OutcomePanic       = "panic"
)

var errChapterPanic = errors.New("chapter processing panicked")

// Queue hands jobs to workers.
type Queue interface {
	Dequeue(ctx context.Context) (*manga.Job, error)
}

// ImageFetcher downloads the pages of one chapter.
type ImageFetcher interface {
	FetchAll(ctx context.Context, refs []manga.ImageRef) fetcher.Result
}

// Deliverer hands an artifact to its destination under the retry policy.
type Deliverer interface {
	Deliver(ctx context.Context, recipient string, artifact manga.Artifact) error
}

// Tracker observes jobs entering and leaving a worker.
type Tracker interface {
	JobStarted(job *manga.Job)
	JobFinished(job *manga.Job)
}

// Config controls Worker behavior.
type Config struct {
	// PacingDelay is slept after every delivery attempt.
	PacingDelay time.Duration
	// MaxConsecutiveFailures fails the job after this many provider errors in
	// a row. Zero keeps skipping unavailable chapters to the end of the job.
	MaxConsecutiveFailures int
}

// Deps bundles the collaborators a Worker needs. Notifier, Events, Clock, and
// Tracker are optional.
type Deps struct {
	Queue     Queue
	Fetcher   ImageFetcher
	Deliverer Deliverer
	Notifier  manga.Notifier
	Events    progress.Emitter
	Clock     clock.Clock
	Tracker   Tracker
}

// Worker consumes jobs and processes their chapters sequentially.
type Worker struct {
	queue     Queue
	fetcher   ImageFetcher
	deliverer Deliverer
	notifier  manga.Notifier
	events    progress.Emitter
	clock     clock.Clock
	tracker   Tracker
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	return &Worker{
		queue:     deps.Queue,
		fetcher:   deps.Fetcher,
		deliverer: deps.Deliverer,
		notifier:  deps.Notifier,
		events:    deps.Events,
		clock:     deps.Clock,
		tracker:   deps.Tracker,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
// Jobs still queued when the context ends stay in the queue.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Info("worker stopping", zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.Process(ctx, job)
	}
}

// Process runs one job to a terminal state. It never panics.
func (w *Worker) Process(ctx context.Context, job *manga.Job) {
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("requester_id", job.RequesterID))
	if w.tracker != nil {
		w.tracker.JobStarted(job)
		defer w.tracker.JobFinished(job)
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := job.Transition(manga.JobStatusRunning, w.clock.Now(), ""); err != nil {
		logger.Error("job cannot start", zap.Error(err))
		return
	}
	w.emit(job, progress.Event{Stage: progress.StageJobStart})
	logger.Info("job started", zap.Int("chapters", job.Total()))

	status, note := w.runChapters(ctx, job, logger)
	w.finish(ctx, job, status, note, logger)
}

func (w *Worker) runChapters(ctx context.Context, job *manga.Job, logger *zap.Logger) (status manga.JobStatus, note string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			status, note = manga.JobStatusFailed, fmt.Sprintf("internal error: %v", r)
		}
	}()

	consecutive := 0
	for _, chapter := range job.Chapters {
		if job.CancelRequested() {
			return manga.JobStatusCancelled, noteCancelled
		}
		if ctx.Err() != nil {
			return manga.JobStatusFailed, noteInterrupted
		}

		err := w.processChapter(ctx, job, chapter, logger)
		switch {
		case err == nil:
			consecutive = 0
			continue
		case ctx.Err() != nil:
			return manga.JobStatusFailed, noteInterrupted
		case errors.Is(err, manga.ErrJobFatal):
			logger.Error("job aborted", zap.String("chapter", chapter.Label()), zap.Error(err))
			return manga.JobStatusFailed, err.Error()
		}

		w.skip(ctx, job, chapter, err, logger)
		if errors.Is(err, manga.ErrProviderUnavailable) {
			consecutive++
		} else {
			consecutive = 0
		}
		if w.cfg.MaxConsecutiveFailures > 0 && consecutive >= w.cfg.MaxConsecutiveFailures {
			logger.Error("too many consecutive provider failures", zap.Int("failures", consecutive))
			return manga.JobStatusFailed, fmt.Sprintf("%v: %d consecutive provider failures", manga.ErrJobFatal, consecutive)
		}
	}
	return manga.JobStatusCompleted, ""
}

// processChapter returns nil once the chapter is delivered. Any error means
// the chapter was skipped.
func (w *Worker) processChapter(ctx context.Context, job *manga.Job, chapter manga.ChapterRef, logger *zap.Logger) (err error) {
	source := job.Source.Name()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("chapter panicked",
				zap.String("chapter", chapter.Label()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			metrics.ObserveChapter(source, OutcomePanic)
			err = fmt.Errorf("%w: %v", errChapterPanic, r)
		}
	}()

	pages, err := job.Source.ListPages(ctx, chapter)
	if err != nil {
		metrics.ObserveChapter(source, OutcomeUnavailable)
		return fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		metrics.ObserveChapter(source, OutcomeEmpty)
		return manga.ErrEmptyChapter
	}

	start := w.clock.Now()
	res := w.fetcher.FetchAll(ctx, pages)
	if len(res.Images) == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ObserveChapter(source, OutcomeEmpty)
		return fmt.Errorf("%w: all %d pages failed", manga.ErrEmptyChapter, len(pages))
	}
	var size int64
	for _, img := range res.Images {
		size += int64(len(img.Data))
	}
	w.emit(job, progress.Event{
		Stage:   progress.StageChapterFetched,
		Title:   chapter.Title,
		Chapter: chapter.Label(),
		Pages:   len(res.Images),
		Missing: res.Failed,
		Bytes:   size,
		Dur:     w.clock.Now().Sub(start),
	})
	if res.Failed > 0 {
		partial := fmt.Errorf("%w: %d of %d pages missing", manga.ErrPartialChapter, res.Failed, len(pages))
		logger.Warn("chapter incomplete",
			zap.String("chapter", chapter.Label()),
			zap.Int("missing", res.Failed),
			zap.Int("pages", len(pages)),
			zap.Error(partial),
		)
		w.notify(ctx, job, manga.Notice{
			Kind:    manga.NoticeChapterPartial,
			Title:   chapter.Title,
			Chapter: chapter,
			Missing: res.Failed,
			Reason:  SkipReason(partial),
		}, logger)
	}

	archive, err := packager.Pack(res.Images, chapter.Title, chapter.Label())
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	deliverErr := w.deliverer.Deliver(ctx, job.RequesterID, archive)
	archiveSize, filename := archive.Size(), archive.Filename()
	if !archive.Release() {
		logger.Error("archive released twice", zap.String("filename", filename))
	}
	if w.cfg.PacingDelay > 0 {
		_ = retry.Sleep(ctx, w.cfg.PacingDelay)
	}
	if deliverErr != nil {
		metrics.ObserveChapter(source, OutcomeUndelivered)
		return fmt.Errorf("deliver: %w", deliverErr)
	}

	delivered := job.MarkDelivered()
	if res.Failed > 0 {
		metrics.ObserveChapter(source, OutcomePartial)
	} else {
		metrics.ObserveChapter(source, OutcomeDelivered)
	}
	w.emit(job, progress.Event{
		Stage:     progress.StageChapterDelivered,
		Title:     chapter.Title,
		Chapter:   chapter.Label(),
		Delivered: delivered,
		Pages:     len(res.Images),
		Bytes:     archiveSize,
	})
	logger.Info("chapter delivered",
		zap.String("chapter", chapter.Label()),
		zap.String("filename", filename),
		zap.Int("delivered", delivered),
		zap.Int("total", job.Total()),
	)
	return nil
}

func (w *Worker) skip(ctx context.Context, job *manga.Job, chapter manga.ChapterRef, cause error, logger *zap.Logger) {
	job.MarkSkipped()
	reason := SkipReason(cause)
	logger.Warn("chapter skipped",
		zap.String("chapter", chapter.Label()),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	w.emit(job, progress.Event{
		Stage:   progress.StageChapterSkipped,
		Title:   chapter.Title,
		Chapter: chapter.Label(),
		Note:    reason,
	})
	w.notify(ctx, job, manga.Notice{
		Kind:    manga.NoticeChapterSkipped,
		Title:   chapter.Title,
		Chapter: chapter,
		Reason:  reason,
	}, logger)
}

func (w *Worker) finish(ctx context.Context, job *manga.Job, status manga.JobStatus, note string, logger *zap.Logger) {
	if err := job.Transition(status, w.clock.Now(), note); err != nil {
		logger.Error("final job transition failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
	w.emit(job, progress.Event{Stage: progress.TerminalStage(status), Note: note})
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("delivered", job.Progress()),
		zap.Int("total", job.Total()),
		zap.String("note", note),
	)
	w.notify(ctx, job, manga.Notice{
		Kind:   manga.NoticeJobFinished,
		Status: status,
		Reason: note,
	}, logger)
}

// SkipReason renders a skip cause for the requester.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, manga.ErrEmptyChapter):
		return "no pages could be downloaded"
	case errors.Is(err, manga.ErrPartialChapter):
		return "some pages could not be downloaded"
	case errors.Is(err, manga.ErrProviderUnavailable):
		return "source unavailable"
	case errors.Is(err, manga.ErrPermanent), errors.Is(err, manga.ErrTransient):
		return "delivery failed"
	case errors.Is(err, errChapterPanic):
		return "internal error"
	default:
		return err.Error()
	}
}

func (w *Worker) emit(job *manga.Job, evt progress.Event) {
	evt.JobID = job.ID
	evt.TS = w.clock.Now()
	evt.RequesterID = job.RequesterID
	evt.Source = job.Source.Name()
	if evt.Delivered == 0 {
		evt.Delivered = job.Progress()
	}
	evt.Total = job.Total()
	w.events.Emit(evt)
}

// notify fills the job fields and sends without letting shutdown cut the
// terminal notice short.
func (w *Worker) notify(ctx context.Context, job *manga.Job, notice manga.Notice, logger *zap.Logger) {
	if w.notifier == nil {
		return
	}
	notice.JobID = job.ID
	notice.Delivered = job.Progress()
	notice.Total = job.Total()
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := w.notifier.Notify(nctx, job.RequesterID, notice); err != nil {
		logger.Warn("notice failed", zap.String("kind", string(notice.Kind)), zap.Error(err))
	}
}
