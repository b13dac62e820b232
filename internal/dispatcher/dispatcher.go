// Package dispatcher accepts download jobs, tracks their lifecycle, and fans
// them out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/clock"
	"github.com/JakeFAU/chapterbox/internal/id"
	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/metrics"
	"github.com/JakeFAU/chapterbox/internal/progress"
	"github.com/JakeFAU/chapterbox/internal/worker"
)

const (
	defaultWorkers    = 2
	defaultMaxChaps   = 200
	defaultRetention  = time.Hour
	acceptanceTimeout = 10 * time.Second
)

var (
	// ErrNoRequester rejects jobs without a requester identity.
	ErrNoRequester = errors.New("requester id is required")
	// ErrNotOwner is returned when a cancel comes from someone other than the
	// owner or an admin.
	ErrNotOwner = errors.New("not the job owner")
	// ErrJobFinished is returned when cancelling a terminal job.
	ErrJobFinished = errors.New("job already finished")
)

// Queue is the FIFO jobs wait in until a worker is free.
type Queue interface {
	worker.Queue
	Enqueue(ctx context.Context, job *manga.Job) error
	Len() int
	Close()
}

// Sources resolves connectors by provider name.
type Sources interface {
	Get(name string) (manga.Connector, error)
}

// Config controls pool size, job limits, and bookkeeping.
type Config struct {
	Workers           int
	MaxChaptersPerJob int
	// Retention is how long terminal jobs stay visible to status calls.
	Retention time.Duration
	Admins    []string
	IDs       id.Generator
	Worker    worker.Config
}

// Scheduler owns the job table and the worker pool.
type Scheduler struct {
	queue   Queue
	sources Sources
	deps    worker.Deps
	cfg     Config
	admins  map[string]struct{}
	logger  *zap.Logger

	mu    sync.RWMutex
	jobs  map[string]*manga.Job
	order []string

	running atomic.Int64
}

// New builds a Scheduler. deps supplies the per-chapter collaborators shared by
// every worker; its Queue and Tracker fields are set by the scheduler.
func New(queue Queue, sources Sources, deps worker.Deps, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxChaptersPerJob <= 0 {
		cfg.MaxChaptersPerJob = defaultMaxChaps
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.IDs == nil {
		cfg.IDs = id.UUIDv7{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Events == nil {
		deps.Events = progress.Discard{}
	}
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, a := range cfg.Admins {
		if a = strings.TrimSpace(a); a != "" {
			admins[a] = struct{}{}
		}
	}
	s := &Scheduler{
		queue:   queue,
		sources: sources,
		cfg:     cfg,
		admins:  admins,
		logger:  logger.Named("scheduler"),
		jobs:    make(map[string]*manga.Job),
	}
	deps.Queue = queue
	deps.Tracker = s
	s.deps = deps
	return s
}

// Run starts the worker pool and blocks until ctx ends and every worker has
// returned. Jobs still queued at that point are left untouched.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range s.cfg.Workers {
		w := worker.New(s.deps, s.cfg.Worker, s.logger.Named("worker").With(zap.Int("worker", i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	s.logger.Info("workers started", zap.Int("workers", s.cfg.Workers))
	<-ctx.Done()
	s.queue.Close()
	wg.Wait()
	if n := s.queue.Len(); n > 0 {
		s.logger.Warn("jobs left queued at shutdown", zap.Int("jobs", n))
	}
}

// Enqueue validates and queues a job, returning its ID.
func (s *Scheduler) Enqueue(ctx context.Context, requesterID, sourceName string, chapters []manga.ChapterRef) (string, error) {
	requesterID = strings.TrimSpace(requesterID)
	switch {
	case requesterID == "":
		return "", ErrNoRequester
	case len(chapters) == 0:
		return "", manga.ErrNoChapters
	case len(chapters) > s.cfg.MaxChaptersPerJob:
		return "", fmt.Errorf("%w: %d requested, limit %d", manga.ErrTooManyChapters, len(chapters), s.cfg.MaxChaptersPerJob)
	}
	src, err := s.sources.Get(sourceName)
	if err != nil {
		return "", err
	}
	jobID, err := s.cfg.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}

	now := s.deps.Clock.Now()
	job := manga.NewJob(jobID, requesterID, src, chapters, now)
	s.evictExpired(now)
	s.mu.Lock()
	s.jobs[jobID] = job
	s.order = append(s.order, jobID)
	s.mu.Unlock()

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.forget(jobID)
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	metrics.SetQueueDepth(s.queue.Len())

	s.deps.Events.Emit(progress.Event{
		JobID:       jobID,
		TS:          now,
		Stage:       progress.StageJobQueued,
		RequesterID: requesterID,
		Source:      src.Name(),
		Total:       job.Total(),
	})
	s.logger.Info("job accepted",
		zap.String("job_id", jobID),
		zap.String("requester_id", requesterID),
		zap.String("source", src.Name()),
		zap.Int("chapters", job.Total()),
	)
	if s.deps.Notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), acceptanceTimeout)
		defer cancel()
		notice := manga.Notice{Kind: manga.NoticeAccepted, JobID: jobID, Total: job.Total()}
		if err := s.deps.Notifier.Notify(nctx, requesterID, notice); err != nil {
			s.logger.Warn("acceptance notice failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return jobID, nil
}

// CancelJob raises the cancel flag. Only the owner or an admin may cancel.
func (s *Scheduler) CancelJob(jobID, requesterID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", manga.ErrJobNotFound, jobID)
	}
	if !job.OwnedBy(requesterID) && !s.IsAdmin(requesterID) {
		return ErrNotOwner
	}
	if !job.RequestCancel() {
		return ErrJobFinished
	}
	s.logger.Info("job cancel requested", zap.String("job_id", jobID), zap.String("by", requesterID))
	return nil
}

// Cancel reports whether the cancel request was accepted.
func (s *Scheduler) Cancel(jobID, requesterID string) bool {
	return s.CancelJob(jobID, requesterID) == nil
}

// IsAdmin reports whether requesterID may act on any job.
func (s *Scheduler) IsAdmin(requesterID string) bool {
	_, ok := s.admins[requesterID]
	return ok
}

// QueueDepth is the number of jobs waiting for a worker.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

// Size is an alias of QueueDepth.
func (s *Scheduler) Size() int {
	return s.QueueDepth()
}

// RunningCount is the number of jobs currently held by a worker.
func (s *Scheduler) RunningCount() int {
	return int(s.running.Load())
}

// Workers is the pool size.
func (s *Scheduler) Workers() int {
	return s.cfg.Workers
}

// CurrentJobs snapshots queued, running, and recently finished jobs in
// submission order.
func (s *Scheduler) CurrentJobs() []manga.JobSnapshot {
	s.evictExpired(s.deps.Clock.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]manga.JobSnapshot, 0, len(s.order))
	for _, jobID := range s.order {
		out = append(out, s.jobs[jobID].Snapshot())
	}
	return out
}

// Job returns one snapshot.
func (s *Scheduler) Job(jobID string) (manga.JobSnapshot, error) {
	s.evictExpired(s.deps.Clock.Now())
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return manga.JobSnapshot{}, fmt.Errorf("%w: %s", manga.ErrJobNotFound, jobID)
	}
	return job.Snapshot(), nil
}

// JobStarted implements worker.Tracker.
func (s *Scheduler) JobStarted(*manga.Job) {
	s.running.Add(1)
	metrics.SetQueueDepth(s.queue.Len())
}

// JobFinished implements worker.Tracker.
func (s *Scheduler) JobFinished(*manga.Job) {
	s.running.Add(-1)
}

func (s *Scheduler) evictExpired(now time.Time) {
	cutoff := now.Add(-s.cfg.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = slices.DeleteFunc(s.order, func(jobID string) bool {
		snap := s.jobs[jobID].Snapshot()
		if snap.FinishedAt == nil || !snap.FinishedAt.Before(cutoff) {
			return false
		}
		delete(s.jobs, jobID)
		return true
	})
}

func (s *Scheduler) forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == jobID })
}
