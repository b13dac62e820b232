package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chapterbox/internal/progress"
)

// PrometheusSink derives job-level collectors from the event stream.
type PrometheusSink struct {
	jobsQueued   prometheus.Counter
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec

	chapterPages    *prometheus.CounterVec
	chapterBytes    *prometheus.CounterVec
	chapterDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapterbox_progress_jobs_queued_total",
			Help: "Jobs accepted into the queue.",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapterbox_progress_jobs_started_total",
			Help: "Jobs picked up by a worker.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterbox_progress_jobs_finished_total",
			Help: "Jobs that reached a terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chapterbox_progress_jobs_running",
			Help: "Jobs started but not yet finished.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapterbox_progress_job_runtime_seconds",
			Help:    "Wall time from start to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		chapterPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterbox_progress_chapter_pages_total",
			Help: "Pages fetched or missing per source.",
		}, []string{"source", "result"}),
		chapterBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterbox_progress_chapter_bytes_total",
			Help: "Image bytes fetched per source.",
		}, []string{"source"}),
		chapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapterbox_progress_chapter_fetch_seconds",
			Help:    "Time spent fetching all pages of a chapter.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		tracker: newJobTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.jobsQueued,
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.chapterPages,
		s.chapterBytes,
		s.chapterDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageJobQueued:
			s.jobsQueued.Inc()
		case evt.Stage == progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case evt.Stage.Terminal():
			status := string(evt.Stage.Status())
			s.jobsFinished.WithLabelValues(status).Inc()
			if evt.Dur > 0 {
				s.jobRuntime.WithLabelValues(status).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.JobID) {
				s.jobsRunning.Dec()
			}
		case evt.Stage == progress.StageChapterFetched:
			s.observeChapter(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeChapter(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	s.chapterPages.WithLabelValues(source, "fetched").Add(float64(evt.Pages))
	if evt.Missing > 0 {
		s.chapterPages.WithLabelValues(source, "missing").Add(float64(evt.Missing))
	}
	if evt.Bytes > 0 {
		s.chapterBytes.WithLabelValues(source).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.chapterDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker keeps the running gauge honest when start or finish events are
// duplicated.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
