package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/metrics"
	"github.com/JakeFAU/chapterbox/internal/store"
)

const defaultRequestTimeout = 30 * time.Second

// Scheduler is the job surface the API drives.
type Scheduler interface {
	Enqueue(ctx context.Context, requesterID, sourceName string, chapters []manga.ChapterRef) (string, error)
	CancelJob(jobID, requesterID string) error
	CurrentJobs() []manga.JobSnapshot
	Job(jobID string) (manga.JobSnapshot, error)
	QueueDepth() int
	RunningCount() int
	Workers() int
}

// Catalog resolves and searches provider connectors.
type Catalog interface {
	Names() []string
	Get(name string) (manga.Connector, error)
	SearchAll(ctx context.Context, query string) []manga.Ref
}

// ReadyFunc reports whether a downstream dependency is usable.
type ReadyFunc func(ctx context.Context) error

// Options configures optional routes and middleware.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	// Events serves the live progress websocket when set.
	Events http.Handler
	// History serves GET /v1/history when set.
	History store.HistoryRepository
	// Ready is consulted by /readyz.
	Ready ReadyFunc
}

// Server wires HTTP handlers to the scheduler and provider catalog.
type Server struct {
	router    chi.Router
	scheduler Scheduler
	catalog   Catalog
	history   *HistoryHandler
	ready     ReadyFunc
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scheduler Scheduler, catalog Catalog, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		scheduler: scheduler,
		catalog:   catalog,
		ready:     opts.Ready,
		logger:    logger.Named("api"),
	}
	if opts.History != nil {
		s.history = NewHistoryHandler(opts.History, s.logger)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		if opts.Events != nil {
			// Websockets outlive the request timeout.
			r.Method(http.MethodGet, "/events", opts.Events)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))

			r.Get("/sources", s.listSources)
			r.Get("/search", s.search)
			r.Get("/sources/{source}/mangas/{manga_id}/chapters", s.listChapters)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.submitJob)
				r.Get("/", s.listJobs)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/", s.getJob)
					r.Post("/cancel", s.cancelJob)
				})
			})
			r.Get("/queue", s.queueStatus)
			if s.history != nil {
				r.Get("/history", s.history.ListRuns)
				r.Get("/history/{job_id}", s.history.GetRun)
			}
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
