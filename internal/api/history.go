package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	historyTimeout  = 3 * time.Second
)

// HistoryHandler exposes read-only job history endpoints.
type HistoryHandler struct {
	repo    store.HistoryRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the repository and logger.
func NewHistoryHandler(repo store.HistoryRepository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/history?requester_id=&limit=&offset=. It returns
// {"runs": [...]}, 400 for invalid paging, or 500 if the repository fails.
func (h *HistoryHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, r.URL.Query().Get("requester_id"), limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if runs == nil {
		runs = []store.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/history/{job_id}. It returns {"run": {...}}, 404 when
// the repository reports store.ErrNotFound, or 500 otherwise.
func (h *HistoryHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
