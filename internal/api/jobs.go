package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/dispatcher"
	"github.com/JakeFAU/chapterbox/internal/manga"
)

const requesterHeader = "X-Requester-ID"

type submitJobRequest struct {
	RequesterID string             `json:"requester_id"`
	Source      string             `json:"source"`
	Chapters    []manga.ChapterRef `json:"chapters"`
}

type submitJobResponse struct {
	JobID    string `json:"job_id"`
	Chapters int    `json:"chapters"`
}

type queueResponse struct {
	Depth   int `json:"depth"`
	Running int `json:"running"`
	Workers int `json:"workers"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RequesterID == "" {
		req.RequesterID = r.Header.Get(requesterHeader)
	}
	for _, ch := range req.Chapters {
		if strings.TrimSpace(ch.ID) == "" {
			writeError(w, http.StatusBadRequest, "every chapter needs an id")
			return
		}
	}

	jobID, err := s.scheduler.Enqueue(r.Context(), req.RequesterID, req.Source, req.Chapters)
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrNoRequester),
		errors.Is(err, manga.ErrNoChapters),
		errors.Is(err, manga.ErrTooManyChapters),
		errors.Is(err, manga.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: jobID, Chapters: len(req.Chapters)})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.scheduler.CurrentJobs()
	if requester := r.URL.Query().Get("requester_id"); requester != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.RequesterID == requester {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.scheduler.Job(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": snap})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	requester := strings.TrimSpace(r.Header.Get(requesterHeader))
	if requester == "" {
		writeError(w, http.StatusBadRequest, requesterHeader+" header required")
		return
	}
	err := s.scheduler.CancelJob(jobID, requester)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "cancelled": true})
	case errors.Is(err, manga.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, dispatcher.ErrNotOwner):
		writeError(w, http.StatusForbidden, "only the requester or an admin can cancel this job")
	case errors.Is(err, dispatcher.ErrJobFinished):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		s.logger.Error("cancel failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (s *Server) queueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{
		Depth:   s.scheduler.QueueDepth(),
		Running: s.scheduler.RunningCount(),
		Workers: s.scheduler.Workers(),
	})
}
