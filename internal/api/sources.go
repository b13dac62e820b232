package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.catalog.Names()})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	results := s.catalog.SearchAll(r.Context(), query)
	if results == nil {
		results = []manga.Ref{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

// listChapters handles GET /v1/sources/{source}/mangas/{manga_id}/chapters.
// The optional order parameter sorts by chapter number; without it the
// provider's order is kept.
func (s *Server) listChapters(w http.ResponseWriter, r *http.Request) {
	order := strings.ToLower(r.URL.Query().Get("order"))
	if order != "" && order != "asc" && order != "desc" {
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	conn, err := s.catalog.Get(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	ref := manga.Ref{ID: chi.URLParam(r, "manga_id"), Source: conn.Name()}
	chapters, err := conn.ListChapters(r.Context(), ref)
	if err != nil {
		s.logger.Warn("list chapters failed",
			zap.String("source", conn.Name()),
			zap.String("manga_id", ref.ID),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, manga.ErrProviderUnavailable) || errors.Is(err, manga.ErrJobFatal) {
			status = http.StatusBadGateway
		}
		writeError(w, status, "source unavailable")
		return
	}
	if chapters == nil {
		chapters = []manga.ChapterRef{}
	}
	if order != "" {
		manga.SortChapters(chapters, order == "desc")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   conn.Name(),
		"manga_id": ref.ID,
		"chapters": chapters,
	})
}
