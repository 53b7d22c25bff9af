package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/opencode/internal/ollmerr"
	"github.com/opencode-ai/opencode/pkg/types"
)

// listSessions handles GET /sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Ensure we return an empty array [] instead of null.
	if summaries == nil {
		summaries = []types.SessionSummaryRecord{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// getSession handles GET /sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	rec, err := s.store.Get(sessionID)
	if err != nil {
		if errors.Is(err, ollmerr.SessionIO) || errors.Is(err, ollmerr.SessionCorrupt) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
