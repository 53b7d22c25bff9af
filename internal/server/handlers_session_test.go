package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/pkg/types"
)

func setupTestServer(t *testing.T) *Server {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(DefaultConfig(), store)
}

func TestListSessions_Empty(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/sessions", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var summaries []types.SessionSummaryRecord
	if err := json.NewDecoder(w.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected empty list, got %d", len(summaries))
	}
}

func TestListSessions_ReturnsCreatedSession(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id, err := store.Create("claude-sonnet-4", "anthropic")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	srv := New(DefaultConfig(), store)

	req := httptest.NewRequest("GET", "/sessions", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var summaries []types.SessionSummaryRecord
	if err := json.NewDecoder(w.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 1 || summaries[0].SessionID != id {
		t.Fatalf("expected session %s in listing, got %+v", id, summaries)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/sessions/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetSession_Found(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id, err := store.Create("claude-sonnet-4", "anthropic")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	srv := New(DefaultConfig(), store)

	req := httptest.NewRequest("GET", "/sessions/"+id, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var rec types.SessionRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.SessionID != id {
		t.Fatalf("expected session id %s, got %s", id, rec.SessionID)
	}
}

func TestRouter_NoMutationRoutes(t *testing.T) {
	srv := setupTestServer(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req := httptest.NewRequest(method, "/sessions", nil)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
			t.Errorf("%s /sessions: expected no mutation route to exist, got status %d", method, w.Code)
		}
	}
}
