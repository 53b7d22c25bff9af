package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures the server's two read-only routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{sessionID}", s.getSession)
	})
}
