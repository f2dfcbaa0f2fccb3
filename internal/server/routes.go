package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (ingestion lifecycle events)
	mux.HandleFunc("/ws/events", s.app.WSHandler.HandleWebSocket)

	// API routes - Source management
	mux.HandleFunc("/api/sources", s.handleSourcesRoute)  // GET (list), POST (ingest)
	mux.HandleFunc("/api/sources/", s.handleSourceRoutes) // GET/DELETE /{id}

	// API routes - Judging
	mux.HandleFunc("/api/judge", s.app.JudgeHandler.JudgeHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	return mux
}

// handleSourcesRoute dispatches /api/sources by method.
func (s *Server) handleSourcesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.SourceHandler.ListHandler(w, r)
	case http.MethodPost:
		s.app.SourceHandler.IngestHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSourceRoutes dispatches /api/sources/{id} by method.
func (s *Server) handleSourceRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.SourceHandler.GetHandler(w, r)
	case http.MethodDelete:
		s.app.SourceHandler.DeleteHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
