package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mergebot/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsCfg.Path, s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatsRead))
				r.Get("/stats", s.handleStats)
				r.Get("/battles", s.handleListBattles)
				r.Get("/battles/summary", s.handleBattleSummary)
				r.Post("/auth/ws-ticket", s.handleWSTicket)
			})

			r.With(s.requirePermission(auth.PermControl)).
				Post("/control/{command}", s.handleControl)

			r.Route("/device", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))
				r.Post("/tap", s.handleTap)
				r.Get("/screenshot", s.handleScreenshot)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.loop.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"serial":  st.Serial,
		"paused":  st.Paused,
	})
}
