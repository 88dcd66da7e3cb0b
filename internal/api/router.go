package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthSnapshotTimeout bounds the adapter snapshot taken by GET /health.
const healthSnapshotTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.rateLimitMiddleware(newRateLimiter(s.cfg.RateLimit)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/adapter", func(r chi.Router) {
			r.Get("/", s.handleGetAdapter)
			r.Put("/log-level", s.handleSetLogLevel)
			r.Post("/enable", s.handleEnable)
			r.Post("/disable", s.handleDisable)
		})

		r.Route("/scan", func(r chi.Router) {
			r.Post("/start", s.handleStartScan)
			r.Post("/stop", s.handleStopScan)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
				r.Post("/discover", s.handleDiscover)
				r.Post("/mtu", s.handleRequestMTU)
				r.Get("/services", s.handleListServices)
				r.Get("/services/{suuid}/characteristics", s.handleListCharacteristics)
				r.Get("/services/{suuid}/characteristics/{cuuid}", s.handleReadCharacteristic)
				r.Put("/services/{suuid}/characteristics/{cuuid}", s.handleWriteCharacteristic)
			})
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/v1/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth reports whether the adapter loop answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthSnapshotTimeout)
	defer cancel()

	stats, err := s.adapter.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unhealthy",
			"version": s.version,
			"error":   err.Error(),
		})
		return
	}

	resp := map[string]any{
		"status":        "ok",
		"version":       s.version,
		"adapter_state": stats.AdapterState,
		"ws_clients":    s.hub.ClientCount(),
	}
	if s.engine != nil {
		resp["engine"] = s.engine.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
