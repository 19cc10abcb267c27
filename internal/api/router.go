// Package api assembles the HTTP router of the vahan-rakshak server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/korrapati-satish/vahan-rakshak/internal/api/handlers"
	"github.com/korrapati-satish/vahan-rakshak/internal/api/middleware"
	"github.com/korrapati-satish/vahan-rakshak/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "vahan-rakshak"

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.APIKeys).Middleware)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/healthz", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Direct agent calls
		r.Post("/gatekeeper/run", h.RunGatekeeper)
		r.Post("/driver/monitoring", h.MonitorDriver)
		r.Post("/speed", h.ReportSpeed)

		// Workflows
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.ListWorkflows)
			r.Post("/departure", h.StartDeparture)
			r.Post("/emergency", h.StartEmergency)
			r.Get("/{runId}", h.GetWorkflow)
		})

		// Vehicles
		r.Get("/status/{vehicleId}", h.VehicleStatus)
		r.Get("/incidents/{vehicleId}", h.VehicleIncidents)
		r.Get("/alerts/{vehicleId}", h.VehicleAlerts)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
