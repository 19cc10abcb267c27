package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/korrapati-satish/vahan-rakshak/internal/fleet"
	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Vehicle Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) VehicleStatus(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleId")
	v, ok := h.Fleet.Get(vehicleID)
	if !ok {
		respondError(w, http.StatusNotFound, "vehicle not found: "+vehicleID)
		return
	}
	respondJSON(w, http.StatusOK, v.Status())
}

// VehicleIncidents lists emergency runs for the vehicle from the result
// store, so incidents survive a restart when the store is persistent.
func (h *Handlers) VehicleIncidents(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleId")

	results, err := h.Store.ListWorkflows(r.Context(), store.ListFilter{
		VehicleID:  vehicleID,
		WorkflowID: models.EmergencyWorkflowID,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	incidents := make([]models.WorkflowSummary, 0, len(results))
	for i := range results {
		incidents = append(incidents, results[i].Summarize())
	}
	respondJSON(w, http.StatusOK, incidents)
}

func (h *Handlers) VehicleAlerts(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleId")
	alerts := []fleet.Alert{}
	if v, ok := h.Fleet.Get(vehicleID); ok {
		alerts = v.Alerts()
	}
	respondJSON(w, http.StatusOK, alerts)
}
