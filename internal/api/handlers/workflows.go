package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Workflow Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type departureRequest struct {
	VehicleID string                 `json:"vehicle_id"`
	Cargo     map[string]interface{} `json:"cargo"`
}

// StartDeparture runs the departure clearance pipeline to completion and
// returns its result. The HTTP status is 200 for every terminal status; the
// outcome is in the body.
func (h *Handlers) StartDeparture(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req departureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if req.VehicleID == "" {
		respondError(w, http.StatusUnprocessableEntity, "vehicle_id is required")
		return
	}
	if req.Cargo == nil {
		respondError(w, http.StatusUnprocessableEntity, "cargo is required")
		return
	}

	res := h.Workflow.Departure(r.Context(), req.VehicleID, req.Cargo)
	respondJSON(w, http.StatusOK, res)
}

type emergencyRequest struct {
	VehicleID    string                 `json:"vehicle_id"`
	IncidentType string                 `json:"incident_type"`
	SensorData   map[string]interface{} `json:"sensor_data"`
}

// StartEmergency runs the emergency response pipeline.
func (h *Handlers) StartEmergency(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req emergencyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	req.IncidentType = strings.TrimSpace(req.IncidentType)
	if req.VehicleID == "" {
		respondError(w, http.StatusUnprocessableEntity, "vehicle_id is required")
		return
	}
	if req.IncidentType == "" {
		respondError(w, http.StatusUnprocessableEntity, "incident_type is required")
		return
	}

	res := h.Workflow.Emergency(r.Context(), req.VehicleID, req.IncidentType, req.SensorData)
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	res, err := h.Store.GetWorkflow(r.Context(), runID)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListWorkflows lists stored results, filtered by the vehicle_id and
// workflow_id query parameters.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		VehicleID:  q.Get("vehicle_id"),
		WorkflowID: q.Get("workflow_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	results, err := h.Store.ListWorkflows(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries := make([]models.WorkflowSummary, 0, len(results))
	for i := range results {
		summaries = append(summaries, results[i].Summarize())
	}
	respondJSON(w, http.StatusOK, summaries)
}
