package handlers

import (
	"net/http"
	"strings"

	"github.com/korrapati-satish/vahan-rakshak/internal/agents"
)

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type gatekeeperRunRequest struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
}

// RunGatekeeper invokes the gatekeeper capability with one of its known
// actions (scan_cargo, check_compliance, authorize_vehicle).
func (h *Handlers) RunGatekeeper(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req gatekeeperRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	if !agents.IsGatekeeperAction(req.Action) {
		respondError(w, http.StatusUnprocessableEntity,
			"action must be one of "+strings.Join(agents.GatekeeperActions, ", "))
		return
	}
	if req.Payload == nil {
		respondError(w, http.StatusBadRequest, "payload is required")
		return
	}

	out := h.Agents.CallGatekeeper(r.Context(), h.AgentIDs.GatekeeperID, req.Action, req.Payload)
	if vid, ok := req.Payload["vehicle_id"].(string); ok {
		h.Fleet.RecordOutcome(vid, out)
	}
	respondJSON(w, http.StatusOK, out)
}

type driverMonitoringRequest struct {
	VehicleID           string   `json:"vehicle_id"`
	EyeClosurePct       *float64 `json:"eye_closure_pct"`
	BlinkDurationMs     *float64 `json:"blink_duration_ms"`
	YawningRatePerMin   *float64 `json:"yawning_rate_per_min"`
	SteeringVariability *float64 `json:"steering_variability"`
	LaneDepartures      *int     `json:"lane_departures"`
}

func (req *driverMonitoringRequest) validate() string {
	switch {
	case strings.TrimSpace(req.VehicleID) == "":
		return "vehicle_id is required"
	case req.EyeClosurePct == nil || *req.EyeClosurePct < 0 || *req.EyeClosurePct > 100:
		return "eye_closure_pct must be between 0 and 100"
	case req.BlinkDurationMs == nil || *req.BlinkDurationMs <= 0:
		return "blink_duration_ms must be greater than 0"
	case req.YawningRatePerMin == nil || *req.YawningRatePerMin < 0:
		return "yawning_rate_per_min must be 0 or more"
	case req.SteeringVariability == nil || *req.SteeringVariability < 0 || *req.SteeringVariability > 1:
		return "steering_variability must be between 0 and 1"
	case req.LaneDepartures == nil || *req.LaneDepartures < 0:
		return "lane_departures must be 0 or more"
	}
	return ""
}

// MonitorDriver forwards driver fatigue metrics to the guardian.
func (h *Handlers) MonitorDriver(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req driverMonitoringRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	sensorData := map[string]interface{}{
		"eye_closure_pct":      *req.EyeClosurePct,
		"blink_duration_ms":    *req.BlinkDurationMs,
		"yawning_rate_per_min": *req.YawningRatePerMin,
		"steering_variability": *req.SteeringVariability,
		"lane_departures":      *req.LaneDepartures,
	}
	out := h.Agents.CallGuardian(r.Context(), h.AgentIDs.GuardianID, req.VehicleID, h.AgentIDs.MonitorAction, sensorData)
	h.Fleet.RecordOutcome(req.VehicleID, out)
	respondJSON(w, http.StatusOK, out)
}

type speedReadingRequest struct {
	VehicleID       string   `json:"vehicle_id"`
	CurrentSpeedKmh *float64 `json:"current_speed_kmh"`
	SpeedLimitKmh   *float64 `json:"speed_limit_kmh"`
	TimestampMs     *int64   `json:"timestamp_ms"`
}

// ReportSpeed forwards a speed reading to the guardian. A missing timestamp
// is stamped with the current time.
func (h *Handlers) ReportSpeed(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req speedReadingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch {
	case strings.TrimSpace(req.VehicleID) == "":
		respondError(w, http.StatusUnprocessableEntity, "vehicle_id is required")
		return
	case req.CurrentSpeedKmh == nil || *req.CurrentSpeedKmh < 0:
		respondError(w, http.StatusUnprocessableEntity, "current_speed_kmh must be 0 or more")
		return
	case req.SpeedLimitKmh == nil || *req.SpeedLimitKmh <= 0:
		respondError(w, http.StatusUnprocessableEntity, "speed_limit_kmh must be greater than 0")
		return
	}

	ts := h.now().UnixMilli()
	if req.TimestampMs != nil && *req.TimestampMs > 0 {
		ts = *req.TimestampMs
	}
	sensorData := map[string]interface{}{
		"current_speed_kmh": *req.CurrentSpeedKmh,
		"speed_limit_kmh":   *req.SpeedLimitKmh,
		"timestamp_ms":      ts,
	}
	out := h.Agents.CallGuardian(r.Context(), h.AgentIDs.GuardianID, req.VehicleID, h.AgentIDs.SpeedAction, sensorData)
	h.Fleet.RecordOutcome(req.VehicleID, out)
	respondJSON(w, http.StatusOK, out)
}
