package workflow

import (
	"context"

	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
)

// Departure clears a vehicle for the road:
//
//	scan_cargo → check_compliance → authorize_vehicle →
//	activate_monitoring → initialize_sensors → ready for road
//
// The three gatekeeper steps are fatal. Scan and compliance failures end the
// run as failed; an authorization failure ends it as blocked. The guardian
// steps are best-effort.
func (e *Engine) Departure(ctx context.Context, vehicleID string, cargo map[string]interface{}) (res *models.WorkflowResult) {
	ctx, res, span := e.begin(ctx, models.DepartureWorkflowID, vehicleID, "")
	defer func() { e.end(ctx, res, span, recover()) }()

	scan := e.agents.CallGatekeeper(ctx, e.gatekeeperID, "scan_cargo", map[string]interface{}{
		"vehicle_id": vehicleID,
		"cargo":      cargo,
	})
	if !e.agentStep(res, "scan_cargo", scan, models.WorkflowFailed) {
		return res
	}

	compliance := e.agents.CallGatekeeper(ctx, e.gatekeeperID, "check_compliance", map[string]interface{}{
		"vehicle_id": vehicleID,
		"cargo":      cargo,
		"scan_data":  scan.Decision,
	})
	if !e.agentStep(res, "check_compliance", compliance, models.WorkflowFailed) {
		return res
	}

	auth := e.agents.CallGatekeeper(ctx, e.gatekeeperID, "authorize_vehicle", map[string]interface{}{
		"vehicle_id":        vehicleID,
		"compliance_status": compliance.Decision,
	})
	if !e.agentStep(res, "authorize_vehicle", auth, models.WorkflowBlocked) {
		return res
	}

	for _, action := range []string{"activate_monitoring", "initialize_sensors"} {
		o := e.agents.CallGuardian(ctx, e.guardianID, vehicleID, action, map[string]interface{}{})
		e.agentStep(res, action, o, "")
	}

	e.milestone(res, "ready_for_road", "Vehicle ready for road")
	res.Finish(models.WorkflowSuccess, e.now())
	return res
}

// Emergency runs every mitigation action for an incident regardless of
// individual failures:
//
//	detect_incident → unlock_doors → activate_alarm → broadcast_pa_alert →
//	dispatch_sos → monitoring active → emergency services notified
//
// A normal run always has seven steps. Only a panic inside the pipeline ends
// it as error.
func (e *Engine) Emergency(ctx context.Context, vehicleID, incidentType string, sensorData map[string]interface{}) (res *models.WorkflowResult) {
	ctx, res, span := e.begin(ctx, models.EmergencyWorkflowID, vehicleID, incidentType)
	defer func() { e.end(ctx, res, span, recover()) }()

	if sensorData == nil {
		sensorData = map[string]interface{}{}
	}
	incident := map[string]interface{}{"incident_type": incidentType}

	steps := []struct {
		action  string
		payload map[string]interface{}
	}{
		{"detect_incident", sensorData},
		{"unlock_doors", incident},
		{"activate_alarm", incident},
		{"broadcast_pa_alert", incident},
		{"dispatch_sos", map[string]interface{}{
			"incident_type": incidentType,
			"sensor_data":   sensorData,
		}},
	}
	for _, s := range steps {
		o := e.agents.CallGuardian(ctx, e.guardianID, vehicleID, s.action, s.payload)
		e.agentStep(res, s.action, o, "")
	}

	e.milestone(res, "monitoring_active", "Monitoring active")
	e.milestone(res, "awaiting_help", "Emergency services notified")
	res.Finish(models.WorkflowSuccess, e.now())
	return res
}
