package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/korrapati-satish/vahan-rakshak/internal/api"
	"github.com/korrapati-satish/vahan-rakshak/internal/api/handlers"
	"github.com/korrapati-satish/vahan-rakshak/internal/config"
	"github.com/korrapati-satish/vahan-rakshak/internal/fleet"
	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/internal/workflow"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgents answers every call with success unless status overrides it.
type fakeAgents struct {
	mu     sync.Mutex
	status map[string]models.CallStatus
	calls  []fakeCall
}

type fakeCall struct {
	capabilityID string
	vehicleID    string
	action       string
	payload      map[string]interface{}
}

func (a *fakeAgents) answer(agent models.Capability, capabilityID, vehicleID, action string, payload map[string]interface{}) models.CallOutcome {
	a.mu.Lock()
	a.calls = append(a.calls, fakeCall{capabilityID, vehicleID, action, payload})
	st, ok := a.status[action]
	a.mu.Unlock()

	o := models.CallOutcome{
		Agent:        agent,
		CapabilityID: capabilityID,
		VehicleID:    vehicleID,
		Action:       action,
		Status:       models.CallSuccess,
	}
	if ok {
		o.Status = st
		o.Error = "remote said no"
		return o
	}
	if agent == models.CapabilityGatekeeper {
		o.Decision = "approved"
	} else {
		o.Assessment = "all clear"
	}
	return o
}

func (a *fakeAgents) CallGatekeeper(_ context.Context, capabilityID, action string, payload map[string]interface{}) models.CallOutcome {
	return a.answer(models.CapabilityGatekeeper, capabilityID, "", action, payload)
}

func (a *fakeAgents) CallGuardian(_ context.Context, capabilityID, vehicleID, action string, sensorData map[string]interface{}) models.CallOutcome {
	return a.answer(models.CapabilityGuardian, capabilityID, vehicleID, action, sensorData)
}

func (a *fakeAgents) last() fakeCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

type testServer struct {
	handler http.Handler
	agents  *fakeAgents
	store   *store.MemoryStore
	fleet   *fleet.Registry
}

func newTestServer(t *testing.T, environ map[string]string, withAgents bool) *testServer {
	t.Helper()
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)

	s := store.NewMemoryStore(store.MemoryOptions{})
	t.Cleanup(func() { s.Close() })
	reg := fleet.NewRegistry(0)

	ts := &testServer{store: s, fleet: reg}
	h := handlers.New(nil, nil, s, reg, cfg.Agents)
	if withAgents {
		ts.agents = &fakeAgents{status: map[string]models.CallStatus{}}
		engine := workflow.NewEngine(ts.agents, s, reg, workflow.Config{
			GatekeeperID: cfg.Agents.GatekeeperID,
			GuardianID:   cfg.Agents.GuardianID,
		})
		h = handlers.New(ts.agents, engine, s, reg, cfg.Agents)
	}
	ts.handler = api.NewRouter(cfg, h)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(dst), w.Body.String())
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, map[string]string{"VAHAN_VERSION": "9.9.9"}, false)

	for _, path := range []string{"/health", "/healthz"} {
		w := ts.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		var body map[string]string
		decode(t, w, &body)
		assert.Equal(t, "ok", body["status"])
	}

	w := ts.do(http.MethodGet, "/version", "")
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "9.9.9", body["version"])
	assert.Equal(t, "vahan-rakshak", body["service"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, false)
	w := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAgentRoutes_NotConfigured(t *testing.T) {
	ts := newTestServer(t, nil, false)

	routes := map[string]string{
		"/v1/gatekeeper/run":      `{"action":"scan_cargo","payload":{}}`,
		"/v1/driver/monitoring":   `{}`,
		"/v1/speed":               `{}`,
		"/v1/workflows/departure": `{}`,
		"/v1/workflows/emergency": `{}`,
	}
	for path, body := range routes {
		w := ts.do(http.MethodPost, path, body)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Contains(t, w.Body.String(), "not configured", path)
	}

	// Read routes work without the execution service.
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/workflows", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/alerts/KA-01", "").Code)
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, map[string]string{"VAHAN_API_KEYS": "s3cret"}, true)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/v1/workflows", "").Code)

	r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
	r.Header.Set("X-API-Key", "s3cret")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunGatekeeper(t *testing.T) {
	ts := newTestServer(t, nil, true)

	w := ts.do(http.MethodPost, "/v1/gatekeeper/run",
		`{"action":"scan_cargo","payload":{"vehicle_id":"KA-01","weight_kg":1200}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out models.CallOutcome
	decode(t, w, &out)
	assert.Equal(t, models.CallSuccess, out.Status)
	assert.Equal(t, "approved", out.Decision)

	c := ts.agents.last()
	assert.Equal(t, "gatekeeper_v1", c.capabilityID)
	assert.Equal(t, "scan_cargo", c.action)
	assert.Equal(t, 1200.0, c.payload["weight_kg"])

	v, ok := ts.fleet.Get("KA-01")
	require.True(t, ok)
	assert.Equal(t, 1, v.Status().OutcomeCount)
}

func TestRunGatekeeper_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil, true)

	tests := []struct {
		body string
		want int
	}{
		{``, http.StatusBadRequest},
		{`{not json`, http.StatusBadRequest},
		{`{"payload":{}}`, http.StatusBadRequest},
		{`{"action":"scan_cargo"}`, http.StatusBadRequest},
		{`{"action":"drop_table","payload":{}}`, http.StatusUnprocessableEntity},
		{`{"action":"dispatch_sos","payload":{}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		w := ts.do(http.MethodPost, "/v1/gatekeeper/run", tt.body)
		assert.Equal(t, tt.want, w.Code, tt.body)
	}
	assert.Empty(t, ts.agents.calls)
}

func TestMonitorDriver(t *testing.T) {
	ts := newTestServer(t, nil, true)

	w := ts.do(http.MethodPost, "/v1/driver/monitoring", `{
		"vehicle_id": "KA-01",
		"eye_closure_pct": 35,
		"blink_duration_ms": 420,
		"yawning_rate_per_min": 3,
		"steering_variability": 0.4,
		"lane_departures": 2
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c := ts.agents.last()
	assert.Equal(t, "guardian_v1", c.capabilityID)
	assert.Equal(t, "monitor_driver", c.action)
	assert.Equal(t, "KA-01", c.vehicleID)
	assert.Equal(t, 35.0, c.payload["eye_closure_pct"])
	assert.Equal(t, 2, c.payload["lane_departures"])

	// Guardian outcomes raise an alert for the vehicle.
	w = ts.do(http.MethodGet, "/v1/alerts/KA-01", "")
	var alerts []fleet.Alert
	decode(t, w, &alerts)
	assert.Len(t, alerts, 1)
}

func TestMonitorDriver_Validation(t *testing.T) {
	ts := newTestServer(t, nil, true)

	tests := []struct {
		name string
		body string
	}{
		{"missing vehicle", `{"eye_closure_pct":1,"blink_duration_ms":1,"yawning_rate_per_min":0,"steering_variability":0,"lane_departures":0}`},
		{"eye closure above 100", `{"vehicle_id":"v","eye_closure_pct":101,"blink_duration_ms":1,"yawning_rate_per_min":0,"steering_variability":0,"lane_departures":0}`},
		{"zero blink", `{"vehicle_id":"v","eye_closure_pct":1,"blink_duration_ms":0,"yawning_rate_per_min":0,"steering_variability":0,"lane_departures":0}`},
		{"steering above 1", `{"vehicle_id":"v","eye_closure_pct":1,"blink_duration_ms":1,"yawning_rate_per_min":0,"steering_variability":1.5,"lane_departures":0}`},
		{"negative lanes", `{"vehicle_id":"v","eye_closure_pct":1,"blink_duration_ms":1,"yawning_rate_per_min":0,"steering_variability":0,"lane_departures":-1}`},
		{"missing field", `{"vehicle_id":"v","eye_closure_pct":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/v1/driver/monitoring", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, ts.agents.calls)
}

func TestReportSpeed(t *testing.T) {
	ts := newTestServer(t, nil, true)

	w := ts.do(http.MethodPost, "/v1/speed",
		`{"vehicle_id":"KA-01","current_speed_kmh":92,"speed_limit_kmh":80,"timestamp_ms":1700000000000}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c := ts.agents.last()
	assert.Equal(t, "monitor_speed", c.action)
	assert.Equal(t, int64(1700000000000), c.payload["timestamp_ms"])

	w = ts.do(http.MethodPost, "/v1/speed", `{"vehicle_id":"KA-01","current_speed_kmh":50,"speed_limit_kmh":80}`)
	require.Equal(t, http.StatusOK, w.Code)
	ts2, ok := ts.agents.last().payload["timestamp_ms"].(int64)
	require.True(t, ok)
	assert.Positive(t, ts2)

	w = ts.do(http.MethodPost, "/v1/speed", `{"vehicle_id":"KA-01","current_speed_kmh":50,"speed_limit_kmh":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReportSpeed_TimeoutIsStillOK(t *testing.T) {
	ts := newTestServer(t, nil, true)
	ts.agents.status["monitor_speed"] = models.CallTimeout

	w := ts.do(http.MethodPost, "/v1/speed", `{"vehicle_id":"KA-01","current_speed_kmh":50,"speed_limit_kmh":80}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out models.CallOutcome
	decode(t, w, &out)
	assert.Equal(t, models.CallTimeout, out.Status)
}

func TestDepartureWorkflow_RoundTrip(t *testing.T) {
	ts := newTestServer(t, nil, true)

	w := ts.do(http.MethodPost, "/v1/workflows/departure",
		`{"vehicle_id":"KA-01","cargo":{"items":["rice"],"weight_kg":900}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.WorkflowResult
	decode(t, w, &res)
	assert.Equal(t, models.WorkflowSuccess, res.Status)
	assert.Equal(t, models.DepartureWorkflowID, res.WorkflowID)
	require.NotEmpty(t, res.RunID)

	w = ts.do(http.MethodGet, "/v1/workflows/"+res.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stored models.WorkflowResult
	decode(t, w, &stored)
	assert.Equal(t, res.RunID, stored.RunID)
	assert.Len(t, stored.Steps, len(res.Steps))

	w = ts.do(http.MethodGet, "/v1/workflows?vehicle_id=KA-01", "")
	var list []models.WorkflowSummary
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, res.RunID, list[0].RunID)

	w = ts.do(http.MethodGet, "/v1/status/KA-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st fleet.Status
	decode(t, w, &st)
	assert.Equal(t, "KA-01", st.VehicleID)
}

func TestDepartureWorkflow_BlockedIsOK(t *testing.T) {
	ts := newTestServer(t, nil, true)
	ts.agents.status["authorize_vehicle"] = models.CallError

	w := ts.do(http.MethodPost, "/v1/workflows/departure", `{"vehicle_id":"KA-01","cargo":{}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res models.WorkflowResult
	decode(t, w, &res)
	assert.Equal(t, models.WorkflowBlocked, res.Status)
}

func TestDepartureWorkflow_Validation(t *testing.T) {
	ts := newTestServer(t, nil, true)

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(http.MethodPost, "/v1/workflows/departure", `{"cargo":{}}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(http.MethodPost, "/v1/workflows/departure", `{"vehicle_id":"KA-01"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/workflows/departure", `[]`).Code)
}

func TestEmergencyWorkflow_Incidents(t *testing.T) {
	ts := newTestServer(t, nil, true)

	w := ts.do(http.MethodPost, "/v1/workflows/emergency",
		`{"vehicle_id":"KA-01","incident_type":"fire","sensor_data":{"temp_c":95}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.WorkflowResult
	decode(t, w, &res)
	assert.Equal(t, models.EmergencyWorkflowID, res.WorkflowID)
	assert.Equal(t, "fire", res.IncidentType)

	// A departure for the same vehicle is not an incident.
	ts.do(http.MethodPost, "/v1/workflows/departure", `{"vehicle_id":"KA-01","cargo":{}}`)

	w = ts.do(http.MethodGet, "/v1/incidents/KA-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	var incidents []models.WorkflowSummary
	decode(t, w, &incidents)
	require.Len(t, incidents, 1)
	assert.Equal(t, res.RunID, incidents[0].RunID)

	assert.Equal(t, http.StatusUnprocessableEntity,
		ts.do(http.MethodPost, "/v1/workflows/emergency", `{"vehicle_id":"KA-01"}`).Code)
}

func TestReadRoutes_NotFoundAndEmpty(t *testing.T) {
	ts := newTestServer(t, nil, true)

	w := ts.do(http.MethodGet, "/v1/workflows/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/status/ghost", "").Code)

	w = ts.do(http.MethodGet, "/v1/incidents/ghost", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = ts.do(http.MethodGet, "/v1/alerts/ghost", "")
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/workflows?limit=-3", "").Code)
}
