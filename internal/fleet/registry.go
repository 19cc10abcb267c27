// Package fleet keeps per-vehicle state for the lifetime of the process: the
// most recent agent outcomes, incident summaries and alerts.
//
// Lock discipline: the Registry lock guards only the id → *Vehicle map. Each
// Vehicle has its own lock, so recording for one vehicle never blocks another.
package fleet

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
)

// DefaultHistory bounds each per-vehicle list.
const DefaultHistory = 50

// ErrEmptyVehicleID is returned for a blank vehicle id.
var ErrEmptyVehicleID = errors.New("vehicle id is required")

// Registry maps vehicle ids to their state. Created once at startup and owned
// by the API layer.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
	history  int
	now      func() time.Time
}

// NewRegistry creates an empty registry. history <= 0 uses DefaultHistory.
func NewRegistry(history int) *Registry {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Registry{
		vehicles: make(map[string]*Vehicle),
		history:  history,
		now:      time.Now,
	}
}

// GetOrCreate returns the vehicle for id, creating it on first use.
func (r *Registry) GetOrCreate(id string) (*Vehicle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyVehicleID
	}

	r.mu.RLock()
	v, ok := r.vehicles[id]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.vehicles[id]; ok {
		return v, nil
	}
	v = &Vehicle{id: id, history: r.history, firstSeen: r.now().UTC(), now: r.now}
	r.vehicles[id] = v
	return v, nil
}

// Get returns the vehicle for id without creating it.
func (r *Registry) Get(id string) (*Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[strings.TrimSpace(id)]
	return v, ok
}

// Len reports how many vehicles are known.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

// RecordOutcome files an agent outcome under its vehicle. Outcomes without a
// vehicle id are ignored.
func (r *Registry) RecordOutcome(vehicleID string, o models.CallOutcome) {
	v, err := r.GetOrCreate(vehicleID)
	if err != nil {
		return
	}
	v.RecordOutcome(o)
}

// RecordWorkflow files a finished workflow under its vehicle.
func (r *Registry) RecordWorkflow(res *models.WorkflowResult) {
	v, err := r.GetOrCreate(res.VehicleID)
	if err != nil {
		return
	}
	v.RecordWorkflow(res)
}

// Vehicle is the in-process state of one vehicle. Safe for concurrent use.
type Vehicle struct {
	id        string
	history   int
	firstSeen time.Time
	now       func() time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	outcomes  []models.CallOutcome
	incidents []models.WorkflowSummary
	alerts    []Alert
	lastRun   *models.WorkflowSummary
}

// Alert is an outcome worth surfacing to an operator.
type Alert struct {
	Action    string            `json:"action"`
	Agent     models.Capability `json:"agent"`
	Status    models.CallStatus `json:"status"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}

// ID returns the vehicle id.
func (v *Vehicle) ID() string { return v.id }

// RecordOutcome appends o to the outcome history. Guardian assessments and
// every non-success outcome also raise an alert.
func (v *Vehicle) RecordOutcome(o models.CallOutcome) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastSeen = v.now().UTC()
	v.outcomes = appendBounded(v.outcomes, o, v.history)

	if o.Succeeded() && o.Agent != models.CapabilityGuardian {
		return
	}
	msg := o.Text()
	if !o.Succeeded() {
		msg = o.Error
	}
	v.alerts = appendBounded(v.alerts, Alert{
		Action:    o.Action,
		Agent:     o.Agent,
		Status:    o.Status,
		Message:   msg,
		Timestamp: o.Timestamp,
	}, v.history)
}

// RecordWorkflow remembers the latest run. Emergency runs are also kept as
// incidents.
func (v *Vehicle) RecordWorkflow(res *models.WorkflowResult) {
	sum := res.Summarize()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastSeen = v.now().UTC()
	v.lastRun = &sum
	if res.WorkflowID == models.EmergencyWorkflowID {
		v.incidents = appendBounded(v.incidents, sum, v.history)
	}
}

// Status is a point-in-time view of a vehicle.
type Status struct {
	VehicleID     string                  `json:"vehicle_id"`
	FirstSeen     time.Time               `json:"first_seen"`
	LastSeen      time.Time               `json:"last_seen"`
	LastWorkflow  *models.WorkflowSummary `json:"last_workflow,omitempty"`
	LastOutcome   *models.CallOutcome     `json:"last_outcome,omitempty"`
	OutcomeCount  int                     `json:"outcome_count"`
	IncidentCount int                     `json:"incident_count"`
	AlertCount    int                     `json:"alert_count"`
}

// Status returns a snapshot of the vehicle.
func (v *Vehicle) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Status{
		VehicleID:     v.id,
		FirstSeen:     v.firstSeen,
		LastSeen:      v.lastSeen,
		OutcomeCount:  len(v.outcomes),
		IncidentCount: len(v.incidents),
		AlertCount:    len(v.alerts),
	}
	if v.lastRun != nil {
		run := *v.lastRun
		s.LastWorkflow = &run
	}
	if n := len(v.outcomes); n > 0 {
		last := v.outcomes[n-1]
		s.LastOutcome = &last
	}
	return s
}

// Outcomes returns the recorded outcomes, newest last.
func (v *Vehicle) Outcomes() []models.CallOutcome {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.CallOutcome{}, v.outcomes...)
}

// Incidents returns emergency run summaries, newest last.
func (v *Vehicle) Incidents() []models.WorkflowSummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.WorkflowSummary{}, v.incidents...)
}

// Alerts returns raised alerts, newest last.
func (v *Vehicle) Alerts() []Alert {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Alert{}, v.alerts...)
}

// appendBounded appends item and drops the oldest entries beyond limit.
func appendBounded[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if over := len(list) - limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}
