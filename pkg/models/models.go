// Package models holds the data shapes shared between the agent bridge, the
// workflow engine, the result store and the HTTP API.
package models

import (
	"time"
)

// ── Capability ───────────────────────────────────────────────

// Capability names which remote agent family handled a call.
type Capability string

const (
	CapabilityGatekeeper Capability = "gatekeeper"
	CapabilityGuardian   Capability = "guardian"
)

// ── Call Outcome ─────────────────────────────────────────────

type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
	CallTimeout CallStatus = "timeout"
)

// CallOutcome is the uniform result of one remote agent invocation.
//
// Status is CallError only when talking to the identity service or the run
// endpoint failed, CallTimeout only when polling ran out of budget, and
// CallSuccess otherwise. A successful outcome always carries a non-empty
// Decision (gatekeeper) or Assessment (guardian).
type CallOutcome struct {
	Agent               Capability `json:"agent"`
	CapabilityID        string     `json:"capability_id"`
	VehicleID           string     `json:"vehicle_id,omitempty"`
	Action              string     `json:"action"`
	Status              CallStatus `json:"status"`
	ResponseTimeSeconds float64    `json:"response_time_seconds"`
	PollsMade           int        `json:"polls_made,omitempty"`
	Decision            string     `json:"decision,omitempty"`
	Assessment          string     `json:"assessment,omitempty"`
	ThreadID            string     `json:"thread_id,omitempty"`
	RunID               string     `json:"run_id,omitempty"`
	SubmittedOnly       bool       `json:"submitted_only,omitempty"`
	Error               string     `json:"error,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
}

// Text returns the capability-specific text field.
func (o *CallOutcome) Text() string {
	if o.Agent == CapabilityGatekeeper {
		return o.Decision
	}
	return o.Assessment
}

// Succeeded reports whether the call finished with CallSuccess.
func (o *CallOutcome) Succeeded() bool {
	return o.Status == CallSuccess
}

// ── Workflow ─────────────────────────────────────────────────

type WorkflowStatus string

const (
	WorkflowRunning WorkflowStatus = "running"
	WorkflowSuccess WorkflowStatus = "success"
	WorkflowFailed  WorkflowStatus = "failed"
	WorkflowBlocked WorkflowStatus = "blocked"
	WorkflowError   WorkflowStatus = "error"
)

// Terminal reports whether s is a final workflow status.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowSuccess, WorkflowFailed, WorkflowBlocked, WorkflowError:
		return true
	}
	return false
}

const (
	DepartureWorkflowID = "departure_workflow"
	EmergencyWorkflowID = "emergency_response_workflow"
)

type StepKind string

const (
	StepAgent     StepKind = "agent"
	StepMilestone StepKind = "milestone"
)

// WorkflowStep is one entry of a workflow's step log. Agent steps carry the
// façade outcome in Result; milestone steps only carry a Message.
type WorkflowStep struct {
	Step    int          `json:"step"`
	Name    string       `json:"name"`
	Kind    StepKind     `json:"kind"`
	Status  CallStatus   `json:"status"`
	Result  *CallOutcome `json:"result,omitempty"`
	Message string       `json:"message,omitempty"`
}

// WorkflowResult is the append-only record of one workflow run. Once Status
// is terminal the result is frozen: AppendStep and Finish become no-ops.
type WorkflowResult struct {
	RunID        string         `json:"run_id"`
	WorkflowID   string         `json:"workflow_id"`
	VehicleID    string         `json:"vehicle_id"`
	IncidentType string         `json:"incident_type,omitempty"`
	Status       WorkflowStatus `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	Steps        []WorkflowStep `json:"steps"`
	Error        string         `json:"error,omitempty"`
}

// AppendStep records the next step, numbering it after the last one.
// Returns false if the result is already frozen.
func (r *WorkflowResult) AppendStep(s WorkflowStep) bool {
	if r.Status.Terminal() {
		return false
	}
	s.Step = len(r.Steps) + 1
	r.Steps = append(r.Steps, s)
	return true
}

// Finish sets the terminal status exactly once and stamps CompletedAt.
// Returns false if the result was already frozen.
func (r *WorkflowResult) Finish(status WorkflowStatus, at time.Time) bool {
	if r.Status.Terminal() || !status.Terminal() {
		return false
	}
	r.Status = status
	at = at.UTC()
	r.CompletedAt = &at
	r.DurationMs = at.Sub(r.StartedAt).Milliseconds()
	return true
}

// WorkflowSummary is the lightweight listing shape for stored workflow runs.
type WorkflowSummary struct {
	RunID        string         `json:"run_id"`
	WorkflowID   string         `json:"workflow_id"`
	VehicleID    string         `json:"vehicle_id"`
	IncidentType string         `json:"incident_type,omitempty"`
	Status       WorkflowStatus `json:"status"`
	Steps        int            `json:"steps"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Summarize builds the listing shape of r.
func (r *WorkflowResult) Summarize() WorkflowSummary {
	return WorkflowSummary{
		RunID:        r.RunID,
		WorkflowID:   r.WorkflowID,
		VehicleID:    r.VehicleID,
		IncidentType: r.IncidentType,
		Status:       r.Status,
		Steps:        len(r.Steps),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}
