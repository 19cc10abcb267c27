// Package workflow sequences agent calls into the fixed vehicle pipelines.
//
// Every pipeline runs its steps strictly in order on the caller's goroutine.
// Each step is either fatal (a non-success outcome stops the run and fixes
// its terminal status) or best-effort (recorded, never stops the run). The
// terminal status is set exactly once, and the finished result is persisted
// to the store and filed under the vehicle in the fleet registry.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/korrapati-satish/vahan-rakshak/internal/metrics"
	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const persistTimeout = 5 * time.Second

var tracer = otel.Tracer("vahan-rakshak/workflow")

// Agents is the agent call façade the pipelines drive. Implementations must
// not return errors or panic for remote failures; those arrive as outcomes.
type Agents interface {
	CallGatekeeper(ctx context.Context, capabilityID, action string, payload map[string]interface{}) models.CallOutcome
	CallGuardian(ctx context.Context, capabilityID, vehicleID, action string, sensorData map[string]interface{}) models.CallOutcome
}

// Recorder receives every step outcome and every finished run.
type Recorder interface {
	RecordOutcome(vehicleID string, o models.CallOutcome)
	RecordWorkflow(res *models.WorkflowResult)
}

// Notifier is told about every finished run after it has been persisted.
type Notifier interface {
	WorkflowFinished(ctx context.Context, res *models.WorkflowResult)
}

// Config names the capabilities the pipelines call.
type Config struct {
	GatekeeperID string
	GuardianID   string
	// Notifier is optional.
	Notifier Notifier
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs the departure and emergency pipelines.
type Engine struct {
	agents       Agents
	store        store.Store
	recorder     Recorder
	notifier     Notifier
	gatekeeperID string
	guardianID   string
	now          func() time.Time
}

// NewEngine creates a workflow engine. s and recorder may be nil.
func NewEngine(agents Agents, s store.Store, recorder Recorder, cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		agents:       agents,
		store:        s,
		recorder:     recorder,
		notifier:     cfg.Notifier,
		gatekeeperID: cfg.GatekeeperID,
		guardianID:   cfg.GuardianID,
		now:          now,
	}
}

// begin opens a run record and its span.
func (e *Engine) begin(ctx context.Context, workflowID, vehicleID, incidentType string) (context.Context, *models.WorkflowResult, trace.Span) {
	res := &models.WorkflowResult{
		RunID:        uuid.New().String(),
		WorkflowID:   workflowID,
		VehicleID:    vehicleID,
		IncidentType: incidentType,
		Status:       models.WorkflowRunning,
		StartedAt:    e.now().UTC(),
		Steps:        []models.WorkflowStep{},
	}

	ctx, span := tracer.Start(ctx, "workflow."+workflowID,
		trace.WithAttributes(
			attribute.String("vahan.run_id", res.RunID),
			attribute.String("vahan.workflow_id", workflowID),
			attribute.String("vahan.vehicle_id", vehicleID),
		),
	)

	metrics.WorkflowsStarted.WithLabelValues(workflowID).Inc()
	log.Info().
		Str("run_id", res.RunID).
		Str("workflow_id", workflowID).
		Str("vehicle_id", vehicleID).
		Str("incident_type", incidentType).
		Msg("🚦 Workflow started")

	return ctx, res, span
}

// end closes a run. A non-nil panicked value means something escaped the
// pipeline itself; the run is then marked error. Natural completion has
// already set the status, so Finish here only applies to that case.
func (e *Engine) end(ctx context.Context, res *models.WorkflowResult, span trace.Span, panicked interface{}) {
	defer span.End()

	if panicked != nil {
		if res.Finish(models.WorkflowError, e.now()) {
			res.Error = fmt.Sprintf("workflow aborted: %v", panicked)
		}
		log.Error().
			Str("run_id", res.RunID).
			Interface("panic", panicked).
			Msg("Workflow panicked")
	}
	// A pipeline that returned without a status is a programming error.
	if res.Finish(models.WorkflowError, e.now()) {
		res.Error = "workflow ended without a terminal status"
	}

	span.SetAttributes(
		attribute.String("vahan.status", string(res.Status)),
		attribute.Int("vahan.steps", len(res.Steps)),
	)
	if res.Status != models.WorkflowSuccess {
		span.SetStatus(codes.Error, string(res.Status))
	}

	metrics.WorkflowsCompleted.WithLabelValues(res.WorkflowID, string(res.Status)).Inc()
	metrics.WorkflowDuration.WithLabelValues(res.WorkflowID).Observe(float64(res.DurationMs) / 1000)

	if e.store != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		if err := e.store.SaveWorkflow(pctx, res); err != nil {
			log.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to persist workflow result")
		}
		cancel()
	}
	if e.recorder != nil {
		e.recorder.RecordWorkflow(res)
	}
	if e.notifier != nil {
		e.notifier.WorkflowFinished(ctx, res)
	}

	evt := log.Info()
	if res.Status != models.WorkflowSuccess {
		evt = log.Warn().Str("error", res.Error)
	}
	evt.Str("run_id", res.RunID).
		Str("workflow_id", res.WorkflowID).
		Str("vehicle_id", res.VehicleID).
		Str("status", string(res.Status)).
		Int("steps", len(res.Steps)).
		Int64("duration_ms", res.DurationMs).
		Msg("🏁 Workflow finished")
}

// agentStep appends an agent outcome. If abortAs is non-empty and the
// outcome is not a success, the run is finished with abortAs and false is
// returned.
func (e *Engine) agentStep(res *models.WorkflowResult, name string, o models.CallOutcome, abortAs models.WorkflowStatus) bool {
	outcome := o
	res.AppendStep(models.WorkflowStep{
		Name:   name,
		Kind:   models.StepAgent,
		Status: o.Status,
		Result: &outcome,
	})
	if e.recorder != nil {
		e.recorder.RecordOutcome(res.VehicleID, o)
	}

	log.Debug().
		Str("run_id", res.RunID).
		Int("step", len(res.Steps)).
		Str("name", name).
		Str("status", string(o.Status)).
		Msg("Workflow step recorded")

	if abortAs == "" || o.Succeeded() {
		return true
	}
	reason := o.Error
	if reason == "" {
		reason = string(o.Status)
	}
	if res.Finish(abortAs, e.now()) {
		res.Error = fmt.Sprintf("%s: %s", name, reason)
	}
	return false
}

// milestone appends a synthetic step that always succeeds.
func (e *Engine) milestone(res *models.WorkflowResult, name, message string) {
	res.AppendStep(models.WorkflowStep{
		Name:    name,
		Kind:    models.StepMilestone,
		Status:  models.CallSuccess,
		Message: message,
	})
}
