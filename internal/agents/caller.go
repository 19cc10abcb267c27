// Package agents exposes the two remote agent capabilities, gatekeeper and
// guardian, as calls that always return a models.CallOutcome.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/metrics"
	"github.com/korrapati-satish/vahan-rakshak/internal/orchestrate"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Substituted when an agent replies with no extractable text.
const (
	GatekeeperFallback = "Cargo validation completed."
	GuardianFallback   = "Vehicle monitoring completed."
)

var tracer = otel.Tracer("vahan-rakshak/agents")

// GatekeeperActions are the actions the gatekeeper capability understands.
var GatekeeperActions = []string{"scan_cargo", "check_compliance", "authorize_vehicle"}

// GuardianActions are the guardian actions the pipelines and the monitoring
// routes use by default.
var GuardianActions = []string{
	"activate_monitoring",
	"initialize_sensors",
	"detect_incident",
	"unlock_doors",
	"activate_alarm",
	"broadcast_pa_alert",
	"dispatch_sos",
	"monitor_driver",
	"monitor_speed",
}

// otherAction replaces unknown actions in metric labels and span names.
const otherAction = "other"

// IsGatekeeperAction reports whether action is one of GatekeeperActions.
func IsGatekeeperAction(action string) bool {
	for _, a := range GatekeeperActions {
		if a == action {
			return true
		}
	}
	return false
}

// Submitter starts a run on the execution service.
type Submitter interface {
	Submit(ctx context.Context, capabilityID, action string, payload map[string]interface{}) (orchestrate.RunHandle, error)
}

// Poller waits for the reply to a run.
type Poller interface {
	Poll(ctx context.Context, threadID string, maxWait, interval time.Duration) (orchestrate.PolledMessage, error)
}

// Config tunes a Caller. Zero durations use the orchestrate defaults.
type Config struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	Clock        orchestrate.Clock
	// ExtraActions are reported under their own name in metrics, next to
	// GatekeeperActions and GuardianActions.
	ExtraActions []string
}

// Caller runs one agent call end to end: submit, poll, normalize.
// It is safe for concurrent use.
type Caller struct {
	submitter Submitter
	poller    Poller
	maxWait   time.Duration
	interval  time.Duration
	clock     orchestrate.Clock
	known     map[string]bool
}

// NewCaller builds a caller from its two collaborators.
func NewCaller(submitter Submitter, poller Poller, cfg Config) *Caller {
	c := &Caller{
		submitter: submitter,
		poller:    poller,
		maxWait:   cfg.MaxWait,
		interval:  cfg.PollInterval,
		clock:     cfg.Clock,
		known:     make(map[string]bool),
	}
	for _, list := range [][]string{GatekeeperActions, GuardianActions, cfg.ExtraActions} {
		for _, a := range list {
			c.known[a] = true
		}
	}
	if c.maxWait <= 0 {
		c.maxWait = orchestrate.DefaultMaxWait
	}
	if c.interval <= 0 {
		c.interval = orchestrate.DefaultPollInterval
	}
	if c.clock == nil {
		c.clock = orchestrate.SystemClock()
	}
	return c
}

// FromClient builds a caller that submits and polls through client.
func FromClient(client *orchestrate.Client, cfg Config) *Caller {
	return NewCaller(client, orchestrate.NewPoller(client, cfg.Clock), cfg)
}

// CallGatekeeper invokes a gatekeeper capability. The reply text lands in
// Decision.
func (c *Caller) CallGatekeeper(ctx context.Context, capabilityID, action string, payload map[string]interface{}) models.CallOutcome {
	return c.call(ctx, models.CapabilityGatekeeper, capabilityID, "", action, payload)
}

// CallGuardian invokes a guardian capability for one vehicle. The reply text
// lands in Assessment.
func (c *Caller) CallGuardian(ctx context.Context, capabilityID, vehicleID, action string, sensorData map[string]interface{}) models.CallOutcome {
	payload := map[string]interface{}{
		"vehicle_id":  vehicleID,
		"sensor_data": sensorData,
	}
	return c.call(ctx, models.CapabilityGuardian, capabilityID, vehicleID, action, payload)
}

// call never returns an error and never panics: every failure below it is
// folded into the outcome.
func (c *Caller) call(ctx context.Context, agent models.Capability, capabilityID, vehicleID, action string, payload map[string]interface{}) (out models.CallOutcome) {
	start := c.clock.Now()
	out = models.CallOutcome{
		Agent:        agent,
		CapabilityID: capabilityID,
		VehicleID:    vehicleID,
		Action:       action,
		Timestamp:    start.UTC(),
	}

	ctx, span := tracer.Start(ctx, "agent."+string(agent)+"."+c.label(action),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("vahan.agent", string(agent)),
			attribute.String("vahan.capability_id", capabilityID),
			attribute.String("vahan.action", action),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			out.Status = models.CallError
			out.Error = fmt.Sprintf("agent call panicked: %v", r)
		}
		out.ResponseTimeSeconds = c.clock.Now().Sub(start).Seconds()
		c.finish(span, &out)
	}()

	handle, err := c.submitter.Submit(ctx, capabilityID, action, payload)
	if err != nil {
		out.Status = models.CallError
		out.Error = err.Error()
		return out
	}
	out.ThreadID = handle.ThreadID
	out.RunID = handle.RunID

	var text string
	if handle.ThreadID == "" {
		out.SubmittedOnly = true
	} else {
		msg, err := c.poller.Poll(ctx, handle.ThreadID, c.maxWait, c.interval)
		out.PollsMade = msg.PollsMade
		if err != nil {
			out.Status = models.CallError
			out.Error = err.Error()
			return out
		}
		if msg.TimedOut() {
			out.Status = models.CallTimeout
			out.Error = msg.Error
			return out
		}
		text = orchestrate.ExtractText(msg.Content)
	}

	if strings.TrimSpace(text) == "" {
		text = fallbackText(agent)
	}
	out.Status = models.CallSuccess
	if agent == models.CapabilityGatekeeper {
		out.Decision = text
	} else {
		out.Assessment = text
	}
	return out
}

func (c *Caller) finish(span trace.Span, out *models.CallOutcome) {
	defer span.End()

	span.SetAttributes(
		attribute.String("vahan.status", string(out.Status)),
		attribute.String("vahan.thread_id", out.ThreadID),
		attribute.Int("vahan.polls_made", out.PollsMade),
	)
	if out.Status == models.CallError {
		span.SetStatus(codes.Error, out.Error)
	}

	action := c.label(out.Action)
	metrics.AgentCalls.WithLabelValues(string(out.Agent), action, string(out.Status)).Inc()
	metrics.AgentCallDuration.WithLabelValues(string(out.Agent), action).Observe(out.ResponseTimeSeconds)

	evt := log.Info()
	if !out.Succeeded() {
		evt = log.Warn().Str("error", out.Error)
	}
	evt.Str("agent", string(out.Agent)).
		Str("capability_id", out.CapabilityID).
		Str("action", out.Action).
		Str("vehicle_id", out.VehicleID).
		Str("status", string(out.Status)).
		Int("polls", out.PollsMade).
		Float64("response_time_seconds", out.ResponseTimeSeconds).
		Msg("Agent call finished")
}

// label keeps metric and span cardinality bounded.
func (c *Caller) label(action string) string {
	if c.known[action] {
		return action
	}
	return otherAction
}

func fallbackText(agent models.Capability) string {
	if agent == models.CapabilityGatekeeper {
		return GatekeeperFallback
	}
	return GuardianFallback
}
