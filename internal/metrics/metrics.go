// Package metrics declares the Prometheus collectors for the agent bridge and
// the workflow engine. Collectors register on the default registry and are
// served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Identity service
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_token_refreshes_total",
			Help: "Identity token refresh attempts by result",
		},
		[]string{"result"},
	)

	// Run submission
	RunSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_run_submissions_total",
			Help: "Run submissions to the execution service by result",
		},
		[]string{"capability_id", "result"},
	)

	// Thread polling
	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_poll_attempts_total",
			Help: "Thread message reads by result",
		},
		[]string{"result"},
	)

	PollsPerCall = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vahan_polls_per_call",
			Help:    "Number of thread reads needed before a reply or timeout",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100, 300},
		},
	)

	// Agent calls
	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_agent_calls_total",
			Help: "Agent façade calls by capability, action and outcome status",
		},
		[]string{"agent", "action", "status"},
	)

	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vahan_agent_call_duration_seconds",
			Help:    "Wall-clock duration of agent façade calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"agent", "action"},
	)

	// Workflows
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_workflows_started_total",
			Help: "Workflows started by workflow id",
		},
		[]string{"workflow_id"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_workflows_completed_total",
			Help: "Workflows finished by workflow id and terminal status",
		},
		[]string{"workflow_id", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vahan_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"workflow_id"},
	)

	// Notifications
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vahan_webhook_notifications_total",
			Help: "Webhook deliveries by event type and result",
		},
		[]string{"event", "result"},
	)
)
