// Package notify posts workflow events to operator webhooks.
//
// Every finished workflow becomes one Event. Each configured webhook that
// subscribes to the event type receives it as a JSON POST, optionally signed
// with HMAC-SHA256. Delivery runs in the background, detached from the
// request that finished the workflow.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/metrics"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventDepartureCleared EventType = "departure_cleared"
	EventDepartureFailed  EventType = "departure_failed"
	EventDepartureBlocked EventType = "departure_blocked"
	EventEmergency        EventType = "emergency_response"
	EventWorkflowError    EventType = "workflow_error"
)

const (
	defaultTimeout = 15 * time.Second
	maxAttempts    = 3

	signatureHeader = "X-Vahan-Signature"
	eventHeader     = "X-Vahan-Event"
)

// Event is the webhook payload.
type Event struct {
	Type         EventType             `json:"type"`
	RunID        string                `json:"run_id"`
	WorkflowID   string                `json:"workflow_id"`
	VehicleID    string                `json:"vehicle_id"`
	IncidentType string                `json:"incident_type,omitempty"`
	Status       models.WorkflowStatus `json:"status"`
	Steps        int                   `json:"steps"`
	Error        string                `json:"error,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// EventFor classifies a finished workflow.
func EventFor(res *models.WorkflowResult) Event {
	evt := Event{
		RunID:        res.RunID,
		WorkflowID:   res.WorkflowID,
		VehicleID:    res.VehicleID,
		IncidentType: res.IncidentType,
		Status:       res.Status,
		Steps:        len(res.Steps),
		Error:        res.Error,
		Timestamp:    time.Now().UTC(),
	}
	if res.CompletedAt != nil {
		evt.Timestamp = *res.CompletedAt
	}

	switch {
	case res.Status == models.WorkflowError:
		evt.Type = EventWorkflowError
	case res.WorkflowID == models.EmergencyWorkflowID:
		evt.Type = EventEmergency
	case res.Status == models.WorkflowBlocked:
		evt.Type = EventDepartureBlocked
	case res.Status == models.WorkflowFailed:
		evt.Type = EventDepartureFailed
	default:
		evt.Type = EventDepartureCleared
	}
	return evt
}

// ── Service ──────────────────────────────────────────────────

// Config configures a Service.
type Config struct {
	URLs []string
	// Secret signs every body when set.
	Secret string
	// Events limits delivery to these types. Empty means all.
	Events []string
	// Timeout bounds one delivery attempt. Zero means 15s.
	Timeout    time.Duration
	HTTPClient *http.Client
	// Backoff returns the wait before retry n (n >= 1). Defaults to 2n seconds.
	Backoff func(n int) time.Duration
}

// Service delivers workflow events to webhooks.
type Service struct {
	urls    []string
	secret  string
	events  map[EventType]bool
	timeout time.Duration
	client  *http.Client
	backoff func(n int) time.Duration

	// mu orders inflight.Add against Close.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewService creates a notification service. It returns nil when no webhook
// URL is configured; a nil *Service ignores every call.
func NewService(cfg Config) *Service {
	var urls []string
	for _, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}

	s := &Service{
		urls:    urls,
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		backoff: cfg.Backoff,
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.backoff == nil {
		s.backoff = func(n int) time.Duration { return time.Duration(n*2) * time.Second }
	}
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" && e != "*" {
			if s.events == nil {
				s.events = make(map[EventType]bool)
			}
			s.events[EventType(e)] = true
		}
	}

	log.Info().Int("webhooks", len(urls)).Msg("✅ Webhook notifications enabled")
	return s
}

// WorkflowFinished classifies res and delivers it to every subscribed
// webhook in the background.
func (s *Service) WorkflowFinished(ctx context.Context, res *models.WorkflowResult) {
	if s == nil {
		return
	}
	evt := EventFor(res)
	if !s.subscribes(evt.Type) {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("run_id", evt.RunID).Msg("Failed to encode webhook event")
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.Notifications.WithLabelValues(string(evt.Type), "dropped").Inc()
		log.Warn().
			Str("event", string(evt.Type)).
			Str("run_id", evt.RunID).
			Msg("Webhook dropped, notifier closed")
		return
	}
	for _, u := range s.urls {
		s.inflight.Add(1)
		go func(url string) {
			defer s.inflight.Done()
			s.deliver(ctx, url, evt, body)
		}(u)
	}
}

// Wait blocks until every delivery started so far has finished.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.inflight.Wait()
}

// Close stops accepting events and waits for pending deliveries.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Service) subscribes(t EventType) bool {
	return len(s.events) == 0 || s.events[t]
}

func (s *Service) deliver(ctx context.Context, url string, evt Event, body []byte) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.backoff(attempt - 1)):
			case <-ctx.Done():
				return
			}
		}
		if lastErr = s.send(ctx, url, evt, body); lastErr == nil {
			metrics.Notifications.WithLabelValues(string(evt.Type), "delivered").Inc()
			log.Debug().
				Str("url", url).
				Str("event", string(evt.Type)).
				Str("run_id", evt.RunID).
				Int("attempt", attempt).
				Msg("Webhook delivered")
			return
		}
	}
	metrics.Notifications.WithLabelValues(string(evt.Type), "failed").Inc()
	log.Warn().
		Err(lastErr).
		Str("url", url).
		Str("event", string(evt.Type)).
		Str("run_id", evt.RunID).
		Msg("Webhook delivery failed")
}

func (s *Service) send(ctx context.Context, url string, evt Event, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "VahanRakshak-Webhook/1.0")
	req.Header.Set(eventHeader, string(evt.Type))
	if s.secret != "" {
		req.Header.Set(signatureHeader, "sha256="+Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, url)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in the
// X-Vahan-Signature header after the "sha256=" prefix.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
