// Package orchestrate talks to a remote run-based agent execution service.
//
// A call is a two-phase exchange: Submit starts a run and returns the thread
// it was attached to, then a Poller reads that thread until an assistant
// message appears or the wait budget runs out. Every request carries a bearer
// token obtained from the identity service through a shared TokenManager.
package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSubmitTimeout is long because some executors answer the run
	// request synchronously for short actions.
	DefaultSubmitTimeout = 600 * time.Second

	// DefaultReadTimeout bounds one thread-messages read.
	DefaultReadTimeout = 10 * time.Second

	runsPath = "/v1/orchestrate/runs"
)

// Credentials identify the execution service instance. EndpointURL and APIKey
// are required; the rest is informational.
type Credentials struct {
	EndpointURL string
	APIKey      string
	ProjectID   string
	SpaceID     string
}

// Validate returns a *ConfigurationError naming every missing field.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.EndpointURL) == "" {
		missing = append(missing, "endpoint url")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	IAMURL            string
	SubmitTimeout     time.Duration
	ReadTimeout       time.Duration
	TokenTimeout      time.Duration
	TokenSafetyMargin time.Duration
	HTTPClient        *http.Client
	Clock             Clock
}

// RunHandle correlates a submitted run with the thread its reply lands on.
// ThreadID is empty when the service did not allocate a thread.
type RunHandle struct {
	ThreadID  string `json:"thread_id"`
	RunID     string `json:"run_id"`
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id,omitempty"`
}

// ThreadMessage is one message of a run thread.
type ThreadMessage struct {
	Role    string
	Content Reply
}

// Client submits runs and reads thread messages.
type Client struct {
	baseURL       string
	creds         Credentials
	tokens        *TokenManager
	http          *http.Client
	submitTimeout time.Duration
	readTimeout   time.Duration
}

// NewClient validates creds and builds a client. It performs no network I/O;
// the first token is fetched on the first call.
func NewClient(creds Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		baseURL:       strings.TrimRight(creds.EndpointURL, "/"),
		creds:         creds,
		http:          httpClient,
		submitTimeout: opts.SubmitTimeout,
		readTimeout:   opts.ReadTimeout,
		tokens: NewTokenManager(TokenConfig{
			IAMURL:       opts.IAMURL,
			APIKey:       creds.APIKey,
			SafetyMargin: opts.TokenSafetyMargin,
			Timeout:      opts.TokenTimeout,
			HTTPClient:   httpClient,
			Clock:        opts.Clock,
		}),
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = DefaultSubmitTimeout
	}
	if c.readTimeout <= 0 {
		c.readTimeout = DefaultReadTimeout
	}
	return c, nil
}

// Tokens exposes the client's token manager.
func (c *Client) Tokens() *TokenManager { return c.tokens }

type runMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	Message runMessage `json:"message"`
	AgentID string     `json:"agent_id"`
}

// Submit starts a run of capabilityID with the action and payload rendered as
// a chat-style user message.
func (c *Client) Submit(ctx context.Context, capabilityID, action string, payload map[string]interface{}) (RunHandle, error) {
	content, err := renderInstruction(action, payload)
	if err != nil {
		return RunHandle{}, &SubmissionError{Err: err}
	}
	body, err := json.Marshal(runRequest{
		Message: runMessage{Role: "user", Content: content},
		AgentID: capabilityID,
	})
	if err != nil {
		return RunHandle{}, &SubmissionError{Err: fmt.Errorf("encode run request: %w", err)}
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		metrics.RunSubmissions.WithLabelValues(capabilityID, "auth_error").Inc()
		return RunHandle{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	endpoint := c.baseURL + runsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return RunHandle{}, &SubmissionError{Err: fmt.Errorf("create run request: %w", err)}
	}
	setHeaders(req, tok)

	log.Debug().
		Str("endpoint", endpoint).
		Str("capability_id", capabilityID).
		Str("action", action).
		Msg("Submitting run")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RunSubmissions.WithLabelValues(capabilityID, "transport_error").Inc()
		return RunHandle{}, &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RunSubmissions.WithLabelValues(capabilityID, "rejected").Inc()
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return RunHandle{}, &SubmissionError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var handle RunHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		metrics.RunSubmissions.WithLabelValues(capabilityID, "decode_error").Inc()
		return RunHandle{}, &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode run response: %w", err)}
	}

	metrics.RunSubmissions.WithLabelValues(capabilityID, "accepted").Inc()
	log.Debug().
		Str("thread_id", handle.ThreadID).
		Str("run_id", handle.RunID).
		Str("message_id", handle.MessageID).
		Msg("Run created")
	return handle, nil
}

// ListMessages reads every message currently on the thread.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/orchestrate/threads/%s/messages", c.baseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create messages request: %w", err)
	}
	setHeaders(req, tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return nil, fmt.Errorf("read thread %s: status %d: %s", threadID, resp.StatusCode, readSnippet(resp.Body))
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return decodeMessages(raw)
}

// decodeMessages accepts a bare array or a {"data": [...]} envelope.
func decodeMessages(raw json.RawMessage) ([]ThreadMessage, error) {
	var items []map[string]interface{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	} else {
		var envelope struct {
			Data []map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		items = envelope.Data
	}

	msgs := make([]ThreadMessage, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		role, _ := item["role"].(string)
		var body interface{}
		if v, ok := item["content"]; ok {
			body = v
		} else {
			body = item["text"]
		}
		msgs = append(msgs, ThreadMessage{Role: role, Content: ParseReply(body)})
	}
	return msgs, nil
}

func renderInstruction(action string, payload map[string]interface{}) (string, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return action + "\n\n" + strings.TrimRight(buf.String(), "\n"), nil
}

func setHeaders(req *http.Request, tok AccessToken) {
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
