package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIAMURL is the IBM Cloud identity token endpoint.
	DefaultIAMURL = "https://iam.cloud.ibm.com/identity/token"

	// DefaultSafetyMargin is how long before expiry a cached token is
	// considered stale.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultTokenTimeout bounds one identity round trip.
	DefaultTokenTimeout = 10 * time.Second

	apiKeyGrantType         = "urn:ibm:params:oauth:grant-type:apikey"
	defaultTokenLifetimeSec = 3600
)

// AccessToken is a bearer token with its absolute expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenConfig configures a TokenManager. Zero values fall back to defaults.
type TokenConfig struct {
	IAMURL       string
	APIKey       string
	SafetyMargin time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Clock        Clock
}

// TokenManager caches an identity-service access token and refreshes it
// lazily. Reads are concurrent; at most one refresh is in flight at a time and
// callers arriving during a refresh share its result.
type TokenManager struct {
	iamURL  string
	apiKey  string
	margin  time.Duration
	timeout time.Duration
	client  *http.Client
	clock   Clock

	mu      sync.RWMutex
	current *AccessToken

	flight singleflight.Group
}

// NewTokenManager creates a token manager. It performs no network I/O.
func NewTokenManager(cfg TokenConfig) *TokenManager {
	m := &TokenManager{
		iamURL:  cfg.IAMURL,
		apiKey:  cfg.APIKey,
		margin:  cfg.SafetyMargin,
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		clock:   cfg.Clock,
	}
	if m.iamURL == "" {
		m.iamURL = DefaultIAMURL
	}
	if m.margin <= 0 {
		m.margin = DefaultSafetyMargin
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTokenTimeout
	}
	if m.client == nil {
		m.client = &http.Client{}
	}
	if m.clock == nil {
		m.clock = SystemClock()
	}
	return m
}

// Token returns a token that stays valid for at least the safety margin.
// The identity service is contacted only when no fresh token is cached.
func (m *TokenManager) Token(ctx context.Context) (AccessToken, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	ch := m.flight.DoChan("token", func() (interface{}, error) {
		// A refresh that finished just before this flight started is reused.
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

func (m *TokenManager) cached() (AccessToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return AccessToken{}, false
	}
	if !m.clock.Now().Before(m.current.ExpiresAt.Add(-m.margin)) {
		return AccessToken{}, false
	}
	return *m.current, true
}

type iamTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// refresh runs detached from the caller's cancellation: other callers may be
// waiting on the same flight.
func (m *TokenManager) refresh(parent context.Context) (AccessToken, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.timeout)
	defer cancel()

	tok, err := m.fetch(ctx)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		log.Error().Err(err).Str("iam_url", m.iamURL).Msg("Failed to obtain identity token")
		return AccessToken{}, err
	}

	m.mu.Lock()
	m.current = &tok
	m.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	log.Debug().Time("expires_at", tok.ExpiresAt).Msg("Identity token refreshed")
	return tok, nil
}

func (m *TokenManager) fetch(ctx context.Context) (AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", apiKeyGrantType)
	form.Set("apikey", m.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.iamURL, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, &AuthenticationError{Err: fmt.Errorf("build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return AccessToken{}, &AuthenticationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AccessToken{}, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(readSnippet(resp.Body)),
		}
	}

	var body iamTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return AccessToken{}, &AuthenticationError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if body.AccessToken == "" {
		return AccessToken{}, &AuthenticationError{Err: errors.New("token response has no access_token")}
	}

	lifetime := time.Duration(body.ExpiresIn) * time.Second
	if body.ExpiresIn <= 0 {
		lifetime = defaultTokenLifetimeSec * time.Second
	}
	if lifetime <= m.margin {
		return AccessToken{}, &AuthenticationError{
			Err: fmt.Errorf("token lifetime %s does not exceed safety margin %s", lifetime, m.margin),
		}
	}

	return AccessToken{
		Value:     body.AccessToken,
		ExpiresAt: m.clock.Now().Add(lifetime),
	}, nil
}

// readSnippet returns at most 512 bytes of an error body for diagnostics.
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "empty response body"
	}
	return s
}
