package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIAMServer answers token requests with a numbered token and counts hits.
func newIAMServer(t *testing.T, expiresIn int64, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != apiKeyGrantType || r.PostForm.Get("apikey") != "secret" {
			http.Error(w, `{"errorMessage":"bad key"}`, http.StatusBadRequest)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestToken_CachedWithinSafetyWindow(t *testing.T) {
	srv, hits := newIAMServer(t, 3600, 0)
	clock := newFakeClock()
	m := NewTokenManager(TokenConfig{IAMURL: srv.URL, APIKey: "secret", Clock: clock})
	ctx := context.Background()

	first, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first.Value)
	assert.GreaterOrEqual(t, first.ExpiresAt.Sub(clock.Now()), DefaultSafetyMargin)

	clock.Advance(10 * time.Minute)
	second, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestToken_RefreshesWhenStale(t *testing.T) {
	srv, hits := newIAMServer(t, 3600, 0)
	clock := newFakeClock()
	m := NewTokenManager(TokenConfig{IAMURL: srv.URL, APIKey: "secret", Clock: clock})
	ctx := context.Background()

	_, err := m.Token(ctx)
	require.NoError(t, err)

	// One second before the margin starts: still fresh.
	clock.Advance(3600*time.Second - DefaultSafetyMargin - time.Second)
	_, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// Inside the margin: stale.
	clock.Advance(time.Second)
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.Value)
	assert.Equal(t, int32(2), hits.Load())
	assert.GreaterOrEqual(t, tok.ExpiresAt.Sub(clock.Now()), DefaultSafetyMargin)
}

func TestToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	srv, hits := newIAMServer(t, 3600, 50*time.Millisecond)
	m := NewTokenManager(TokenConfig{IAMURL: srv.URL, APIKey: "secret"})

	var wg sync.WaitGroup
	values := make([]string, 16)
	for i := range values {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			if err == nil {
				values[i] = tok.Value
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, v := range values {
		assert.Equal(t, "tok-1", v)
	}
}

func TestToken_Rejected(t *testing.T) {
	srv, _ := newIAMServer(t, 3600, 0)
	m := NewTokenManager(TokenConfig{IAMURL: srv.URL, APIKey: "wrong"})

	_, err := m.Token(context.Background())
	require.Error(t, err)

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Contains(t, err.Error(), "bad key")
}

func TestToken_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewTokenManager(TokenConfig{IAMURL: url, APIKey: "secret"})
	_, err := m.Token(context.Background())

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Zero(t, authErr.StatusCode)
	assert.NotNil(t, authErr.Unwrap())
}

func TestToken_LifetimeShorterThanMargin(t *testing.T) {
	srv, _ := newIAMServer(t, 30, 0)
	m := NewTokenManager(TokenConfig{IAMURL: srv.URL, APIKey: "secret"})

	_, err := m.Token(context.Background())
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, err.Error(), "safety margin")
}

func TestToken_Invalidate(t *testing.T) {
	srv, hits := newIAMServer(t, 3600, 0)
	m := NewTokenManager(TokenConfig{IAMURL: srv.URL, APIKey: "secret"})
	ctx := context.Background()

	_, err := m.Token(ctx)
	require.NoError(t, err)
	m.Invalidate()
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.Value)
	assert.Equal(t, int32(2), hits.Load())
}
