package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sessionBody() map[string]string {
	return map[string]string{
		"did":       "did:plc:demo",
		"handle":    "demo.bsky.social",
		"accessJwt": "jwt-token",
	}
}

func TestEnsureAuthenticatedRetriesOnlyOnRateLimit(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		attempts++
		if attempts <= 2 {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "RateLimitExceeded", "message": "slow down",
			})
			return
		}
		writeJSON(w, http.StatusOK, sessionBody())
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	mgr := NewSessionManager(client, "demo.bsky.social", "hunter2", 5, 5*time.Second, nil)

	var slept []time.Duration
	mgr.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, mgr.EnsureAuthenticated(context.Background()))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, slept,
		"the delay doubles after each rate-limited attempt")
	assert.True(t, client.Authenticated())
}

func TestEnsureAuthenticatedFatalOnBadCredentials(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "AuthenticationRequired", "message": "Invalid identifier or password",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	mgr := NewSessionManager(client, "demo.bsky.social", "wrong", 5, time.Second, nil)

	var slept []time.Duration
	mgr.sleep = func(d time.Duration) { slept = append(slept, d) }

	err := mgr.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, 1, attempts, "only rate limiting earns a retry")
	assert.Empty(t, slept)
}

func TestEnsureAuthenticatedExhaustsRetryCeiling(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "RateLimitExceeded"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	mgr := NewSessionManager(client, "demo.bsky.social", "hunter2", 3, time.Second, nil)

	var slept []time.Duration
	mgr.sleep = func(d time.Duration) { slept = append(slept, d) }

	err := mgr.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)
}

func TestWithSessionReauthenticatesOnceOnExpiredToken(t *testing.T) {
	t.Parallel()

	logins := 0
	feedCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			logins++
			writeJSON(w, http.StatusOK, sessionBody())
		case "/xrpc/app.bsky.feed.getAuthorFeed":
			feedCalls++
			if feedCalls == 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ExpiredToken"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"feed": []map[string]any{
					{"post": map[string]any{"record": map[string]any{"text": "hello"}}},
				},
			})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	mgr := NewSessionManager(client, "demo.bsky.social", "hunter2", 3, time.Second, nil)
	mgr.sleep = func(time.Duration) {}

	posts, err := mgr.RecentPosts(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, posts)
	assert.Equal(t, 2, logins, "first lazy login plus one re-login after expiry")
	assert.Equal(t, 2, feedCalls)
}

func TestWithSessionPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			logins++
			writeJSON(w, http.StatusOK, sessionBody())
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "InternalServerError"})
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), nil)
	mgr := NewSessionManager(client, "demo.bsky.social", "hunter2", 3, time.Second, nil)
	mgr.sleep = func(time.Duration) {}

	_, err := mgr.RecentPosts(context.Background(), 20)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, 1, logins, "a server error must not trigger re-authentication")
}
