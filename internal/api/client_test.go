package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-chat/lyra-cli/internal/authstore"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
}

func newTestClient(srv *httptest.Server, store authstore.Store, opts ...Option) *Client {
	opts = append([]Option{WithRetryPolicy(fastRetry())}, opts...)
	return NewClient(srv.URL, store, opts...)
}

func TestRequestURLConstruction(t *testing.T) {
	var gotURL *url.URL
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	t.Run("no params means no question mark", func(t *testing.T) {
		require.NoError(t, c.Get(context.Background(), "/api/characters", nil, nil))
		assert.Equal(t, "/api/characters", gotURL.String())
	})

	t.Run("array values repeat the key", func(t *testing.T) {
		q := url.Values{}
		q.Set("page", "2")
		q["tag"] = []string{"fantasy", "scifi"}
		require.NoError(t, c.Get(context.Background(), "/api/characters", &RequestOptions{Query: q}, nil))

		assert.Equal(t, 1, strings.Count(gotURL.String(), "?"))
		assert.Equal(t, []string{"2"}, gotURL.Query()["page"])
		assert.Equal(t, []string{"fantasy", "scifi"}, gotURL.Query()["tag"])
	})
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := authstore.NewMemStore()
	require.NoError(t, store.SaveLogin("tok-1", &authstore.User{ID: 1}))
	c := newTestClient(srv, store)

	require.NoError(t, c.Get(context.Background(), "/api/me", &RequestOptions{
		Headers: map[string]string{"Content-Type": "text/plain"},
	}, nil))

	assert.Equal(t, clientVersion, got.Get(headerVersion))
	assert.Equal(t, clientName, got.Get(headerClient))
	assert.Equal(t, "Bearer tok-1", got.Get("Authorization"))
	assert.NotEmpty(t, got.Get("X-Request-Id"))
	// Caller-supplied headers win over defaults.
	assert.Equal(t, "text/plain", got.Get("Content-Type"))
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, authstore.NewMemStore())
	require.NoError(t, c.Get(context.Background(), "/api/characters", nil, nil))
	assert.Empty(t, got)
}

func TestPostBodyAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"email":"a@b.com","password":"pw"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":"tok-2"}`))
	}))
	defer srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	var out struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	body := map[string]string{"email": "a@b.com", "password": "pw"}
	require.NoError(t, c.Post(context.Background(), "/api/auth/login", body, nil, &out))
	assert.True(t, out.Success)
	assert.Equal(t, "tok-2", out.Token)
}

func TestNonJSONSuccessReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	var out string
	require.NoError(t, c.Get(context.Background(), "/ping", nil, &out))
	assert.Equal(t, "pong", out)
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantKind    ErrorKind
		wantMessage string
		wantCode    string
	}{
		{
			name: "json error with message", status: 400,
			contentType: "application/json",
			body:        `{"message":"character name required","code":"E_VALIDATION"}`,
			wantKind:    ErrClient, wantMessage: "character name required", wantCode: "E_VALIDATION",
		},
		{
			name: "json error field fallback", status: 404,
			contentType: "application/json",
			body:        `{"error":"character not found"}`,
			wantKind:    ErrClient, wantMessage: "character not found", wantCode: "404",
		},
		{
			name: "json error without message", status: 422,
			contentType: "application/json",
			body:        `{}`,
			wantKind:    ErrClient, wantMessage: "HTTP 422", wantCode: "422",
		},
		{
			name: "non-json error", status: 418,
			contentType: "text/html",
			body:        "<html>teapot</html>",
			wantKind:    ErrClient, wantMessage: "HTTP 418", wantCode: "418",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c := newTestClient(srv, authstore.NewMemStore())

			err := c.Get(context.Background(), "/api/x", nil, nil)
			require.Error(t, err)
			apiErr, ok := err.(*APIError)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.body, string(apiErr.Details))
		})
	}
}

func TestRetryOnTransientFailures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int
		wantKind     ErrorKind
	}{
		{"500 retried to the cap", 500, 4, ErrServer},
		{"429 retried to the cap", 429, 4, ErrRateLimited},
		{"400 not retried", 400, 1, ErrClient},
		{"404 not retried", 404, 1, ErrClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()
			c := newTestClient(srv, authstore.NewMemStore())

			err := c.Get(context.Background(), "/api/x", nil, nil)
			require.Error(t, err)
			apiErr, ok := err.(*APIError)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetryRecoversMidway(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	var out map[string]bool
	require.NoError(t, c.Get(context.Background(), "/api/x", nil, &out))
	assert.Equal(t, 3, attempts)
	assert.True(t, out["ok"])
}

func TestNetworkErrorRetried(t *testing.T) {
	// Point at a server that is already closed: every attempt fails at the
	// transport layer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	err := c.Get(context.Background(), "/api/x", nil, nil)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, ErrNetwork, apiErr.Kind)
	assert.True(t, IsTransient(err))
}

func TestUnauthorizedClearsAuthAndNotifies(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired, please refresh"}`))
	}))
	defer srv.Close()

	store := authstore.NewMemStore()
	require.NoError(t, store.SaveLogin("tok-old", &authstore.User{ID: 3}))

	invalidated := 0
	c := newTestClient(srv, store, WithSessionInvalidated(func() { invalidated++ }))

	err := c.Get(context.Background(), "/api/me", nil, nil)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, ErrAuth, apiErr.Kind)
	// Fixed message regardless of server body.
	assert.Equal(t, AuthErrorMessage, apiErr.Message)
	assert.Equal(t, 401, apiErr.Status)

	assert.Equal(t, 1, attempts, "401 must not be retried")
	assert.Equal(t, 1, invalidated)
	assert.Empty(t, store.Token())
	assert.Nil(t, store.User())
	assert.False(t, store.LoggedIn())
}

func TestParseErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{broken`))
	}))
	defer srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	var out map[string]any
	err := c.Get(context.Background(), "/api/x", nil, &out)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, ErrParse, apiErr.Kind)
	assert.Equal(t, 1, attempts)
	assert.False(t, IsTransient(err))
}

func TestCancellationNotRetried(t *testing.T) {
	attempts := 0
	started := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := newTestClient(srv, authstore.NewMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Get(ctx, "/api/slow", nil, nil)
	}()

	<-started
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyDelayGrowsLinearly(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3))
}

func TestAPIErrorDetailsRoundTrip(t *testing.T) {
	apiErr := &APIError{
		Kind:    ErrClient,
		Message: "bad request",
		Status:  400,
		Code:    "400",
		Details: json.RawMessage(`{"field":"name"}`),
	}
	assert.Equal(t, "bad request (status 400)", apiErr.Error())

	var details map[string]string
	require.NoError(t, json.Unmarshal(apiErr.Details, &details))
	assert.Equal(t, "name", details["field"])
}
