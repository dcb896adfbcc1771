package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/testutil"
)

// newTestClient wires a client against the given server with an immediate
// (recorded) sleep so retry schedules run instantly.
func newTestClient(t *testing.T, serverURL string, auth config.AuthConfig) (*apiClient, *[]time.Duration) {
	t.Helper()
	if auth.InstanceURL == "" {
		auth.InstanceURL = serverURL
	}
	if auth.LoginURL == "" {
		auth.LoginURL = serverURL
	}
	httpClient := &http.Client{}
	session := newAuthSession(auth, httpClient, testutil.TestLogger(t))
	client := newAPIClient("sf-test", session, httpClient,
		config.ReliabilityConfig{MaxRetries: 3, RetryBaseDelay: time.Second},
		testutil.TestLogger(t))

	delays := &[]time.Duration{}
	client.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return client, delays
}

func TestDoFailsFastWithoutToken(t *testing.T) {
	client, _ := newTestClient(t, "https://unused.example.com", config.AuthConfig{})
	_, err := client.get(context.Background(), "/thing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestDoSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-0", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, config.AuthConfig{AccessToken: "token-0"})
	body, err := client.get(context.Background(), "/thing")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(body))
}

func TestDoRefreshesExpiredTokenProactively(t *testing.T) {
	var refreshes, apiCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			atomic.AddInt32(&refreshes, 1)
			fmt.Fprintf(w, `{"access_token": "token-1", "instance_url": %q}`, "http://"+r.Host)
			return
		}
		atomic.AddInt32(&apiCalls, 1)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"),
			"the refreshed token must be used")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, config.AuthConfig{
		AccessToken:  "token-0",
		RefreshToken: "refresh-0",
		TokenExpiry:  time.Now().Add(-time.Minute),
	})

	_, err := client.get(context.Background(), "/thing")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, int32(1), atomic.LoadInt32(&apiCalls))
}

func TestDoRefreshesOnceOn401(t *testing.T) {
	var refreshes int32
	var tokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			atomic.AddInt32(&refreshes, 1)
			fmt.Fprintf(w, `{"access_token": "token-1", "instance_url": %q}`, "http://"+r.Host)
			return
		}
		tokens = append(tokens, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `[{"message": "Session expired or invalid", "errorCode": "INVALID_SESSION_ID"}]`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, delays := newTestClient(t, server.URL, config.AuthConfig{
		AccessToken:  "token-0",
		RefreshToken: "refresh-0",
	})

	_, err := client.get(context.Background(), "/thing")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, []string{"Bearer token-0", "Bearer token-1"}, tokens)
	assert.Empty(t, *delays, "the 401 retry must not back off")
}

func TestDoSecond401IsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			fmt.Fprintf(w, `{"access_token": "token-1", "instance_url": %q}`, "http://"+r.Host)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `[{"message": "still invalid", "errorCode": "INVALID_SESSION_ID"}]`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, config.AuthConfig{
		AccessToken:  "token-0",
		RefreshToken: "refresh-0",
	})

	_, err := client.get(context.Background(), "/thing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Contains(t, err.Error(), "INVALID_SESSION_ID: still invalid")
}

func TestDoRetriesServerErrorsWithBackoff(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, delays := newTestClient(t, server.URL, config.AuthConfig{AccessToken: "token-0"})
	_, err := client.get(context.Background(), "/thing")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays,
		"delays must double starting from the base delay")
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `[{"message": "request limit exceeded", "errorCode": "REQUEST_LIMIT_EXCEEDED"}]`)
	}))
	defer server.Close()

	client, delays := newTestClient(t, server.URL, config.AuthConfig{AccessToken: "token-0"})
	_, err := client.get(context.Background(), "/thing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls),
		"one initial attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestDoClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `[{"message": "unexpected token", "errorCode": "MALFORMED_QUERY"}]`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, config.AuthConfig{AccessToken: "token-0"})
	_, err := client.get(context.Background(), "/thing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeClient))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, config.AuthConfig{AccessToken: "token-0"})
	body, err := client.patch(context.Background(), "/thing", map[string]interface{}{"Email": "a@b.c"})
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestBackoffDelay(t *testing.T) {
	client := &apiClient{baseDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, client.backoffDelay(tt.attempt))
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "array of errors",
			body: `[{"message": "first", "errorCode": "A"}, {"message": "second", "errorCode": "B"}]`,
			want: "A: first; B: second",
		},
		{
			name: "single error object",
			body: `{"message": "only one", "errorCode": "X"}`,
			want: "X: only one",
		},
		{
			name: "message without code",
			body: `[{"message": "just text"}]`,
			want: "just text",
		},
		{
			name: "unparseable body",
			body: `<html>gateway timeout</html>`,
			want: `<html>gateway timeout</html>`,
		},
		{
			name: "empty body",
			body: "",
			want: "no error details",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apiErrorMessage([]byte(tt.body)))
		})
	}
}
