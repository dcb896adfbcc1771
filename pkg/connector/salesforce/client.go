package salesforce

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/metrics"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// apiClient wraps the raw HTTP transport with the connector's reliability
// behavior: fail-fast on missing credentials, proactive token refresh, a
// single reactive refresh on 401, and exponential backoff on 429 and 5xx.
type apiClient struct {
	name       string
	session    *AuthSession
	http       *http.Client
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration

	// sleep and now are injectable so tests can run the retry schedule
	// without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func newHTTPClient(timeouts config.TimeoutConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     timeouts.Idle,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	// HTTP/2 keeps page fetches on one connection per host.
	_ = http2.ConfigureTransport(transport)
	return &http.Client{
		Transport: transport,
		Timeout:   timeouts.Request,
	}
}

func newAPIClient(name string, session *AuthSession, httpClient *http.Client, rel config.ReliabilityConfig, logger *zap.Logger) *apiClient {
	maxRetries := rel.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := rel.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &apiClient{
		name:       name,
		session:    session,
		http:       httpClient,
		logger:     logger.With(zap.String("component", "api_client")),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay returns the wait before retry number attempt (zero-based):
// baseDelay doubled on each subsequent retry.
func (c *apiClient) backoffDelay(attempt int) time.Duration {
	return c.baseDelay * (1 << attempt)
}

func (c *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) patch(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// do executes one logical API request. It returns the response body, or nil
// for 204 No Content.
func (c *apiClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	state := c.session.State()
	if !state.Authenticated() {
		return nil, errors.New(errors.ErrorTypeAuthentication,
			"not authenticated: no access token available")
	}

	if state.Expired(c.now()) && state.RefreshToken != "" {
		metrics.TokenRefreshes.WithLabelValues(c.name, "proactive").Inc()
		if err := c.session.Refresh(ctx); err != nil {
			return nil, err
		}
		state = c.session.State()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeClient, "failed to encode request body")
		}
	}

	var lastErr error
	refreshed := false
	attempts := 0
	for {
		attempts++
		status, respBody, err := c.send(ctx, method, state, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request canceled")
			}
			lastErr = errors.Wrap(err, errors.ErrorTypeConnection,
				fmt.Sprintf("%s %s failed", method, path))
		} else {
			metrics.APIRequests.WithLabelValues(c.name, method, metrics.StatusClass(status)).Inc()
			switch {
			case status == http.StatusNoContent:
				return nil, nil
			case status >= 200 && status < 300:
				return respBody, nil
			case status == http.StatusUnauthorized:
				// One reactive refresh on the first attempt; a second
				// 401 means the credentials are gone for good.
				if !refreshed && attempts == 1 && state.RefreshToken != "" {
					refreshed = true
					metrics.TokenRefreshes.WithLabelValues(c.name, "reactive").Inc()
					if err := c.session.Refresh(ctx); err != nil {
						return nil, err
					}
					state = c.session.State()
					continue
				}
				return nil, errors.New(errors.ErrorTypeAuthentication,
					fmt.Sprintf("authentication rejected: %s", apiErrorMessage(respBody))).
					WithDetail("status", status)
			case status == http.StatusTooManyRequests:
				lastErr = errors.New(errors.ErrorTypeRateLimit,
					fmt.Sprintf("rate limited: %s", apiErrorMessage(respBody))).
					WithDetail("status", status)
			case status >= 500:
				lastErr = errors.New(errors.ErrorTypeConnection,
					fmt.Sprintf("server error %d: %s", status, apiErrorMessage(respBody))).
					WithDetail("status", status)
			default:
				return nil, errors.New(errors.ErrorTypeClient,
					fmt.Sprintf("request failed with %d: %s", status, apiErrorMessage(respBody))).
					WithDetail("status", status)
			}
		}

		if attempts > c.maxRetries {
			return nil, lastErr
		}
		metrics.APIRetries.WithLabelValues(c.name).Inc()
		delay := c.backoffDelay(attempts - 1)
		c.logger.Warn("retrying request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "retry wait canceled")
		}
	}
}

func (c *apiClient) send(ctx context.Context, method string, state AuthState, path string, payload []byte) (int, []byte, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = state.InstanceURL + path
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+state.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func (e apiError) String() string {
	if e.ErrorCode != "" && e.Message != "" {
		return e.ErrorCode + ": " + e.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return e.ErrorCode
}

// apiErrorMessage extracts a human-readable message from an error response
// body. The API returns either an array of error objects or a single one;
// anything else is passed through as raw text.
func apiErrorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "no error details"
	}

	var list []apiError
	if err := json.Unmarshal(trimmed, &list); err == nil && len(list) > 0 {
		parts := make([]string, 0, len(list))
		for _, e := range list {
			if msg := e.String(); msg != "" {
				parts = append(parts, msg)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}

	var single apiError
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if msg := single.String(); msg != "" {
			return msg
		}
	}

	return string(trimmed)
}
