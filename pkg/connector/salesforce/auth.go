package salesforce

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/errors"
)

const (
	// tokenPath is appended to the login URL for both OAuth grants.
	tokenPath = "/services/oauth2/token"

	// defaultLoginURL is used when the auth config does not name one.
	defaultLoginURL = "https://login.salesforce.com"

	// defaultTokenLifetime applies when the token response carries no
	// expires_in hint.
	defaultTokenLifetime = 2 * time.Hour

	// expirySafetyMargin is subtracted from the token lifetime so the
	// client refreshes before the server-side expiry.
	expirySafetyMargin = 5 * time.Minute
)

// AuthState is an immutable snapshot of the session's credentials. Callers
// always receive a copy; the session swaps the whole value under its lock
// when a grant succeeds, never mutating a published state.
type AuthState struct {
	AccessToken  string
	RefreshToken string
	InstanceURL  string
	Expiry       time.Time
}

// Authenticated reports whether the state carries an access token.
func (s AuthState) Authenticated() bool {
	return s.AccessToken != ""
}

// Expired reports whether the token should be refreshed before use. A zero
// expiry means the lifetime is unknown and the token is used as-is.
func (s AuthState) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// AuthSession performs the OAuth token exchanges for a Salesforce org and
// holds the resulting credentials for the API client.
type AuthSession struct {
	cfg    config.AuthConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	state AuthState
}

func newAuthSession(cfg config.AuthConfig, httpClient *http.Client, logger *zap.Logger) *AuthSession {
	cfg.Normalize()
	return &AuthSession{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With(zap.String("component", "auth_session")),
		now:    time.Now,
		state: AuthState{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
			InstanceURL:  cfg.InstanceURL,
			Expiry:       cfg.TokenExpiry,
		},
	}
}

// State returns the current credential snapshot.
func (s *AuthSession) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticate establishes a session. With an authorization code it runs the
// code grant; without one it falls back to a refresh grant if a refresh token
// is available.
func (s *AuthSession) Authenticate(ctx context.Context, code string) error {
	if code != "" {
		params := url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {s.cfg.ClientID},
			"client_secret": {s.cfg.ClientSecret},
			"redirect_uri":  {s.cfg.RedirectURI},
		}
		return s.exchange(ctx, params)
	}
	if s.State().RefreshToken != "" {
		return s.Refresh(ctx)
	}
	return errors.New(errors.ErrorTypeAuthentication,
		"no authorization code or refresh token available")
}

// Refresh exchanges the refresh token for a new access token. On failure the
// previous state is left untouched.
func (s *AuthSession) Refresh(ctx context.Context) error {
	state := s.State()
	if state.RefreshToken == "" {
		return errors.New(errors.ErrorTypeAuthentication,
			"cannot refresh session without refresh token")
	}
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {state.RefreshToken},
		"client_id":     {s.cfg.ClientID},
		"client_secret": {s.cfg.ClientSecret},
	}
	return s.exchange(ctx, params)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	InstanceURL  string `json:"instance_url"`
	TokenType    string `json:"token_type"`
	IssuedAt     string `json:"issued_at"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *AuthSession) exchange(ctx context.Context, params url.Values) error {
	endpoint := s.tokenURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrorTypeAuthentication,
			fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, apiErrorMessage(body))).
			WithDetail("status", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to decode token response")
	}
	if tok.AccessToken == "" {
		return errors.New(errors.ErrorTypeAuthentication, "token response missing access_token")
	}

	prev := s.State()
	next := AuthState{
		AccessToken:  tok.AccessToken,
		RefreshToken: prev.RefreshToken,
		InstanceURL:  prev.InstanceURL,
		Expiry:       s.expiry(tok),
	}
	// The server may rotate the refresh token or move the org to another
	// instance; its values are authoritative when present.
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if tok.InstanceURL != "" {
		next.InstanceURL = strings.TrimRight(tok.InstanceURL, "/")
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.logger.Info("token exchange succeeded",
		zap.String("grant_type", params.Get("grant_type")),
		zap.String("instance_url", next.InstanceURL),
		zap.Time("expiry", next.Expiry))
	return nil
}

// expiry computes the local expiry from the token response, preferring the
// server's issued_at (epoch millis) and expires_in over the defaults, and
// always applying the safety margin.
func (s *AuthSession) expiry(tok tokenResponse) time.Time {
	issued := s.now()
	if tok.IssuedAt != "" {
		if ms, err := strconv.ParseInt(tok.IssuedAt, 10, 64); err == nil {
			issued = time.UnixMilli(ms)
		}
	}
	lifetime := defaultTokenLifetime
	if tok.ExpiresIn > 0 {
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	}
	return issued.Add(lifetime - expirySafetyMargin)
}

func (s *AuthSession) tokenURL() string {
	base := s.cfg.LoginURL
	if base == "" {
		base = defaultLoginURL
	}
	return base + tokenPath
}
