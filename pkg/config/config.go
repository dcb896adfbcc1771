// Package config provides the configuration structures for Leadbridge.
// It defines the per-connector configuration persisted between sync runs
// and the process-level settings loaded at startup.
//
// Example usage:
//
//	cfg := config.NewConnectorConfig("acme-sf", "tenant-1", "salesforce")
//	cfg.Auth.ClientID = "..."
//	cfg.ObjectTypes = []string{"Lead", "Contact"}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthConfig holds OAuth2 credentials and the current token set for one
// connector. The instance URL never carries a trailing slash; Normalize
// enforces that invariant on load.
type AuthConfig struct {
	// ClientID is the OAuth2 consumer key
	ClientID string `yaml:"client_id" json:"client_id"`
	// ClientSecret is the OAuth2 consumer secret
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	// RedirectURI is the authorization-code callback URI
	RedirectURI string `yaml:"redirect_uri" json:"redirect_uri"`
	// InstanceURL is the API base URL for this tenant's instance
	InstanceURL string `yaml:"instance_url" json:"instance_url"`
	// LoginURL is the authorization server base URL (token endpoint host)
	LoginURL string `yaml:"login_url" json:"login_url"`

	// AccessToken is the current bearer token, empty when unauthenticated
	AccessToken string `yaml:"access_token,omitempty" json:"access_token,omitempty"`
	// RefreshToken is used to obtain new access tokens without user interaction
	RefreshToken string `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	// TokenExpiry is the margin-adjusted instant after which the access
	// token must not be used without a refresh
	TokenExpiry time.Time `yaml:"token_expiry,omitempty" json:"token_expiry,omitempty"`
}

// Normalize strips trailing slashes from the URL fields
func (a *AuthConfig) Normalize() {
	a.InstanceURL = strings.TrimRight(a.InstanceURL, "/")
	a.LoginURL = strings.TrimRight(a.LoginURL, "/")
}

// ConnectorConfig is the persisted configuration for one connector instance.
// It is read at the start of every sync run; the watermark is advanced only
// after a successful run.
type ConnectorConfig struct {
	// ID identifies the connector instance
	ID string `yaml:"id" json:"id"`
	// TenantID scopes all synchronized entities
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	// Type selects the connector implementation (e.g. "salesforce")
	Type string `yaml:"type" json:"type"`
	// Auth carries credentials and the current token set
	Auth AuthConfig `yaml:"auth" json:"auth"`
	// ObjectTypes lists the external object types to synchronize
	ObjectTypes []string `yaml:"object_types" json:"object_types"`
	// LastSyncAt is the incremental-sync watermark; zero means never synced
	LastSyncAt time.Time `yaml:"last_sync_at,omitempty" json:"last_sync_at,omitempty"`
	// Status records the connector's administrative state
	Status string `yaml:"status,omitempty" json:"status,omitempty"`

	// Reliability settings for the API request layer
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`
	// Timeouts for API requests
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
}

// ReliabilityConfig contains retry and backoff settings for API requests
type ReliabilityConfig struct {
	// MaxRetries sets additional attempts after the first for 429/5xx
	// responses; a request performs at most MaxRetries+1 network attempts
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryBaseDelay is the backoff base; delay = base * 2^attempt
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	// RateLimitPerSec limits API calls per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// TimeoutConfig contains timeout settings for API requests
type TimeoutConfig struct {
	// Request is the per-request deadline
	Request time.Duration `yaml:"request" json:"request"`
	// Connection is the dial timeout
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Idle is the idle connection timeout
	Idle time.Duration `yaml:"idle" json:"idle"`
}

// NewConnectorConfig creates a ConnectorConfig with production defaults.
// Specific connectors can override the defaults as needed.
func NewConnectorConfig(id, tenantID, connectorType string) *ConnectorConfig {
	return &ConnectorConfig{
		ID:          id,
		TenantID:    tenantID,
		Type:        connectorType,
		ObjectTypes: []string{"Lead"},
		Status:      "active",
		Reliability: ReliabilityConfig{
			MaxRetries:      3,
			RetryBaseDelay:  time.Second,
			RateLimitPerSec: 0,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			Idle:       90 * time.Second,
		},
	}
}

// Validate validates the configuration for correctness.
// Callers should invoke this after loading configuration to catch errors early.
func (c *ConnectorConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if len(c.ObjectTypes) == 0 {
		return fmt.Errorf("at least one object type is required")
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	c.Auth.Normalize()
	return nil
}

// AppConfig is the process-level configuration loaded at startup
type AppConfig struct {
	// DatabaseURL is the Postgres connection string for the local store
	DatabaseURL string `yaml:"database_url" json:"database_url"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects the log output format (json or console)
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
}

// NewAppConfig returns an AppConfig with defaults
func NewAppConfig() *AppConfig {
	return &AppConfig{
		LogLevel:    "info",
		LogEncoding: "json",
	}
}

// Validate validates the process-level configuration
func (a *AppConfig) Validate() error {
	if a.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	return nil
}
