// Package testutil provides testing utilities for Leadbridge
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/leadbridge/leadbridge/pkg/config"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestConnectorConfig returns a valid connector configuration pointing at
// the given base URL for both the login and instance endpoints.
func TestConnectorConfig(baseURL string) *config.ConnectorConfig {
	cfg := config.NewConnectorConfig("sf-test", "tenant-1", "salesforce")
	cfg.Auth.LoginURL = baseURL
	cfg.Auth.InstanceURL = baseURL
	cfg.Auth.ClientID = "client-id"
	cfg.Auth.ClientSecret = "client-secret"
	cfg.Auth.AccessToken = "token-0"
	cfg.Auth.RefreshToken = "refresh-0"
	cfg.ObjectTypes = []string{"Lead"}
	return cfg
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
