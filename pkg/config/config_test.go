package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectorConfigDefaults(t *testing.T) {
	cfg := NewConnectorConfig("sf-prod", "tenant-1", "salesforce")
	assert.Equal(t, "sf-prod", cfg.ID)
	assert.Equal(t, "tenant-1", cfg.TenantID)
	assert.Equal(t, "salesforce", cfg.Type)
	assert.Equal(t, 3, cfg.Reliability.MaxRetries)
	assert.Equal(t, time.Second, cfg.Reliability.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
}

func TestConnectorConfigValidate(t *testing.T) {
	valid := func() *ConnectorConfig {
		cfg := NewConnectorConfig("sf-prod", "tenant-1", "salesforce")
		cfg.ObjectTypes = []string{"Lead"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*ConnectorConfig)
		wantErr bool
	}{
		{"valid", func(*ConnectorConfig) {}, false},
		{"missing id", func(c *ConnectorConfig) { c.ID = "" }, true},
		{"missing tenant", func(c *ConnectorConfig) { c.TenantID = "" }, true},
		{"missing type", func(c *ConnectorConfig) { c.Type = "" }, true},
		{"no object types", func(c *ConnectorConfig) { c.ObjectTypes = nil }, true},
		{"negative retries", func(c *ConnectorConfig) { c.Reliability.MaxRetries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthConfigNormalize(t *testing.T) {
	auth := AuthConfig{
		InstanceURL: "https://na1.example.com/",
		LoginURL:    "https://login.example.com//",
	}
	auth.Normalize()
	assert.Equal(t, "https://na1.example.com", auth.InstanceURL)
	assert.Equal(t, "https://login.example.com", auth.LoginURL)
}

func TestLoadConnectorConfigSubstitutesEnvVars(t *testing.T) {
	t.Setenv("SF_CLIENT_SECRET", "super-secret")

	path := filepath.Join(t.TempDir(), "connector.yaml")
	content := `
id: sf-prod
tenant_id: tenant-1
type: salesforce
object_types:
  - Lead
auth:
  client_id: the-client
  client_secret: ${SF_CLIENT_SECRET}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConnectorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sf-prod", cfg.ID)
	assert.Equal(t, "the-client", cfg.Auth.ClientID)
	assert.Equal(t, "super-secret", cfg.Auth.ClientSecret,
		"environment variables are substituted on load")
	assert.Equal(t, 3, cfg.Reliability.MaxRetries,
		"file values overlay the defaults")
}

func TestLoadConnectorConfigUnsetEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	content := `
id: sf-prod
tenant_id: tenant-1
type: salesforce
auth:
  client_secret: ${LEADBRIDGE_NO_SUCH_VAR}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadConnectorConfig(path)
	require.Error(t, err, "an unset variable must not load as an empty credential")
	assert.Contains(t, err.Error(), "LEADBRIDGE_NO_SUCH_VAR")
}

func TestLoadConnectorConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	content := `
id: sf-prod
type: salesforce
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadConnectorConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant_id")
}

func TestLoadConnectorConfigMissingFile(t *testing.T) {
	_, err := LoadConnectorConfig("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	app := NewAppConfig()
	app.DatabaseURL = "postgres://localhost/leadbridge"
	require.NoError(t, Save(path, app))

	loaded, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, app.DatabaseURL, loaded.DatabaseURL)
	assert.Equal(t, app.LogLevel, loaded.LogLevel)
}
