package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConnectorConfig reads a connector configuration from a YAML file on top
// of the production defaults and validates the result. ${VAR} references in
// the file are replaced with environment values; an unset variable is an
// error, never a silently empty credential.
func LoadConnectorConfig(filePath string) (*ConnectorConfig, error) {
	cfg := NewConnectorConfig("", "", "")
	if err := loadYAML(filePath, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connector configuration in %s: %w", filePath, err)
	}
	return cfg, nil
}

// LoadAppConfig reads the process-level configuration from a YAML file on top
// of the defaults. Validation is left to the caller, which may still overlay
// environment settings such as DATABASE_URL.
func LoadAppConfig(filePath string) (*AppConfig, error) {
	app := NewAppConfig()
	if err := loadYAML(filePath, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Save writes a configuration back to a YAML file.
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func loadYAML(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from a CLI flag
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content, err := substituteEnvVars(string(data))
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} references with environment values
// and rejects references to variables that are not set.
func substituteEnvVars(content string) (string, error) {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue, ok := os.LookupEnv(varName)
		if !ok {
			return "", fmt.Errorf("environment variable %s referenced in configuration is not set", varName)
		}
		content = content[:start] + envValue + content[end+1:]
	}
	return content, nil
}
