package salesforce

import (
	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/connector/registry"
)

func init() {
	// Register the Salesforce connector in the global registry
	_ = registry.Register(ConnectorType, func(cfg *config.ConnectorConfig, sink core.LeadSink) (core.Connector, error) {
		return New(cfg, sink)
	})
}
