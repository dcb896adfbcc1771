package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/logger"
	"go.uber.org/zap"
)

// Registry manages connector registration and instantiation
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Factory is a function that creates connector instances. It takes the
// persisted ConnectorConfig and the sink to write synchronized entities
// through, and returns a configured Connector or an error.
type Factory func(cfg *config.ConnectorConfig, sink core.LeadSink) (core.Connector, error)

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register registers a connector factory under a type name
func (r *Registry) Register(typeName string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeName]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector type %s already registered", typeName))
	}

	r.factories[typeName] = factory
	r.logger.Info("connector type registered", zap.String("type", typeName))
	return nil
}

// Create creates a connector instance for the config's type. Unknown
// types fail loudly, enumerating the registered types.
func (r *Registry) Create(cfg *config.ConnectorConfig, sink core.LeadSink) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("unknown connector type %q (known types: %s)", cfg.Type, strings.Join(r.List(), ", ")))
	}

	conn, err := factory(cfg, sink)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create %s connector", cfg.Type))
	}

	return conn, nil
}

// List returns the registered type names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Has checks if a connector type is registered
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[typeName]
	return exists
}

// Clear removes all registered factories (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories = make(map[string]Factory)
}

// Global registry functions

// Register registers a connector factory in the global registry
func Register(typeName string, factory Factory) error {
	return globalRegistry.Register(typeName, factory)
}

// Create creates a connector from the global registry
func Create(cfg *config.ConnectorConfig, sink core.LeadSink) (core.Connector, error) {
	return globalRegistry.Create(cfg, sink)
}

// List returns registered types from the global registry
func List() []string {
	return globalRegistry.List()
}

// Has checks if a type is registered in the global registry
func Has(typeName string) bool {
	return globalRegistry.Has(typeName)
}

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}
