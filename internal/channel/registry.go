package channel

import (
	"sort"
	"sync"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// ConfigField documents one settings key an adapter type accepts.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// registration pairs an adapter constructor with its settings schema.
type registration struct {
	construct Constructor
	schema    []ConfigField
}

// Registry maps channel type names to adapter constructors. Registration
// happens explicitly at startup; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
	log   *logging.Logger
}

// NewRegistry creates an empty adapter registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		types: make(map[string]registration),
		log:   log.Sub("channel"),
	}
}

// Register binds a channel type to a constructor and its settings schema.
// Registering a type twice overrides the earlier binding with a warning;
// the last registration wins.
func (r *Registry) Register(channelType string, construct Constructor, schema []ConfigField) error {
	if channelType == "" {
		return domain.NewValidationError("channel type cannot be empty")
	}
	if construct == nil {
		return domain.NewValidationError("channel constructor cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[channelType]; exists {
		r.log.Warn().Str("channelType", channelType).Msg("overriding existing channel type")
	}
	r.types[channelType] = registration{construct: construct, schema: schema}
	r.log.Info().Str("channelType", channelType).Msg("registered channel type")
	return nil
}

// Create builds an adapter instance for the given type and configuration.
func (r *Registry) Create(channelType string, cfg Config, log *logging.Logger) (Adapter, error) {
	r.mu.RLock()
	reg, ok := r.types[channelType]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.ChannelNotFoundError{ChannelType: channelType}
	}

	r.log.Debug().Str("channelType", channelType).Str("channel", cfg.ChannelID).Msg("creating channel adapter")
	adapter, err := reg.construct(cfg, log)
	if err != nil {
		r.log.Error().Err(err).Str("channelType", channelType).Msg("failed to create channel adapter")
		return nil, err
	}
	return adapter, nil
}

// Types returns the registered channel type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ConfigSchema returns the settings schema for a channel type.
func (r *Registry) ConfigSchema(channelType string) ([]ConfigField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[channelType]
	if !ok {
		return nil, &domain.ChannelNotFoundError{ChannelType: channelType}
	}
	return reg.schema, nil
}
