// Package channel defines the adapter contract for messaging platforms and
// the registry that creates adapters by type. Concrete adapters live in
// subpackages and register themselves explicitly at startup.
package channel

import (
	"context"
	"time"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// Config is the common adapter configuration. Provider-specific settings
// travel in Settings and are validated by the adapter constructor.
type Config struct {
	ChannelID string         `yaml:"channel_id" json:"channel_id"`
	TenantID  string         `yaml:"tenant_id" json:"tenant_id"`
	Enabled   bool           `yaml:"enabled" json:"enabled"`
	Settings  map[string]any `yaml:"settings" json:"settings"`
}

// Receipt describes a message accepted by the provider for delivery.
type Receipt struct {
	ChannelMessageID string    `json:"channel_message_id"`
	Status           string    `json:"status"`
	RecipientID      string    `json:"recipient_id"`
	Timestamp        time.Time `json:"timestamp"`
}

// Adapter is the contract every messaging platform integration implements.
// Adapters own the provider wire formats on both directions; everything
// crossing this boundary is the canonical Message.
type Adapter interface {
	// Type returns the provider type this adapter serves.
	Type() string

	// ChannelID returns the configured channel identifier.
	ChannelID() string

	// IsEnabled reports whether the channel is enabled.
	IsEnabled() bool

	// ReceiveMessage processes an incoming provider payload into canonical
	// messages. One webhook delivery may carry several messages.
	ReceiveMessage(ctx context.Context, payload map[string]any) ([]*domain.Message, error)

	// NormalizeMessage converts a single provider message object into the
	// canonical model.
	NormalizeMessage(payload map[string]any) (*domain.Message, error)

	// FormatResponse renders a canonical message into the provider's
	// delivery payload.
	FormatResponse(msg *domain.Message) (map[string]any, error)

	// SendMessage delivers a canonical message through the provider and
	// returns the provider's receipt.
	SendMessage(ctx context.Context, msg *domain.Message) (*Receipt, error)

	// Descriptor returns the channel's capability descriptor.
	Descriptor() *domain.Channel
}

// Constructor builds an adapter from its configuration. Constructors fail
// closed: incomplete configuration yields a ChannelConfigError, never a
// half-configured adapter.
type Constructor func(cfg Config, log *logging.Logger) (Adapter, error)
