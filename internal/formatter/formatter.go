// Package formatter renders canonical messages into channel-ready shapes,
// applying per-channel length limits and markup capabilities.
package formatter

import (
	"time"

	"github.com/soyeahso/mcpgate/internal/domain"
)

// Formatter renders a canonical message for a specific channel.
type Formatter interface {
	// Format renders the message into the channel-ready payload shape.
	Format(msg *domain.Message, channelID string) (map[string]any, error)

	// Supports reports whether this formatter handles the message type.
	Supports(mt domain.MessageType) bool
}

// metadataEnvelope builds the formatted metadata block shared by all
// formatters. Custom metadata nests under its own key so it cannot shadow
// the identity fields.
func metadataEnvelope(msg *domain.Message) map[string]any {
	out := map[string]any{
		"message_id": msg.MessageID,
		"timestamp":  msg.Timestamp.Format(time.RFC3339Nano),
		"sender_id":  msg.SenderID,
	}
	if len(msg.Metadata) > 0 {
		out["custom_metadata"] = msg.Metadata
	}
	return out
}
