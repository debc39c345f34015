package domain

// ChannelCapabilities describes what a channel supports, keyed by message
// and content type plus free-form feature flags.
type ChannelCapabilities struct {
	MessageTypes []MessageType            `json:"message_types"`
	ContentTypes map[MessageType][]string `json:"content_types,omitempty"`
	Features     map[string]bool          `json:"features,omitempty"`
}

// Channel describes a configured messaging platform integration for a
// tenant. Constructed once at config-load time and read-only afterward
// except for the Enabled toggle.
type Channel struct {
	ChannelID             string                   `json:"channel_id"`
	Name                  string                   `json:"name"`
	Provider              string                   `json:"provider"`
	TenantID              string                   `json:"tenant_id,omitempty"` // empty means global
	Enabled               bool                     `json:"enabled"`
	SupportedMessageTypes []MessageType            `json:"supported_message_types,omitempty"`
	SupportedContentTypes map[MessageType][]string `json:"supported_content_types,omitempty"`
	Features              map[string]bool          `json:"features,omitempty"`
	Metadata              map[string]any           `json:"metadata,omitempty"`
}

// IsEnabled reports whether the channel is enabled for the given tenant.
// A channel with an empty TenantID is global and serves every tenant.
func (c *Channel) IsEnabled(tenantID string) bool {
	if tenantID != "" && c.TenantID != "" && tenantID != c.TenantID {
		return false
	}
	return c.Enabled
}

// SupportsMessageType reports whether the channel accepts the message type.
func (c *Channel) SupportsMessageType(mt MessageType) bool {
	for _, t := range c.SupportedMessageTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// SupportsContentType reports whether the channel accepts the content type
// for the given message type.
func (c *Channel) SupportsContentType(mt MessageType, contentType string) bool {
	if !c.SupportsMessageType(mt) {
		return false
	}
	for _, ct := range c.SupportedContentTypes[mt] {
		if ct == contentType {
			return true
		}
	}
	return false
}

// Capabilities returns the channel's capability descriptor.
func (c *Channel) Capabilities() ChannelCapabilities {
	return ChannelCapabilities{
		MessageTypes: c.SupportedMessageTypes,
		ContentTypes: c.SupportedContentTypes,
		Features:     c.Features,
	}
}
