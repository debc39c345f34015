// Package domain holds the canonical message model shared by every channel.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies the payload carried by a Message.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeVideo       MessageType = "video"
	MessageTypeDocument    MessageType = "document"
	MessageTypeLocation    MessageType = "location"
	MessageTypeContact     MessageType = "contact"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeTemplate    MessageType = "template"
	MessageTypeUnknown     MessageType = "unknown"
)

// Message is the canonical representation every channel format is
// normalized to and from. Content holds text, a media reference, or
// serialized JSON depending on Type; Text carries an optional caption.
type Message struct {
	MessageID        string              `json:"message_id"`
	ChannelMessageID string              `json:"channel_message_id,omitempty"`
	TenantID         string              `json:"tenant_id"`
	ChannelID        string              `json:"channel_id"`
	ConversationID   string              `json:"conversation_id,omitempty"`
	SenderID         string              `json:"sender_id,omitempty"`
	RecipientID      string              `json:"recipient_id,omitempty"`
	Type             MessageType         `json:"message_type"`
	ContentType      string              `json:"content_type"`
	Content          string              `json:"content"`
	Text             string              `json:"text,omitempty"`
	Entities         map[string][]string `json:"entities,omitempty"`
	Attachments      []Attachment        `json:"attachments,omitempty"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
}

// Attachment references a file or media object carried alongside a message.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// InteractiveElement is one selectable unit (button, list item, quick reply)
// inside an interactive message. Elements live only inside Message.Content
// as serialized JSON, never as a top-level entity.
type InteractiveElement struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Text        string `json:"text,omitempty"`
	Payload     string `json:"payload,omitempty"`
	Description string `json:"description,omitempty"`
	Style       string `json:"style,omitempty"`
}

// NewMessage constructs a Message with a generated id and current timestamp.
func NewMessage() *Message {
	return &Message{
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// MergeMetadata union-merges extra fields into the message metadata.
// Existing keys are overwritten individually; the map is never replaced
// wholesale so earlier extraction steps survive.
func (m *Message) MergeMetadata(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		m.Metadata[k] = v
	}
}

// Validate checks the message invariants and returns a ValidationError
// listing every violation, or nil when the message is well formed.
func (m *Message) Validate() error {
	verr := &ValidationError{}

	if m.TenantID == "" {
		verr.Add("tenant_id is required")
	}
	if m.ChannelID == "" {
		verr.Add("channel_id is required")
	}
	if m.Type == "" {
		verr.Add("message_type is required")
	}
	if m.ContentType == "" {
		verr.Add("content_type is required")
	}

	switch m.Type {
	case MessageTypeText:
		if m.ContentType != "" && m.ContentType != "text/plain" {
			verr.Add("invalid content_type %q for text message", m.ContentType)
		}
	case MessageTypeImage:
		if m.ContentType != "" && !hasPrefix(m.ContentType, "image/") {
			verr.Add("invalid content_type %q for image message", m.ContentType)
		}
	case MessageTypeInteractive:
		if m.ContentType != "" && m.ContentType != "application/json" {
			verr.Add("invalid content_type %q for interactive message", m.ContentType)
		}
	}

	for entityType, matches := range m.Entities {
		if len(matches) == 0 {
			verr.Add("entity type %q present with empty match list", entityType)
		}
	}

	if verr.HasIssues() {
		return verr
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ToMap converts the message to a generic map with an RFC3339 timestamp.
// Symmetric with FromMap for all fields.
func (m *Message) ToMap() map[string]any {
	out := map[string]any{
		"message_id":   m.MessageID,
		"tenant_id":    m.TenantID,
		"channel_id":   m.ChannelID,
		"sender_id":    m.SenderID,
		"recipient_id": m.RecipientID,
		"message_type": string(m.Type),
		"content_type": m.ContentType,
		"content":      m.Content,
		"timestamp":    m.Timestamp.Format(time.RFC3339Nano),
	}
	if m.ChannelMessageID != "" {
		out["channel_message_id"] = m.ChannelMessageID
	}
	if m.ConversationID != "" {
		out["conversation_id"] = m.ConversationID
	}
	if m.Text != "" {
		out["text"] = m.Text
	}
	if len(m.Entities) > 0 {
		out["entities"] = m.Entities
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = m.Metadata
	}
	return out
}

// FromMap reconstructs a Message from its map form. Unknown keys are
// ignored; the timestamp accepts RFC3339 with or without sub-seconds.
func FromMap(data map[string]any) (*Message, error) {
	m := &Message{}
	verr := &ValidationError{}

	m.MessageID = stringField(data, "message_id")
	m.ChannelMessageID = stringField(data, "channel_message_id")
	m.TenantID = stringField(data, "tenant_id")
	m.ChannelID = stringField(data, "channel_id")
	m.ConversationID = stringField(data, "conversation_id")
	m.SenderID = stringField(data, "sender_id")
	m.RecipientID = stringField(data, "recipient_id")
	m.Type = MessageType(stringField(data, "message_type"))
	m.ContentType = stringField(data, "content_type")
	m.Content = stringField(data, "content")
	m.Text = stringField(data, "text")

	if ts := stringField(data, "timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			verr.Add("invalid timestamp %q: %v", ts, err)
		} else {
			m.Timestamp = parsed
		}
	}

	if raw, ok := data["entities"]; ok {
		switch ents := raw.(type) {
		case map[string][]string:
			m.Entities = ents
		case map[string]any:
			m.Entities = make(map[string][]string, len(ents))
			for k, v := range ents {
				items, ok := v.([]any)
				if !ok {
					verr.Add("entity %q is not a list", k)
					continue
				}
				for _, item := range items {
					s, ok := item.(string)
					if !ok {
						verr.Add("entity %q contains a non-string match", k)
						continue
					}
					m.Entities[k] = append(m.Entities[k], s)
				}
			}
		default:
			verr.Add("entities is not a map")
		}
	}

	if raw, ok := data["metadata"]; ok {
		meta, ok := raw.(map[string]any)
		if !ok {
			verr.Add("metadata is not a map")
		} else {
			m.Metadata = meta
		}
	}

	if verr.HasIssues() {
		return nil, verr
	}
	return m, nil
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
