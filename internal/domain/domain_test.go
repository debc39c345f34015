package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Defaults(t *testing.T) {
	m := NewMessage()
	assert.NotEmpty(t, m.MessageID)
	assert.WithinDuration(t, time.Now().UTC(), m.Timestamp, time.Second)
}

func TestMessage_Validate_CollectsAllIssues(t *testing.T) {
	m := &Message{Type: MessageTypeText, ContentType: "image/png"}
	err := m.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	// tenant, channel, and the text/content_type mismatch all reported at once
	assert.GreaterOrEqual(t, len(verr.Issues), 3)
	assert.Contains(t, err.Error(), "tenant_id is required")
	assert.Contains(t, err.Error(), "channel_id is required")
	assert.Contains(t, err.Error(), "invalid content_type")
}

func TestMessage_Validate_TypeContentTypeConsistency(t *testing.T) {
	m := &Message{
		TenantID:    "t1",
		ChannelID:   "c1",
		Type:        MessageTypeText,
		ContentType: "text/plain",
		Content:     "hello",
	}
	assert.NoError(t, m.Validate())

	m.Type = MessageTypeImage
	assert.Error(t, m.Validate())

	m.ContentType = "image/png"
	assert.NoError(t, m.Validate())
}

func TestMessage_Validate_EmptyEntityList(t *testing.T) {
	m := &Message{
		TenantID:    "t1",
		ChannelID:   "c1",
		Type:        MessageTypeText,
		ContentType: "text/plain",
		Entities:    map[string][]string{"email": {}},
	}
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty match list")
}

func TestMessage_MapRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	m := &Message{
		MessageID:        "m1",
		ChannelMessageID: "wamid.1",
		TenantID:         "t1",
		ChannelID:        "whatsapp-1",
		ConversationID:   "conv-1",
		SenderID:         "u1",
		RecipientID:      "biz-1",
		Type:             MessageTypeText,
		ContentType:      "text/plain",
		Content:          "hello",
		Entities:         map[string][]string{"email": {"a@b.co"}},
		Metadata:         map[string]any{"source": "webhook"},
		Timestamp:        ts,
	}

	got, err := FromMap(m.ToMap())
	require.NoError(t, err)
	assert.Equal(t, m.MessageID, got.MessageID)
	assert.Equal(t, m.ChannelMessageID, got.ChannelMessageID)
	assert.Equal(t, m.TenantID, got.TenantID)
	assert.Equal(t, m.ConversationID, got.ConversationID)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Entities, got.Entities)
	assert.Equal(t, m.Metadata, got.Metadata)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestFromMap_BadTimestamp(t *testing.T) {
	_, err := FromMap(map[string]any{"timestamp": "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timestamp")
}

func TestMessage_MergeMetadata(t *testing.T) {
	m := &Message{Metadata: map[string]any{"a": 1, "b": 2}}
	m.MergeMetadata(map[string]any{"b": 3, "c": 4})
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, m.Metadata)

	var empty Message
	empty.MergeMetadata(map[string]any{"x": true})
	assert.Equal(t, map[string]any{"x": true}, empty.Metadata)
}

func TestChannel_IsEnabled(t *testing.T) {
	ch := &Channel{ChannelID: "wa-1", TenantID: "t1", Enabled: true}
	assert.True(t, ch.IsEnabled("t1"))
	assert.True(t, ch.IsEnabled("")) // no tenant constraint given
	assert.False(t, ch.IsEnabled("t2"))

	global := &Channel{ChannelID: "wc-1", Enabled: true}
	assert.True(t, global.IsEnabled("t2"))

	ch.Enabled = false
	assert.False(t, ch.IsEnabled("t1"))
}

func TestChannel_SupportsContentType(t *testing.T) {
	ch := &Channel{
		ChannelID:             "wa-1",
		Enabled:               true,
		SupportedMessageTypes: []MessageType{MessageTypeText, MessageTypeImage},
		SupportedContentTypes: map[MessageType][]string{
			MessageTypeText:  {"text/plain"},
			MessageTypeImage: {"image/jpeg", "image/png"},
		},
	}
	assert.True(t, ch.SupportsMessageType(MessageTypeText))
	assert.False(t, ch.SupportsMessageType(MessageTypeAudio))
	assert.True(t, ch.SupportsContentType(MessageTypeImage, "image/png"))
	assert.False(t, ch.SupportsContentType(MessageTypeImage, "image/tiff"))
	assert.False(t, ch.SupportsContentType(MessageTypeAudio, "audio/ogg"))
}

func TestErrorTaxonomy_Unwrap(t *testing.T) {
	cause := NewValidationError("missing sender")
	nerr := &NormalizationError{Op: "normalize", Cause: cause}

	var verr *ValidationError
	assert.True(t, errors.As(nerr, &verr))
	assert.Contains(t, nerr.Error(), "normalize failed")

	cfgErr := &ChannelConfigError{ChannelType: "whatsapp", Cause: cause}
	assert.True(t, errors.As(cfgErr, &verr))

	notFound := &ChannelNotFoundError{ChannelType: "telegram"}
	assert.Contains(t, notFound.Error(), "telegram")
}
