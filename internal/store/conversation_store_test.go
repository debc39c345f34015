package store

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	db, err := Open(":memory:", logging.New(io.Discard, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewConversationStore(db)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("t1", "wa-1", "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, StatusActive, conv.Status)

	got, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "t1", got.TenantID)

	found, err := s.FindActiveConversation("wa-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)

	require.NoError(t, s.UpdateConversationStatus(conv.ID, StatusClosed))
	_, err = s.FindActiveConversation("wa-1", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateConversationStatus("missing", StatusClosed), ErrNotFound)
}

func TestGetOrCreateConversation(t *testing.T) {
	s := newTestStore(t)

	first, err := s.GetOrCreateConversation("t1", "wa-1", "u1")
	require.NoError(t, err)
	second, err := s.GetOrCreateConversation("t1", "wa-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := s.GetOrCreateConversation("t1", "wa-1", "u2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSaveAndListMessages(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("t1", "wa-1", "u1")
	require.NoError(t, err)

	inbound := domain.NewMessage()
	inbound.ChannelMessageID = "wamid.1"
	inbound.TenantID = "t1"
	inbound.ChannelID = "wa-1"
	inbound.SenderID = "u1"
	inbound.Type = domain.MessageTypeText
	inbound.ContentType = "text/plain"
	inbound.Content = "hello"
	inbound.Metadata = map[string]any{"source": "webhook"}
	require.NoError(t, s.SaveMessage(conv.ID, DirectionInbound, inbound))

	outbound := domain.NewMessage()
	outbound.TenantID = "t1"
	outbound.ChannelID = "wa-1"
	outbound.SenderID = "engine"
	outbound.Type = domain.MessageTypeText
	outbound.ContentType = "text/plain"
	outbound.Content = "hi there"
	outbound.Timestamp = inbound.Timestamp.Add(time.Second)
	require.NoError(t, s.SaveMessage(conv.ID, DirectionOutbound, outbound))

	msgs, err := s.ListMessages(conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, inbound.MessageID, msgs[0].ID)
	assert.Equal(t, DirectionInbound, msgs[0].Direction)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "webhook", msgs[0].Metadata["source"])
	assert.Equal(t, domain.MessageTypeText, msgs[0].Type)
	assert.Equal(t, DirectionOutbound, msgs[1].Direction)

	limited, err := s.ListMessages(conv.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveMessage_NilMessage(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveMessage("c1", DirectionInbound, nil))
}
