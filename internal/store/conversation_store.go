package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/mcpgate/internal/domain"
)

// Conversation statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("store: not found")

// timestampLayout keeps fractional seconds fixed-width so the lexical
// ORDER BY on the timestamp column matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Conversation is one user's exchange on a channel.
type Conversation struct {
	ID        string
	TenantID  string
	ChannelID string
	UserID    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredMessage is a persisted message row.
type StoredMessage struct {
	ID               string
	ConversationID   string
	ChannelMessageID string
	SenderID         string
	Direction        string
	Type             domain.MessageType
	ContentType      string
	Content          string
	Metadata         map[string]any
	Timestamp        time.Time
}

// ConversationStore persists conversations and their messages.
type ConversationStore struct {
	db *DB
}

// NewConversationStore creates a conversation store using the given database.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// CreateConversation opens a new active conversation.
func (s *ConversationStore) CreateConversation(tenantID, channelID, userID string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ChannelID: channelID,
		UserID:    userID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.sql.Exec(
		`INSERT INTO conversations (id, tenant_id, channel_id, user_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, tenantID, channelID, userID, conv.Status,
		now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation by id.
func (s *ConversationStore) GetConversation(id string) (*Conversation, error) {
	return s.scanConversation(s.db.sql.QueryRow(
		`SELECT id, tenant_id, channel_id, user_id, status, created_at, updated_at
		 FROM conversations WHERE id = ?`, id))
}

// FindActiveConversation returns the user's active conversation on a
// channel, or ErrNotFound.
func (s *ConversationStore) FindActiveConversation(channelID, userID string) (*Conversation, error) {
	return s.scanConversation(s.db.sql.QueryRow(
		`SELECT id, tenant_id, channel_id, user_id, status, created_at, updated_at
		 FROM conversations
		 WHERE channel_id = ? AND user_id = ? AND status = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		channelID, userID, StatusActive))
}

// GetOrCreateConversation finds the user's active conversation, opening a
// new one when none exists.
func (s *ConversationStore) GetOrCreateConversation(tenantID, channelID, userID string) (*Conversation, error) {
	conv, err := s.FindActiveConversation(channelID, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateConversation(tenantID, channelID, userID)
}

// UpdateConversationStatus changes a conversation's status.
func (s *ConversationStore) UpdateConversationStatus(id, status string) error {
	res, err := s.db.sql.Exec(
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.DateTime), id)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage persists a canonical message in a conversation.
func (s *ConversationStore) SaveMessage(conversationID, direction string, msg *domain.Message) error {
	if msg == nil {
		return errors.New("store: message cannot be nil")
	}

	var metadataJSON sql.NullString
	if len(msg.Metadata) > 0 {
		if data, err := json.Marshal(msg.Metadata); err == nil {
			metadataJSON = sql.NullString{String: string(data), Valid: true}
		}
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.sql.Exec(
		`INSERT INTO messages (id, conversation_id, channel_message_id, sender_id, direction,
		                       message_type, content_type, content, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, conversationID, msg.ChannelMessageID, msg.SenderID, direction,
		string(msg.Type), msg.ContentType, msg.Content, metadataJSON,
		ts.Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	_, _ = s.db.sql.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.DateTime), conversationID)
	return nil
}

// ListMessages returns a conversation's messages in timestamp order,
// oldest first. A limit of 0 returns everything.
func (s *ConversationStore) ListMessages(conversationID string, limit int) ([]StoredMessage, error) {
	query := `SELECT id, conversation_id, channel_message_id, sender_id, direction,
	                 message_type, content_type, content, metadata, timestamp
	          FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var msgType, timestamp string
		var metadataJSON sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.ChannelMessageID, &m.SenderID, &m.Direction,
			&msgType, &m.ContentType, &m.Content, &metadataJSON, &timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = domain.MessageType(msgType)
		if metadataJSON.Valid {
			_ = json.Unmarshal([]byte(metadataJSON.String), &m.Metadata)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ConversationStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.TenantID, &conv.ChannelID, &conv.UserID,
		&conv.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return &conv, nil
}
