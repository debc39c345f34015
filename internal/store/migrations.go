package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				tenant_id   TEXT NOT NULL,
				channel_id  TEXT NOT NULL,
				user_id     TEXT NOT NULL,
				status      TEXT NOT NULL DEFAULT 'active',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_conversations_tenant ON conversations (tenant_id);
			CREATE INDEX idx_conversations_user ON conversations (channel_id, user_id, status);

			CREATE TABLE messages (
				id                  TEXT PRIMARY KEY,
				conversation_id     TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				channel_message_id  TEXT NOT NULL DEFAULT '',
				sender_id           TEXT NOT NULL,
				direction           TEXT NOT NULL,
				message_type        TEXT NOT NULL,
				content_type        TEXT NOT NULL DEFAULT '',
				content             TEXT NOT NULL,
				metadata            TEXT,
				timestamp           TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, timestamp);
		`,
	},
}
