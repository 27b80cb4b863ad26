package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zakki0925224/aident/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);

CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    time_label TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (conversation_id, position),
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) SaveConversation(ctx context.Context, sessionID string, conv models.Conversation) error {
	query := `
        INSERT INTO conversations (id, session_id, created_at)
        VALUES (?, ?, ?)
        ON CONFLICT(id) DO NOTHING`

	_, err := db.db.ExecContext(ctx, query, conv.ID, sessionID, conv.CreatedAt.UTC())
	return err
}

// SaveMessage writes msg at position, replacing whatever was stored there.
func (db *Database) SaveMessage(ctx context.Context, conversationID string, position int, msg models.Message) error {
	query := `
        INSERT INTO messages (conversation_id, position, role, content, time_label, updated_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(conversation_id, position) DO UPDATE SET
            role = excluded.role,
            content = excluded.content,
            time_label = excluded.time_label,
            updated_at = CURRENT_TIMESTAMP`

	_, err := db.db.ExecContext(ctx, query, conversationID, position, string(msg.Role), msg.Content, msg.Time)
	return err
}

// LoadSession returns the session's conversations, oldest first, with their messages.
func (db *Database) LoadSession(ctx context.Context, sessionID string) ([]models.Conversation, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, created_at
        FROM conversations
        WHERE session_id = ?
        ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		var createdAt time.Time
		if err := rows.Scan(&conv.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.CreatedAt = createdAt
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range conversations {
		messages, err := db.GetMessages(ctx, conversations[i].ID)
		if err != nil {
			return nil, err
		}
		conversations[i].Messages = messages
		conversations[i].MessageCount = len(messages)
		conversations[i].Title = models.Title(messages)
	}
	return conversations, nil
}

func (db *Database) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT role, content, time_label
        FROM messages
        WHERE conversation_id = ?
        ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Time); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
