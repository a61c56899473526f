package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists messages in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes a new message row. The id and timestamp are assigned here so
// the caller gets back the record exactly as stored.
func (s *Store) Insert(ctx context.Context, conversationID, senderID, senderName, senderAvatar, text string) (*Message, error) {
	m := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		SenderAvatar:   senderAvatar,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}

	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_avatar, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.SenderAvatar, m.Text, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}
	return m, nil
}

// History returns the most recent messages of a conversation in
// chronological order (oldest first), capped at limit.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	// Page from the tail, then flip so callers render oldest-first.
	const query = `
		SELECT id, conversation_id, sender_id, sender_name, sender_avatar, text, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("message: history: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName,
			&m.SenderAvatar, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: history rows: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
