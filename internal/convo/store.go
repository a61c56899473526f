package convo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store manages conversation records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureGlobal seeds the global room record if it does not exist yet. Safe to
// call on every startup.
func (s *Store) EnsureGlobal(ctx context.Context) error {
	const query = `
		INSERT INTO conversations (id, type, user_a, user_b, pair_key, created_at, last_message, last_message_time)
		VALUES ($1, $2, '', '', $1, NOW(), $3, NOW())
		ON CONFLICT (pair_key) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, GlobalID, TypeGlobal, GlobalPreview); err != nil {
		return fmt.Errorf("convo: ensure global room: %w", err)
	}
	return nil
}

// CreateDirect creates the direct conversation for the pair, or returns the
// existing one if a record with the same pair key already exists. The insert
// is a conditional put on the canonical pair key, so two clients racing to
// message each other for the first time still end up sharing one record.
// The bool reports whether this call inserted the row.
func (s *Store) CreateDirect(ctx context.Context, userA, userB string) (*Conversation, bool, error) {
	a, b := normalizePair(userA, userB)
	key := PairKey(a, b)
	id := uuid.New().String()

	const insert = `
		INSERT INTO conversations (id, type, user_a, user_b, pair_key, created_at, last_message, last_message_time)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6, NOW())
		ON CONFLICT (pair_key) DO NOTHING`

	res, err := s.db.ExecContext(ctx, insert, id, TypeDirect, a, b, key, NoMessagesPreview)
	if err != nil {
		return nil, false, fmt.Errorf("convo: create direct: %w", err)
	}
	inserted, _ := res.RowsAffected()

	// Reread by pair key: either our row or the one a racing creator won with.
	conv, err := s.GetByPairKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("convo: create direct reread: %w", err)
	}
	return conv, inserted == 1, nil
}

const conversationColumns = `
	id, type, user_a, user_b, pair_key, created_at,
	last_message, last_message_time, COALESCE(last_message_sender, '')`

// Get retrieves a conversation by id. Returns ErrNotFound if no record exists.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByPairKey retrieves the direct conversation for a canonical pair key.
// Returns ErrNotFound if no record exists.
func (s *Store) GetByPairKey(ctx context.Context, pairKey string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE pair_key = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, pairKey))
}

// ListDirectFor returns all direct conversations that include userID, most
// recently active first. Only one membership predicate is pushed down; any
// further participant filtering happens at the caller.
func (s *Store) ListDirectFor(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE type = $1 AND $2 IN (user_a, user_b)
		ORDER BY last_message_time DESC`

	rows, err := s.db.QueryContext(ctx, query, TypeDirect, userID)
	if err != nil {
		return nil, fmt.Errorf("convo: list for %s: %w", userID, err)
	}
	defer rows.Close()

	var convos []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("convo: scan row: %w", err)
		}
		convos = append(convos, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convo: list rows: %w", err)
	}
	return convos, nil
}

// UpdatePreview writes the denormalized last-message preview onto the
// conversation record. Last writer wins; the preview is informational, the
// message rows remain authoritative.
func (s *Store) UpdatePreview(ctx context.Context, id, text, senderID string) error {
	const query = `
		UPDATE conversations
		SET last_message = $2, last_message_time = NOW(), last_message_sender = $3
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, PreviewText(text), senderID)
	if err != nil {
		return fmt.Errorf("convo: update preview: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOne(row *sql.Row) (*Conversation, error) {
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convo: query: %w", err)
	}
	return conv, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv            Conversation
		createdAt       time.Time
		lastMessageTime time.Time
	)
	err := row.Scan(
		&conv.ID, &conv.Type, &conv.UserA, &conv.UserB, &conv.PairKey,
		&createdAt, &conv.LastMessage, &lastMessageTime, &conv.LastMessageSender,
	)
	if err != nil {
		return nil, err
	}
	conv.CreatedAt = createdAt
	conv.LastMessageTime = lastMessageTime
	return &conv, nil
}
