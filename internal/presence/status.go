package presence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGStatusStore persists durable status records in PostgreSQL.
type PGStatusStore struct {
	db *sql.DB
}

// NewPGStatusStore creates a status store backed by the given database handle.
func NewPGStatusStore(db *sql.DB) *PGStatusStore {
	return &PGStatusStore{db: db}
}

var _ StatusStore = (*PGStatusStore)(nil)

// SetOnline upserts the user's status record to online. Overwriting an
// already-online record is harmless; re-entrant sessions rely on that.
func (s *PGStatusStore) SetOnline(ctx context.Context, userID string) error {
	const query = `
		INSERT INTO status (user_id, online, last_seen)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (user_id) DO UPDATE SET online = TRUE, last_seen = NOW()`

	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("presence: set online: %w", err)
	}
	return nil
}

// SetOffline upserts the user's status record to offline, stamping last_seen.
func (s *PGStatusStore) SetOffline(ctx context.Context, userID string) error {
	const query = `
		INSERT INTO status (user_id, online, last_seen)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (user_id) DO UPDATE SET online = FALSE, last_seen = NOW()`

	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("presence: set offline: %w", err)
	}
	return nil
}

// Get returns the user's status record. An absent record is a normal
// negative result: offline with a zero LastSeen, not an error.
func (s *PGStatusStore) Get(ctx context.Context, userID string) (Status, error) {
	const query = `SELECT online, last_seen FROM status WHERE user_id = $1`

	st := Status{UserID: userID}
	var lastSeen time.Time
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&st.Online, &lastSeen)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("presence: get status: %w", err)
	}
	st.LastSeen = lastSeen
	return st, nil
}
