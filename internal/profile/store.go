package profile

import (
	"context"
	"database/sql"
	"fmt"
)

// Store manages profile records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a profile store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert records a sign-in: it creates the profile on first sign-in and
// merges on later ones. Empty identity fields never clobber existing values,
// and the user's own edits (display name, hide-email) survive re-login.
func (s *Store) Upsert(ctx context.Context, p *Profile) error {
	const query = `
		INSERT INTO profiles (user_id, display_name, email, photo_url, hide_email, is_anonymous, created_at, last_login)
		VALUES ($1, $2, $3, $4, FALSE, $5, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email      = COALESCE(NULLIF(EXCLUDED.email, ''), profiles.email),
			photo_url  = COALESCE(NULLIF(EXCLUDED.photo_url, ''), profiles.photo_url),
			last_login = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		p.UserID, p.DisplayName, p.Email, p.PhotoURL, p.Anonymous)
	if err != nil {
		return fmt.Errorf("profile: upsert: %w", err)
	}
	return nil
}

// UpdateSettings applies a profile edit: display name and email privacy.
// The name is validated and trimmed before writing.
func (s *Store) UpdateSettings(ctx context.Context, userID, displayName string, hideEmail bool) error {
	name, err := ValidateDisplayName(displayName)
	if err != nil {
		return err
	}

	const query = `
		UPDATE profiles SET display_name = $2, hide_email = $3 WHERE user_id = $1`

	res, err := s.db.ExecContext(ctx, query, userID, name, hideEmail)
	if err != nil {
		return fmt.Errorf("profile: update settings: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const profileColumns = `
	user_id, display_name, COALESCE(email, ''), COALESCE(photo_url, ''),
	hide_email, is_anonymous, created_at, last_login`

// Get retrieves a profile by user id. Returns ErrNotFound if no record
// exists; callers treat that as a normal negative result.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get: %w", err)
	}
	return p, nil
}

// ListOthers returns every profile except the viewer's own, for the
// browse-all path of the new-conversation dialog.
func (s *Store) ListOthers(ctx context.Context, viewerID string) ([]*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id <> $1 ORDER BY display_name`

	rows, err := s.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: list rows: %w", err)
	}
	return profiles, nil
}

// Search returns profiles matching the term, excluding the viewer. The
// membership rules (name substring, name-part prefix, email visibility)
// live in Matches; the store only narrows to other users.
func (s *Store) Search(ctx context.Context, viewerID, term string) ([]*Profile, error) {
	candidates, err := s.ListOthers(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	var matched []*Profile
	for _, p := range candidates {
		if Matches(p, viewerID, term) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	err := row.Scan(
		&p.UserID, &p.DisplayName, &p.Email, &p.PhotoURL,
		&p.HideEmail, &p.Anonymous, &p.CreatedAt, &p.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
