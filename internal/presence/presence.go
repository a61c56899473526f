// Package presence maintains per-user online/offline state. A user's own
// sessions are the only writers of "online"; the disconnect path (clean
// teardown or the expiry sweep) is the only writer of "offline". The durable
// status record lives in PostgreSQL and is what observers watch; Redis holds
// per-session liveness keys whose expiry drives offline detection when a
// client disappears without a clean close.
package presence

import (
	"context"
	"errors"
	"time"
)

// ErrMissingUser is returned when an operation is invoked with an empty
// user id.
var ErrMissingUser = errors.New("presence: user id is empty")

// Status is the durable presence record for one user. An absent record is
// reported as offline with a zero LastSeen.
type Status struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// SessionRef identifies one live session of one user.
type SessionRef struct {
	UserID    string
	SessionID string
}

// StatusStore persists the durable status record observers watch. The
// PostgreSQL store satisfies it; tests use an in-memory fake.
type StatusStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (Status, error)
}

// LiveStore tracks ephemeral per-session liveness. Sessions carry a TTL and
// a sweep deadline; End reports how many sessions for the user remain live
// so the caller can decide whether the user as a whole went offline. Alive
// reports whether the session's TTL is still running, which is the
// authoritative liveness signal when a deadline snapshot goes stale.
type LiveStore interface {
	Begin(ctx context.Context, userID, sessionID string) error
	Touch(ctx context.Context, userID, sessionID string) error
	Alive(ctx context.Context, userID, sessionID string) (bool, error)
	End(ctx context.Context, userID, sessionID string) (remaining int, err error)
	Expired(ctx context.Context, now time.Time) ([]SessionRef, error)
}

// Subscription is a live presence subscription that can be released.
// *nats.Subscription satisfies it.
type Subscription interface {
	Unsubscribe() error
}

// Bus fans presence change events out to observers.
type Bus interface {
	PublishPresence(userID string, data []byte) error
	SubscribePresence(userID string, handler func(data []byte)) (Subscription, error)
}
