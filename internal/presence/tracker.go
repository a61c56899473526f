package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker coordinates the durable status record, the ephemeral liveness
// records, and the event bus. The acting user is always an explicit
// parameter; the tracker holds no ambient authentication state.
type Tracker struct {
	status StatusStore
	live   LiveStore
	bus    Bus
}

// NewTracker creates a Tracker over the given stores and bus.
func NewTracker(status StatusStore, live LiveStore, bus Bus) *Tracker {
	return &Tracker{status: status, live: live, bus: bus}
}

// Session is the handle for one live client session. Its Disconnect method
// is the registered disconnect hook: the connection teardown path calls it
// exactly once, and it flips the durable record offline only when this was
// the user's last live session.
type Session struct {
	UserID    string
	SessionID string

	tracker *Tracker
	once    sync.Once
}

// BeginSession marks the user online and registers a live session with its
// disconnect hook. Calling it again for the same user simply adds another
// session; the durable record is overwritten with the same value.
//
// If the liveness registration fails the session still proceeds online,
// but without guaranteed offline detection until the user's next session
// start. That is a degraded mode, not a failure of the operation.
func (t *Tracker) BeginSession(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	sessionID := uuid.New().String()

	if err := t.status.SetOnline(ctx, userID); err != nil {
		return nil, fmt.Errorf("presence: begin session: %w", err)
	}

	if err := t.live.Begin(ctx, userID, sessionID); err != nil {
		log.Printf("presence: disconnect hook registration failed user=%s session=%s: %v (offline detection degraded)",
			userID, sessionID, err)
	}

	t.publish(userID, Status{UserID: userID, Online: true, LastSeen: time.Now()})

	return &Session{UserID: userID, SessionID: sessionID, tracker: t}, nil
}

// Heartbeat extends the session's liveness window. The WebSocket heartbeat
// path calls it whenever the client proves it is still there.
func (s *Session) Heartbeat(ctx context.Context) error {
	return s.tracker.live.Touch(ctx, s.UserID, s.SessionID)
}

// Disconnect is the disconnect hook. It removes this session's liveness
// records and, if no other session for the user remains live, writes the
// durable record offline and publishes the transition. Safe to call more
// than once; only the first call acts.
func (s *Session) Disconnect(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.tracker.endSession(ctx, s.UserID, s.SessionID)
	})
	return err
}

// endSession is shared by the clean disconnect path and the expiry sweep.
func (t *Tracker) endSession(ctx context.Context, userID, sessionID string) error {
	remaining, err := t.live.End(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("presence: end session: %w", err)
	}
	if remaining > 0 {
		// Another session keeps the user online.
		return nil
	}

	if err := t.status.SetOffline(ctx, userID); err != nil {
		return fmt.Errorf("presence: end session: %w", err)
	}
	t.publish(userID, Status{UserID: userID, Online: false, LastSeen: time.Now()})
	return nil
}

// Sweep expires sessions whose deadlines passed without a clean disconnect
// (crashed client, network partition). It returns the number of sessions it
// tore down. The deadline set is only a hint: a session refreshed after the
// Expired snapshot still has a running TTL, and the TTL is authoritative,
// so the sweep re-checks liveness before ending anything.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (int, error) {
	refs, err := t.live.Expired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("presence: sweep: %w", err)
	}

	swept := 0
	for _, ref := range refs {
		alive, err := t.live.Alive(ctx, ref.UserID, ref.SessionID)
		if err != nil {
			log.Printf("presence: sweep user=%s session=%s: %v", ref.UserID, ref.SessionID, err)
			continue
		}
		if alive {
			// Heartbeat came in after the deadline snapshot; not crashed.
			continue
		}
		if err := t.endSession(ctx, ref.UserID, ref.SessionID); err != nil {
			log.Printf("presence: sweep user=%s session=%s: %v", ref.UserID, ref.SessionID, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// Current returns the user's durable status.
func (t *Tracker) Current(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, ErrMissingUser
	}
	return t.status.Get(ctx, userID)
}

// publish fans a status change out to observers. Publish failures are
// logged, never propagated: the durable write already happened and
// observers reconcile on their next initial read.
func (t *Tracker) publish(userID string, st Status) {
	data, err := json.Marshal(st)
	if err != nil {
		log.Printf("presence: marshal status user=%s: %v", userID, err)
		return
	}
	if err := t.bus.PublishPresence(userID, data); err != nil {
		log.Printf("presence: publish status user=%s: %v", userID, err)
	}
}
