package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// watchBuffer is the per-observer channel capacity. A slow observer drops
// intermediate values rather than blocking the bus callback; presence only
// has two states, so the latest value is what matters.
const watchBuffer = 8

// StatusWatch is one observer's live subscription to a user's status.
// Independent watches on the same user hold independent bus subscriptions,
// so closing one never affects another.
type StatusWatch struct {
	userID string
	ch     chan Status
	sub    Subscription

	mu     sync.Mutex
	closed bool
}

// ObserveStatus subscribes to a user's status. The watch first delivers the
// current durable value (absent record reported as offline), then a value
// for every change until Close is called.
func (t *Tracker) ObserveStatus(ctx context.Context, userID string) (*StatusWatch, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	w := &StatusWatch{
		userID: userID,
		ch:     make(chan Status, watchBuffer),
	}

	sub, err := t.bus.SubscribePresence(userID, func(data []byte) {
		var st Status
		if err := json.Unmarshal(data, &st); err != nil {
			log.Printf("presence: observe user=%s: bad event: %v", userID, err)
			return
		}
		w.deliver(st)
	})
	if err != nil {
		return nil, fmt.Errorf("presence: observe %s: %w", userID, err)
	}
	w.sub = sub

	// Initial value from the durable record, after the subscription is in
	// place so no transition between read and subscribe is lost.
	st, err := t.status.Get(ctx, userID)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("presence: observe %s: %w", userID, err)
	}
	w.deliver(st)

	return w, nil
}

// Updates is the stream of status values. It is closed by Close.
func (w *StatusWatch) Updates() <-chan Status {
	return w.ch
}

// Close releases the bus subscription and closes the update channel.
// Safe to call more than once.
func (w *StatusWatch) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.sub.Unsubscribe()
	close(w.ch)
	w.mu.Unlock()
	return err
}

func (w *StatusWatch) deliver(st Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- st:
	default:
		// Observer is not keeping up. Evict the oldest buffered value and
		// enqueue this one, so the last value drained is always the latest
		// state; a final offline transition must never be the one dropped.
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- st:
		default:
		}
	}
}
