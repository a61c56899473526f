package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// In-memory fakes for the store and bus contracts
// ---------------------------------------------------------------------------

type fakeStatusStore struct {
	mu      sync.Mutex
	records map[string]Status
	failing bool
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{records: make(map[string]Status)}
}

func (f *fakeStatusStore) SetOnline(_ context.Context, userID string) error {
	if f.failing {
		return errors.New("status store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = Status{UserID: userID, Online: true, LastSeen: time.Now()}
	return nil
}

func (f *fakeStatusStore) SetOffline(_ context.Context, userID string) error {
	if f.failing {
		return errors.New("status store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = Status{UserID: userID, Online: false, LastSeen: time.Now()}
	return nil
}

func (f *fakeStatusStore) Get(_ context.Context, userID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.records[userID]
	if !ok {
		return Status{UserID: userID}, nil // absent record: offline
	}
	return st, nil
}

type fakeLiveStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]bool // userID -> sessionID -> live
	beginErr error
}

func newFakeLiveStore() *fakeLiveStore {
	return &fakeLiveStore{sessions: make(map[string]map[string]bool)}
}

func (f *fakeLiveStore) Begin(_ context.Context, userID, sessionID string) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[userID] == nil {
		f.sessions[userID] = make(map[string]bool)
	}
	f.sessions[userID][sessionID] = true
	return nil
}

func (f *fakeLiveStore) Touch(_ context.Context, _, _ string) error { return nil }

// kill simulates a TTL expiry: the session record remains but is no longer
// counted as alive, like a Redis key that silently expired.
func (f *fakeLiveStore) kill(userID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[userID] != nil {
		f.sessions[userID][sessionID] = false
	}
}

func (f *fakeLiveStore) Alive(_ context.Context, userID, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[userID][sessionID], nil
}

func (f *fakeLiveStore) End(_ context.Context, userID, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions[userID], sessionID)
	live := 0
	for _, alive := range f.sessions[userID] {
		if alive {
			live++
		}
	}
	return live, nil
}

func (f *fakeLiveStore) Expired(_ context.Context, _ time.Time) ([]SessionRef, error) {
	return nil, nil
}

// fakeBus delivers published events synchronously to every subscription
// registered for the user, each holding its own handler.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string]map[int]func([]byte)
	next int
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]map[int]func([]byte))}
}

func (b *fakeBus) PublishPresence(userID string, data []byte) error {
	b.mu.Lock()
	handlers := make([]func([]byte), 0, len(b.subs[userID]))
	for _, h := range b.subs[userID] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *fakeBus) SubscribePresence(userID string, handler func(data []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]func([]byte))
	}
	b.next++
	id := b.next
	b.subs[userID][id] = handler
	return &fakeSub{bus: b, userID: userID, id: id}, nil
}

func (b *fakeBus) subscriberCount(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

type fakeSub struct {
	bus    *fakeBus
	userID string
	id     int
}

func (s *fakeSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.userID], s.id)
	return nil
}

func newTestTracker() (*Tracker, *fakeStatusStore, *fakeLiveStore, *fakeBus) {
	status := newFakeStatusStore()
	live := newFakeLiveStore()
	bus := newFakeBus()
	return NewTracker(status, live, bus), status, live, bus
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func TestBeginSessionMarksOnline(t *testing.T) {
	tracker, status, _, _ := newTestTracker()
	ctx := context.Background()

	sess, err := tracker.BeginSession(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginSession() error: %v", err)
	}
	if sess.UserID != "u1" || sess.SessionID == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	st, _ := status.Get(ctx, "u1")
	if !st.Online {
		t.Error("expected durable status online after BeginSession")
	}
}

func TestBeginSessionRejectsEmptyUser(t *testing.T) {
	tracker, _, _, _ := newTestTracker()
	if _, err := tracker.BeginSession(context.Background(), ""); !errors.Is(err, ErrMissingUser) {
		t.Errorf("expected ErrMissingUser, got %v", err)
	}
}

func TestDisconnectMarksOffline(t *testing.T) {
	tracker, status, _, _ := newTestTracker()
	ctx := context.Background()

	sess, _ := tracker.BeginSession(ctx, "u1")
	if err := sess.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	st, _ := status.Get(ctx, "u1")
	if st.Online {
		t.Error("expected offline after last session disconnected")
	}
	if st.LastSeen.IsZero() {
		t.Error("expected last_seen to be stamped on disconnect")
	}
}

func TestDisconnectIsOneShot(t *testing.T) {
	tracker, status, _, _ := newTestTracker()
	ctx := context.Background()

	sess, _ := tracker.BeginSession(ctx, "u1")
	if err := sess.Disconnect(ctx); err != nil {
		t.Fatalf("first Disconnect() error: %v", err)
	}

	// A second session comes up; re-running the first hook must not touch it.
	if _, err := tracker.BeginSession(ctx, "u1"); err != nil {
		t.Fatalf("BeginSession() error: %v", err)
	}
	if err := sess.Disconnect(ctx); err != nil {
		t.Fatalf("repeated Disconnect() error: %v", err)
	}

	st, _ := status.Get(ctx, "u1")
	if !st.Online {
		t.Error("repeated Disconnect of an old session marked the user offline")
	}
}

func TestMultiSessionStaysOnlineUntilLastDisconnect(t *testing.T) {
	tracker, status, _, _ := newTestTracker()
	ctx := context.Background()

	first, _ := tracker.BeginSession(ctx, "u1")
	second, _ := tracker.BeginSession(ctx, "u1")

	if err := first.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	st, _ := status.Get(ctx, "u1")
	if !st.Online {
		t.Fatal("user went offline while another session was still live")
	}

	if err := second.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	st, _ = status.Get(ctx, "u1")
	if st.Online {
		t.Error("user still online after the last session disconnected")
	}
}

func TestBeginSessionDegradedWhenHookRegistrationFails(t *testing.T) {
	tracker, status, live, _ := newTestTracker()
	live.beginErr = errors.New("redis unavailable")
	ctx := context.Background()

	sess, err := tracker.BeginSession(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginSession() must not fail on hook registration: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session handle in degraded mode")
	}

	st, _ := status.Get(ctx, "u1")
	if !st.Online {
		t.Error("expected online even when offline detection is degraded")
	}
}

func TestBeginSessionFailsWhenDurableWriteFails(t *testing.T) {
	tracker, status, _, _ := newTestTracker()
	status.failing = true

	if _, err := tracker.BeginSession(context.Background(), "u1"); err == nil {
		t.Fatal("expected error when the durable write fails")
	}
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

func TestObserveStatusInitialValueAbsentRecord(t *testing.T) {
	tracker, _, _, _ := newTestTracker()

	watch, err := tracker.ObserveStatus(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ObserveStatus() error: %v", err)
	}
	defer watch.Close()

	st := <-watch.Updates()
	if st.Online {
		t.Error("absent record must be observed as offline")
	}
}

func TestObserveStatusSeesTransitions(t *testing.T) {
	tracker, _, _, _ := newTestTracker()
	ctx := context.Background()

	watch, err := tracker.ObserveStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("ObserveStatus() error: %v", err)
	}
	defer watch.Close()

	// Initial value: offline.
	if st := <-watch.Updates(); st.Online {
		t.Fatal("expected initial offline")
	}

	sess, _ := tracker.BeginSession(ctx, "u1")
	if st := <-watch.Updates(); !st.Online {
		t.Fatal("expected online after BeginSession")
	}

	_ = sess.Disconnect(ctx)
	if st := <-watch.Updates(); st.Online {
		t.Fatal("expected offline after disconnect")
	}
}

func TestObserverIsolation(t *testing.T) {
	tracker, _, _, bus := newTestTracker()
	ctx := context.Background()

	a, err := tracker.ObserveStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("ObserveStatus() a: %v", err)
	}
	b, err := tracker.ObserveStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("ObserveStatus() b: %v", err)
	}

	// Both get the initial value.
	<-a.Updates()
	<-b.Updates()

	sess, _ := tracker.BeginSession(ctx, "u1")

	stA := <-a.Updates()
	stB := <-b.Updates()
	if !stA.Online || !stB.Online {
		t.Fatalf("observers disagree: a=%v b=%v", stA.Online, stB.Online)
	}

	// Closing one observer must not affect the other.
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	_ = sess.Disconnect(ctx)

	if st := <-b.Updates(); st.Online {
		t.Error("surviving observer missed the offline transition")
	}
	if bus.subscriberCount("u1") != 1 {
		t.Errorf("expected 1 remaining subscription, got %d", bus.subscriberCount("u1"))
	}
}

func TestObserveStatusBackpressureKeepsLatest(t *testing.T) {
	tracker, _, _, _ := newTestTracker()
	ctx := context.Background()

	watch, err := tracker.ObserveStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("ObserveStatus() error: %v", err)
	}
	defer watch.Close()

	// Flood the undrained watch with far more online events than its buffer
	// holds, then disconnect. The final offline transition must survive.
	sess, _ := tracker.BeginSession(ctx, "u1")
	for i := 0; i < 4*watchBuffer; i++ {
		tracker.publish("u1", Status{UserID: "u1", Online: true, LastSeen: time.Now()})
	}
	if err := sess.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	var last Status
	for {
		select {
		case st := <-watch.Updates():
			last = st
			continue
		default:
		}
		break
	}
	if last.Online {
		t.Fatal("offline transition was dropped; last observed value is stale online")
	}
}

func TestWatchCloseReleasesSubscription(t *testing.T) {
	tracker, _, _, bus := newTestTracker()

	watch, _ := tracker.ObserveStatus(context.Background(), "u1")
	if bus.subscriberCount("u1") != 1 {
		t.Fatalf("expected 1 subscription, got %d", bus.subscriberCount("u1"))
	}

	if err := watch.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if bus.subscriberCount("u1") != 0 {
		t.Errorf("subscription leaked after Close: %d", bus.subscriberCount("u1"))
	}

	// Close is idempotent and the channel is closed.
	if err := watch.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, ok := <-watch.Updates(); ok {
		t.Error("expected closed updates channel")
	}
}

// ---------------------------------------------------------------------------
// Sweep
// ---------------------------------------------------------------------------

// sweepLiveStore scripts Expired/End so the sweep paths can be exercised
// without Redis.
type sweepLiveStore struct {
	*fakeLiveStore
	expired []SessionRef
}

func (s *sweepLiveStore) Expired(_ context.Context, _ time.Time) ([]SessionRef, error) {
	return s.expired, nil
}

func TestSweepMarksCrashedSessionsOffline(t *testing.T) {
	status := newFakeStatusStore()
	live := &sweepLiveStore{fakeLiveStore: newFakeLiveStore()}
	bus := newFakeBus()
	tracker := NewTracker(status, live, bus)
	ctx := context.Background()

	sess, _ := tracker.BeginSession(ctx, "u1")
	live.kill("u1", sess.SessionID) // TTL expired: the client crashed
	live.expired = []SessionRef{{UserID: "u1", SessionID: sess.SessionID}}

	swept, err := tracker.Sweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	st, _ := status.Get(ctx, "u1")
	if st.Online {
		t.Error("expected offline after sweep of the only session")
	}
}

func TestSweepSparesRefreshedSessions(t *testing.T) {
	status := newFakeStatusStore()
	live := &sweepLiveStore{fakeLiveStore: newFakeLiveStore()}
	bus := newFakeBus()
	tracker := NewTracker(status, live, bus)
	ctx := context.Background()

	// The session's deadline was snapshotted as expired, but a heartbeat
	// landed in between: its TTL is still running.
	sess, _ := tracker.BeginSession(ctx, "u1")
	live.expired = []SessionRef{{UserID: "u1", SessionID: sess.SessionID}}

	swept, err := tracker.Sweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}

	st, _ := status.Get(ctx, "u1")
	if !st.Online {
		t.Error("sweep tore down a session whose TTL was still running")
	}
}

func TestSweepSparesUsersWithOtherLiveSessions(t *testing.T) {
	status := newFakeStatusStore()
	live := &sweepLiveStore{fakeLiveStore: newFakeLiveStore()}
	bus := newFakeBus()
	tracker := NewTracker(status, live, bus)
	ctx := context.Background()

	stale, _ := tracker.BeginSession(ctx, "u1")
	_, _ = tracker.BeginSession(ctx, "u1") // second session stays live
	live.kill("u1", stale.SessionID)
	live.expired = []SessionRef{{UserID: "u1", SessionID: stale.SessionID}}

	if _, err := tracker.Sweep(ctx, time.Now()); err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}

	st, _ := status.Get(ctx, "u1")
	if !st.Online {
		t.Error("sweep of one session marked a multi-session user offline")
	}
}
