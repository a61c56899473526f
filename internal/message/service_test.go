package message

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/iguess/chat-app/internal/convo"
	"github.com/iguess/chat-app/internal/moderation"
)

type fakeStorage struct {
	inserted []*Message
	history  []*Message
	queried  int
}

func (f *fakeStorage) Insert(ctx context.Context, conversationID, senderID, senderName, senderAvatar, text string) (*Message, error) {
	m := &Message{
		ID:             "m1",
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		SenderAvatar:   senderAvatar,
		Text:           text,
	}
	f.inserted = append(f.inserted, m)
	return m, nil
}

func (f *fakeStorage) History(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	f.queried = limit
	return f.history, nil
}

type fakePreviews struct {
	text     string
	senderID string
	err      error
}

func (f *fakePreviews) UpdatePreview(ctx context.Context, id, text, senderID string) error {
	f.text = text
	f.senderID = senderID
	return f.err
}

type fakeBus struct {
	published [][]byte
}

func (f *fakeBus) PublishConversation(conversationID string, data []byte) error {
	f.published = append(f.published, data)
	return nil
}

type maskEverything struct{}

func (maskEverything) CheckSpam(text string) moderation.FilterResult {
	return moderation.FilterResult{}
}

func (maskEverything) Clean(text string) string {
	return strings.Repeat("*", len(text))
}

func globalConv() *convo.Conversation {
	return &convo.Conversation{ID: convo.GlobalID, Type: convo.TypeGlobal}
}

func directConv() *convo.Conversation {
	return &convo.Conversation{ID: "c1", Type: convo.TypeDirect, UserA: "u1", UserB: "u2"}
}

func TestSendStoresAndPublishes(t *testing.T) {
	store := &fakeStorage{}
	previews := &fakePreviews{}
	bus := &fakeBus{}
	svc := NewService(store, previews, bus, nil, NewReplayBuffer(5))

	m, err := svc.Send(context.Background(), globalConv(), "u1", "Alice", "", "hello there")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d messages, want 1", len(store.inserted))
	}
	if previews.text != "hello there" || previews.senderID != "u1" {
		t.Errorf("preview = (%q, %q), want (%q, %q)", previews.text, previews.senderID, "hello there", "u1")
	}
	if len(bus.published) != 1 {
		t.Fatalf("published %d payloads, want 1", len(bus.published))
	}
	var got Message
	if err := json.Unmarshal(bus.published[0], &got); err != nil {
		t.Fatalf("published payload not valid JSON: %v", err)
	}
	if got.ID != m.ID || got.Text != m.Text {
		t.Errorf("published message = %+v, want %+v", got, m)
	}
}

func TestSendTruncatesPreview(t *testing.T) {
	previews := &fakePreviews{}
	svc := NewService(&fakeStorage{}, previews, &fakeBus{}, nil, NewReplayBuffer(5))

	long := strings.Repeat("a", 40)
	if _, err := svc.Send(context.Background(), globalConv(), "u1", "Alice", "", long); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := strings.Repeat("a", 30) + "..."
	if previews.text != want {
		t.Errorf("preview = %q, want %q", previews.text, want)
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	store := &fakeStorage{}
	svc := NewService(store, &fakePreviews{}, &fakeBus{}, nil, NewReplayBuffer(5))

	_, err := svc.Send(context.Background(), directConv(), "u3", "Mallory", "", "hi")
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("Send() error = %v, want ErrNotParticipant", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d messages, want 0", len(store.inserted))
	}
}

func TestSendAllowsParticipant(t *testing.T) {
	svc := NewService(&fakeStorage{}, &fakePreviews{}, &fakeBus{}, nil, NewReplayBuffer(5))

	if _, err := svc.Send(context.Background(), directConv(), "u2", "Bob", "", "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestSendRejectsInvalidText(t *testing.T) {
	store := &fakeStorage{}
	svc := NewService(store, &fakePreviews{}, &fakeBus{}, nil, NewReplayBuffer(5))

	if _, err := svc.Send(context.Background(), globalConv(), "u1", "Alice", "", ""); err == nil {
		t.Fatal("Send() with empty text: expected error")
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d messages, want 0", len(store.inserted))
	}
}

func TestSendCleansText(t *testing.T) {
	store := &fakeStorage{}
	svc := NewService(store, &fakePreviews{}, &fakeBus{}, maskEverything{}, NewReplayBuffer(5))

	if _, err := svc.Send(context.Background(), globalConv(), "u1", "Alice", "", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if store.inserted[0].Text != "*****" {
		t.Errorf("stored text = %q, want %q", store.inserted[0].Text, "*****")
	}
}

func TestSendRejectsSpam(t *testing.T) {
	store := &fakeStorage{}
	bus := &fakeBus{}
	svc := NewService(store, &fakePreviews{}, bus, moderation.NewFilterWithTerms(nil), NewReplayBuffer(5))

	_, err := svc.Send(context.Background(), globalConv(), "u1", "Alice", "", "visit http://totally.legit/deals now")
	if !errors.Is(err, ErrSpam) {
		t.Fatalf("Send() error = %v, want ErrSpam", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d messages, want 0", len(store.inserted))
	}
	if len(bus.published) != 0 {
		t.Errorf("published %d payloads, want 0", len(bus.published))
	}
}

func TestSendSurvivesPreviewFailure(t *testing.T) {
	previews := &fakePreviews{err: errors.New("boom")}
	svc := NewService(&fakeStorage{}, previews, &fakeBus{}, nil, NewReplayBuffer(5))

	if _, err := svc.Send(context.Background(), globalConv(), "u1", "Alice", "", "hi"); err != nil {
		t.Fatalf("Send() error = %v, want nil despite preview failure", err)
	}
}

func TestHistoryLimits(t *testing.T) {
	store := &fakeStorage{}
	svc := NewService(store, &fakePreviews{}, &fakeBus{}, nil, NewReplayBuffer(5))

	if _, err := svc.History(context.Background(), globalConv()); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if store.queried != GlobalHistoryLimit {
		t.Errorf("global history limit = %d, want %d", store.queried, GlobalHistoryLimit)
	}

	if _, err := svc.History(context.Background(), directConv()); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if store.queried != DirectHistoryLimit {
		t.Errorf("direct history limit = %d, want %d", store.queried, DirectHistoryLimit)
	}
}

func TestHistoryServedFromBuffer(t *testing.T) {
	store := &fakeStorage{}
	buf := NewReplayBuffer(DirectHistoryLimit)
	svc := NewService(store, &fakePreviews{}, &fakeBus{}, nil, buf)

	conv := directConv()
	for i := 0; i < DirectHistoryLimit; i++ {
		if _, err := svc.Send(context.Background(), conv, "u1", "Alice", "", "msg"); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	store.queried = 0
	msgs, err := svc.History(context.Background(), conv)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if store.queried != 0 {
		t.Error("History() hit storage despite a full replay buffer")
	}
	if len(msgs) != DirectHistoryLimit {
		t.Errorf("History() returned %d messages, want %d", len(msgs), DirectHistoryLimit)
	}
}
