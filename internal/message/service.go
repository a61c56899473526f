package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/iguess/chat-app/internal/convo"
	"github.com/iguess/chat-app/internal/moderation"
)

// Storage persists messages. Satisfied by *Store; tests use an in-memory
// fake.
type Storage interface {
	Insert(ctx context.Context, conversationID, senderID, senderName, senderAvatar, text string) (*Message, error)
	History(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// PreviewUpdater writes the denormalized last-message preview onto a
// conversation. Satisfied by *convo.Store.
type PreviewUpdater interface {
	UpdatePreview(ctx context.Context, id, text, senderID string) error
}

// Publisher fans a stored message out to the conversation's subscribers.
// Satisfied by *messaging.Client.
type Publisher interface {
	PublishConversation(conversationID string, data []byte) error
}

// Moderator screens message text before it is stored: spam heuristics
// reject, the keyword blocklist masks. Satisfied by *moderation.Filter.
type Moderator interface {
	CheckSpam(text string) moderation.FilterResult
	Clean(text string) string
}

// Service runs the full send path: validate, moderate, persist, update the
// conversation preview, then publish.
type Service struct {
	store  Storage
	convos PreviewUpdater
	bus    Publisher
	mod    Moderator
	buffer *ReplayBuffer
}

// NewService wires the send pipeline. mod may be nil to disable moderation.
func NewService(store Storage, convos PreviewUpdater, bus Publisher, mod Moderator, buffer *ReplayBuffer) *Service {
	return &Service{
		store:  store,
		convos: convos,
		bus:    bus,
		mod:    mod,
		buffer: buffer,
	}
}

// Send validates and stores a message into the given conversation, then
// publishes it. The sender must be a participant of a direct conversation;
// the global room accepts everyone.
func (s *Service) Send(ctx context.Context, conv *convo.Conversation, senderID, senderName, senderAvatar, text string) (*Message, error) {
	if err := ValidateText(text); err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	if conv.Type == convo.TypeDirect && !conv.Has(senderID) {
		return nil, ErrNotParticipant
	}
	if s.mod != nil {
		if res := s.mod.CheckSpam(text); res.Blocked {
			return nil, fmt.Errorf("message: %s: %w", res.Term, ErrSpam)
		}
		text = s.mod.Clean(text)
	}

	m, err := s.store.Insert(ctx, conv.ID, senderID, senderName, senderAvatar, text)
	if err != nil {
		return nil, err
	}
	s.buffer.Add(m)

	// The preview is denormalized; a failed write leaves a stale sidebar
	// line, not a lost message.
	if err := s.convos.UpdatePreview(ctx, conv.ID, convo.PreviewText(m.Text), m.SenderID); err != nil {
		log.Printf("[message] preview update failed for %s: %v", conv.ID, err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("message: marshal: %w", err)
	}
	if err := s.bus.PublishConversation(conv.ID, data); err != nil {
		log.Printf("[message] publish failed for %s: %v", conv.ID, err)
	}
	return m, nil
}

// History returns the recent messages of a conversation oldest-first. The
// page size depends on the conversation type. Served from the replay buffer
// when it holds a full page, otherwise from Postgres.
func (s *Service) History(ctx context.Context, conv *convo.Conversation) ([]*Message, error) {
	limit := DirectHistoryLimit
	if conv.Type == convo.TypeGlobal {
		limit = GlobalHistoryLimit
	}

	if s.buffer.Full(conv.ID, limit) {
		recent := s.buffer.Recent(conv.ID)
		return recent[len(recent)-limit:], nil
	}
	return s.store.History(ctx, conv.ID, limit)
}
