// Package message implements chat message persistence and fan-out: messages
// are written to Postgres, mirrored into an in-memory replay buffer, and
// published to the conversation's NATS subject for connected clients.
package message

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count

	// History page sizes. The global room loads a shallower page than a
	// direct conversation.
	GlobalHistoryLimit = 25
	DirectHistoryLimit = 50
)

// ErrNotParticipant is returned when a sender tries to post into a direct
// conversation they are not part of.
var ErrNotParticipant = errors.New("message: sender is not a conversation participant")

// ErrSpam is returned when message text trips a spam heuristic. Spam is
// rejected outright; profanity is masked and the message still goes through.
var ErrSpam = errors.New("message: text rejected as spam")

// Message is one persisted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidateText checks that message text meets content requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
