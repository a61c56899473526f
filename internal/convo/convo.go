// Package convo manages conversation records and direct-conversation
// resolution. A direct conversation is the single shared record between two
// users; the resolver finds the existing one or creates it, keyed by a
// canonical participant pair so that racing creators converge on one record.
package convo

import (
	"errors"
	"strings"
	"time"
)

const (
	// TypeDirect is a one-to-one conversation between two users.
	TypeDirect = "direct"

	// TypeGlobal is the shared room every user can post to.
	TypeGlobal = "global"

	// GlobalID is the fixed identifier of the global room record.
	GlobalID = "global"

	// NoMessagesPreview is the preview text a conversation carries before
	// its first message.
	NoMessagesPreview = "No messages yet"

	// GlobalPreview is the seeded preview for the global room.
	GlobalPreview = "Everyone is welcome here"

	// PreviewMaxChars is the maximum preview length before truncation.
	PreviewMaxChars = 30
)

// Sentinel errors returned by the store and resolver. Callers distinguish
// not-found (a normal negative result) from failed operations with errors.Is.
var (
	ErrNotFound         = errors.New("convo: conversation not found")
	ErrSelfConversation = errors.New("convo: cannot open a conversation with yourself")
	ErrMissingUser      = errors.New("convo: user id is empty")
)

// Conversation is a chat record. Direct conversations have exactly two
// participants stored as UserA/UserB; the global room has none.
type Conversation struct {
	ID                string
	Type              string
	UserA             string
	UserB             string
	PairKey           string
	CreatedAt         time.Time
	LastMessage       string
	LastMessageTime   time.Time
	LastMessageSender string
}

// Has reports whether userID participates in this conversation. Every user
// participates in the global room.
func (c *Conversation) Has(userID string) bool {
	if c.Type == TypeGlobal {
		return true
	}
	return userID == c.UserA || userID == c.UserB
}

// Other returns the other participant of a direct conversation, or "" if
// userID is not a participant or the conversation is not direct.
func (c *Conversation) Other(userID string) string {
	if c.Type != TypeDirect {
		return ""
	}
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return ""
}

// PairKey derives the canonical key for an unordered pair of user ids: the
// ids sorted and joined with ":". PairKey(a, b) == PairKey(b, a), which is
// what makes conditional creation race-free.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// PreviewText truncates message text to the preview length, appending "..."
// when it was cut.
func PreviewText(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewMaxChars {
		return text
	}
	return string(runes[:PreviewMaxChars]) + "..."
}

// normalizePair returns the pair in canonical (sorted) order.
func normalizePair(a, b string) (string, string) {
	if strings.Compare(b, a) < 0 {
		return b, a
	}
	return a, b
}
