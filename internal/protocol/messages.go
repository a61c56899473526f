// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth              = "auth"
	TypeOpenDirect        = "open_direct"
	TypeMessage           = "message"
	TypeHistory           = "history"
	TypeListConversations = "list_conversations"
	TypeSearchUsers       = "search_users"
	TypeGetProfile        = "get_profile"
	TypeUpdateProfile     = "update_profile"
	TypeWatchStatus       = "watch_status"
	TypeUnwatchStatus     = "unwatch_status"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated   = "session_created"
	TypeAuthOK           = "auth_ok"
	TypeDirectOpened     = "direct_opened"
	TypeHistoryResult    = "history"
	TypeConversationList = "conversation_list"
	TypeUserResults      = "user_results"
	TypeProfile          = "profile"
	TypeStatus           = "status"
	TypeRateLimited      = "rate_limited"
	TypeError            = "error"
	TypePong             = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payload structs
// ---------------------------------------------------------------------------

// MessageInfo is the wire form of one chat message.
type MessageInfo struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`
	Text           string `json:"text"`
	Ts             int64  `json:"ts"`
}

// ConversationInfo is the wire form of one sidebar conversation entry.
type ConversationInfo struct {
	ID                string `json:"id"`
	Kind              string `json:"kind"` // "direct" or "global"
	PartnerID         string `json:"partner_id,omitempty"`
	LastMessage       string `json:"last_message"`
	LastMessageSender string `json:"last_message_sender,omitempty"`
	LastMessageTs     int64  `json:"last_message_ts,omitempty"`
}

// UserInfo is the wire form of a user in search results.
type UserInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url"`
}

// ProfileInfo is the wire form of a full profile view.
type ProfileInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url"`
	HideEmail   bool   `json:"hide_email,omitempty"`
	Anonymous   bool   `json:"anonymous,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg is the first message on a connection. Guests request a generated
// identity; registered users hand over their upstream provider claims.
type AuthMsg struct {
	Type   string          `json:"type"`
	Guest  bool            `json:"guest"`
	Claims json.RawMessage `json:"claims,omitempty"`
}

// OpenDirectMsg asks the server to resolve the direct conversation with
// another user, creating it if none exists.
type OpenDirectMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// ChatMsg is a text message sent by the client into a conversation.
type ChatMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// HistoryMsg requests the recent messages of a conversation.
type HistoryMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ListConversationsMsg requests the client's conversation sidebar.
type ListConversationsMsg struct {
	Type string `json:"type"`
}

// SearchUsersMsg searches for users to start a conversation with.
type SearchUsersMsg struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// GetProfileMsg requests another user's profile.
type GetProfileMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UpdateProfileMsg updates the client's own display name and privacy
// settings.
type UpdateProfileMsg struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	HideEmail   bool   `json:"hide_email"`
}

// WatchStatusMsg subscribes the client to another user's presence changes.
type WatchStatusMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UnwatchStatusMsg cancels a presence subscription.
type UnwatchStatusMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// AuthOKMsg confirms authentication and echoes the resolved identity.
type AuthOKMsg struct {
	Type    string      `json:"type"`
	Profile ProfileInfo `json:"profile"`
}

// DirectOpenedMsg is the reply to open_direct with the resolved conversation.
type DirectOpenedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	PartnerID      string `json:"partner_id"`
	Created        bool   `json:"created"`
}

// ServerChatMsg delivers a stored message to conversation subscribers.
type ServerChatMsg struct {
	Type    string      `json:"type"`
	Message MessageInfo `json:"message"`
}

// HistoryResultMsg carries a conversation's recent messages, oldest first.
type HistoryResultMsg struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageInfo `json:"messages"`
}

// ConversationListMsg carries the client's sidebar entries, most recently
// active first.
type ConversationListMsg struct {
	Type          string             `json:"type"`
	Conversations []ConversationInfo `json:"conversations"`
}

// UserResultsMsg carries user search results.
type UserResultsMsg struct {
	Type  string     `json:"type"`
	Query string     `json:"query"`
	Users []UserInfo `json:"users"`
}

// ProfileMsg carries a requested profile.
type ProfileMsg struct {
	Type    string      `json:"type"`
	Profile ProfileInfo `json:"profile"`
}

// StatusMsg delivers a presence change for a watched user.
type StatusMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOpenDirect:
		var m OpenDirectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHistory:
		var m HistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListConversations:
		var m ListConversationsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSearchUsers:
		var m SearchUsersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetProfile:
		var m GetProfileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateProfile:
		var m UpdateProfileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWatchStatus:
		var m WatchStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnwatchStatus:
		var m UnwatchStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
