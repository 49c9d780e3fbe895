// Package protocol defines the WebSocket message types exchanged between
// room clients and the server. All messages are JSON objects carrying a
// "type" discriminator next to a fixed, per-type set of fields.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeStopTyping  = "stop_typing"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeRecentMessages  = "recent_messages"
	TypeNewMessage      = "new_message"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeOnlineCount     = "online_count"
	TypeUserTyping      = "user_typing"
	TypeUserStopTyping  = "user_stop_typing"
	TypeMessageWarning  = "message_warning"
	TypeErrorMessage    = "error_message"
	TypeKicked          = "kicked"
	TypeMessagesCleared = "messages_cleared"
	TypeRateLimited     = "rate_limited"
	TypeError           = "error"
	TypePong            = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeParseError  = "parse_error"
	CodeNotJoined   = "not_joined"
	CodeUnsupported = "unsupported_type"
)

// ---------------------------------------------------------------------------
// Envelope
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
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

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
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg submits a chat message to the room.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TypingMsg announces that the client started typing.
type TypingMsg struct {
	Type string `json:"type"`
}

// StopTypingMsg announces that the client stopped typing.
type StopTypingMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ChatMessage is one accepted message as clients see it.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecentMessagesMsg is the history sent to a participant right after
// admission.
type RecentMessagesMsg struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
}

// NewMessageMsg broadcasts an accepted message.
type NewMessageMsg struct {
	Type string `json:"type"`
	ChatMessage
}

// PresenceMsg is sent as user_joined and user_left.
type PresenceMsg struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	OnlineCount int      `json:"onlineCount"`
	OnlineUsers []string `json:"onlineUsers"`
}

// OnlineCountMsg carries the current number of participants.
type OnlineCountMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// UserTypingMsg is sent as user_typing and user_stop_typing.
type UserTypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// MessageWarningMsg tells a sender their message was not delivered.
type MessageWarningMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// ErrorMessageMsg reports a rejected admission.
type ErrorMessageMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// KickedMsg is the last message a kicked participant receives.
type KickedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// MessagesClearedMsg tells clients to drop their local history.
type MessagesClearedMsg struct {
	Type string `json:"type"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg reports a malformed or out-of-state client frame.
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

// decodeStrict decodes data into v and rejects fields v does not declare.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. Unknown types, unknown fields and mistyped
// fields are all errors.
func ParseClientMessage(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = decodeStrict(env.Raw, &m)
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
// The msgType is injected into the payload under the "type" key, overriding
// whatever the payload's own Type field holds.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
