package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Untrusted input is rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unknown type", `{"type":"unknown_type","data":"something"}`},
		{"unknown field", `{"type":"send_message","content":"hi","sender":"admin"}`},
		{"wrong field type", `{"type":"send_message","content":42}`},
		{"extra field on typing", `{"type":"typing","username":"someone"}`},
		{"missing type", `{"content":"hi"}`},
		{"not json", `hello`},
		{"array", `["send_message"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, msg, err := ParseClientMessage([]byte(tc.input))
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if msg != nil {
				t.Errorf("expected nil message, got %v", msg)
			}
		})
	}
}

func TestParseClientMessage_UnknownTypeReturnsType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"find_match"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if msgType != "find_match" {
		t.Errorf("expected returned type %q, got %q", "find_match", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"send_message", `{"type":"send_message","content":"hi"}`, TypeSendMessage},
		{"typing", `{"type":"typing"}`, TypeTyping},
		{"stop_typing", `{"type":"stop_typing"}`, TypeStopTyping},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Server message shapes
// ---------------------------------------------------------------------------

func TestNewServerMessage_UserJoined(t *testing.T) {
	data, err := NewServerMessage(TypeUserJoined, PresenceMsg{
		Username:    "Nova",
		OnlineCount: 2,
		OnlineUsers: []string{"Orion", "Nova"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeUserJoined {
		t.Errorf("expected type %q, got %v", TypeUserJoined, result["type"])
	}
	if result["username"] != "Nova" {
		t.Errorf("expected username Nova, got %v", result["username"])
	}
	if result["onlineCount"] != float64(2) {
		t.Errorf("expected onlineCount 2, got %v", result["onlineCount"])
	}
	users, ok := result["onlineUsers"].([]any)
	if !ok || len(users) != 2 || users[0] != "Orion" {
		t.Errorf("unexpected onlineUsers: %v", result["onlineUsers"])
	}
}

func TestNewServerMessage_NewMessageFlattened(t *testing.T) {
	created := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	data, err := NewServerMessage(TypeNewMessage, NewMessageMsg{ChatMessage: ChatMessage{
		ID: "m1", Sender: "Nova", Content: "hi", CreatedAt: created,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type      string    `json:"type"`
		ID        string    `json:"id"`
		Sender    string    `json:"sender"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeNewMessage || decoded.ID != "m1" || decoded.Sender != "Nova" ||
		decoded.Content != "hi" || !decoded.CreatedAt.Equal(created) {
		t.Errorf("unexpected new_message: %+v", decoded)
	}
}

func TestNewServerMessage_OverridesType(t *testing.T) {
	data, err := NewServerMessage(TypeUserLeft, PresenceMsg{Type: TypeUserJoined, Username: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypeUserLeft {
		t.Errorf("type = %q, want %q", env.Type, TypeUserLeft)
	}
}

func TestNewServerMessage_EmptyRecentMessages(t *testing.T) {
	data, err := NewServerMessage(TypeRecentMessages, RecentMessagesMsg{Messages: []ChatMessage{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"messages":[],"type":"recent_messages"}` {
		t.Errorf("got %s", data)
	}
}

func TestNewServerMessage_NotAnObject(t *testing.T) {
	if _, err := NewServerMessage(TypePong, "pong"); err == nil {
		t.Error("expected error for non-object payload")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}
