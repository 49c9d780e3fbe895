package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hushroom/server/internal/protocol"
)

func readEvent(t *testing.T, c *Connection) map[string]any {
	t.Helper()
	select {
	case f := <-c.out:
		var m map[string]any
		if err := json.Unmarshal(f.payload, &m); err != nil {
			t.Fatalf("decode %q: %v", f.payload, err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

// queueConn is a Connection whose writer is never started, so tests can
// inspect queued frames directly.
func queueConn() *Connection {
	return &Connection{
		ID:      "c1",
		out:     make(chan frame, 8),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func TestDispatcher_RoutesByType(t *testing.T) {
	d := NewMessageDispatcher(nil)
	var got any
	d.Register(protocol.TypeSendMessage, func(_ *Connection, msg any) { got = msg })

	d.Dispatch(queueConn(), []byte(`{"type":"send_message","content":"hi"}`))

	msg, ok := got.(protocol.SendMessageMsg)
	if !ok || msg.Content != "hi" {
		t.Errorf("handler got %#v", got)
	}
}

func TestDispatcher_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
	}{
		{"not json", `hello`, protocol.CodeParseError},
		{"unknown type", `{"type":"find_match"}`, protocol.CodeParseError},
		{"unknown field", `{"type":"send_message","content":"x","to":"y"}`, protocol.CodeParseError},
		{"known but unregistered", `{"type":"typing"}`, protocol.CodeUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewMessageDispatcher(nil)
			c := queueConn()
			d.Dispatch(c, []byte(tt.input))

			ev := readEvent(t, c)
			if ev["type"] != protocol.TypeError || ev["code"] != tt.wantCode {
				t.Errorf("event = %v, want error %q", ev, tt.wantCode)
			}
		})
	}
}

func TestDispatcher_PingAnsweredInternally(t *testing.T) {
	d := NewMessageDispatcher(nil)
	called := false
	d.Register(protocol.TypePing, func(*Connection, any) { called = true })
	c := queueConn()
	before := c.LastSeen()

	d.Dispatch(c, []byte(`{"type":"ping"}`))

	if ev := readEvent(t, c); ev["type"] != protocol.TypePong {
		t.Errorf("event = %v, want pong", ev)
	}
	if called {
		t.Error("registered ping handler ran")
	}
	if !c.LastSeen().After(before) {
		t.Error("ping did not count as activity")
	}
}
