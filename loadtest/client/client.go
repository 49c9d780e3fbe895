// Package client provides a reusable WebSocket load test client for the
// hushroom chatroom. It connects using gobwas/ws (the same library the
// server uses), joins under a display name and tracks per-connection
// performance metrics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
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

// ErrClosed is returned by WaitJoined when the connection ends before the
// server answered the join.
var ErrClosed = errors.New("client: connection closed")

// RejectedError is returned by WaitJoined when the server refused the name.
type RejectedError struct {
	Text string
}

func (e *RejectedError) Error() string {
	return "client: join rejected: " + e.Text
}

// NewMessage is the payload of a new_message event.
type NewMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration // dial + upgrade
	JoinLatency      time.Duration // dial until recent_messages
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated participant. It manages the
// WebSocket lifecycle and dispatches incoming events to registered
// handlers.
type Client struct {
	conn     net.Conn
	username string
	start    time.Time

	wmu sync.Mutex // serializes frame writes

	mu       sync.Mutex
	metrics  Metrics
	handlers map[string]func(json.RawMessage)

	joinOnce sync.Once
	joinDone chan struct{}
	joinErr  error

	closeOnce sync.Once
	closing   chan struct{}
	gone      chan struct{} // closed when the read loop exits
}

// Option configures a Client before its read loop starts.
type Option func(*Client)

// WithHandler registers a handler that sees events from the very first
// frame, unlike On which may miss events sent during the join.
func WithHandler(msgType string, handler func(json.RawMessage)) Option {
	return func(c *Client) {
		c.handlers[msgType] = handler
	}
}

// New dials the room at rawURL as username and starts reading events in
// the background. Use WaitJoined to learn whether the name was admitted.
func New(ctx context.Context, rawURL, username string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if br != nil {
		// The server may have written before the handshake buffer drained.
		conn = &bufferedConn{Conn: conn, r: br}
	}

	c := &Client{
		conn:     conn,
		username: username,
		start:    start,
		handlers: make(map[string]func(json.RawMessage)),
		joinDone: make(chan struct{}),
		closing:  make(chan struct{}),
		gone:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

// Username returns the name the client joined with.
func (c *Client) Username() string {
	return c.username
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.wmu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.wmu.Unlock()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// SendMessage submits content to the room.
func (c *Client) SendMessage(content string) error {
	return c.Send(map[string]string{"type": TypeSendMessage, "content": content})
}

// Typing sends typing or stop_typing.
func (c *Client) Typing(on bool) error {
	t := TypeStopTyping
	if on {
		t = TypeTyping
	}
	return c.Send(map[string]string{"type": t})
}

// On registers a handler for a server event type. The handler receives
// the full raw JSON of the event and runs on the read loop goroutine, so it
// should not block. Registering twice replaces the first handler.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitJoined blocks until the server admitted or rejected the client.
func (c *Client) WaitJoined(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.joinDone:
		return c.joinErr
	}
}

// Done is closed when the connection stops delivering events.
func (c *Client) Done() <-chan struct{} {
	return c.gone
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) settleJoin(err error) {
	c.joinOnce.Do(func() {
		c.joinErr = err
		if err == nil {
			c.mu.Lock()
			c.metrics.JoinLatency = time.Since(c.start)
			c.mu.Unlock()
		}
		close(c.joinDone)
	})
}

// readLoop reads events until the connection ends.
func (c *Client) readLoop() {
	defer close(c.gone)
	defer c.settleJoin(ErrClosed)

	rd := &wsutil.Reader{Source: c.conn, State: ws.StateClientSide, CheckUTF8: true}
	for {
		data, err := c.next(rd)
		if err != nil {
			select {
			case <-c.closing:
				// Closed on purpose; not an error.
			default:
				if !errors.Is(err, ErrClosed) {
					c.mu.Lock()
					c.metrics.Errors++
					c.mu.Unlock()
				}
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case TypeRecentMessages:
			c.settleJoin(nil)
		case TypeErrorMessage:
			c.settleJoin(&RejectedError{Text: envelope.Text})
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

// next returns the next text payload. Pings are answered under the write
// lock; a close frame ends the stream with ErrClosed.
func (c *Client) next(rd *wsutil.Reader) ([]byte, error) {
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			payload, err := io.ReadAll(rd)
			if err != nil {
				return nil, err
			}
			switch hdr.OpCode {
			case ws.OpPing:
				c.wmu.Lock()
				err = wsutil.WriteClientMessage(c.conn, ws.OpPong, payload)
				c.wmu.Unlock()
				if err != nil {
					return nil, err
				}
			case ws.OpClose:
				return nil, ErrClosed
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

// bufferedConn drains bytes the dialer buffered before reading the socket.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
