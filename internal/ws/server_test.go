package ws

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

type testServer struct {
	*Server
	url string

	mu           sync.Mutex
	disconnected []string
}

func (ts *testServer) disconnects() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.disconnected...)
}

// startServer runs an echoing Server on a loopback port. cfgFn adjusts
// the config and setup installs hooks before serving; either may be nil.
func startServer(t *testing.T, cfgFn func(*ServerConfig), setup func(*Server)) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := DefaultServerConfig()
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	if cfgFn != nil {
		cfgFn(&cfg)
	}

	echo := func(c *Connection, data []byte) { c.Send(data) }
	ts := &testServer{
		Server: NewServer(cfg, zap.NewNop(), echo),
		url:    "ws://" + ln.Addr().String() + "/ws",
	}
	ts.SetOnDisconnect(func(id string) {
		ts.mu.Lock()
		ts.disconnected = append(ts.disconnected, id)
		ts.mu.Unlock()
	})
	if setup != nil {
		setup(ts.Server)
	}

	go ts.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ts.Shutdown(ctx)
	})
	return ts
}

type clientConn struct {
	net.Conn
	rw io.ReadWriter
}

func dial(t *testing.T, url string) *clientConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &clientConn{Conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{r, conn}}
}

func (c *clientConn) send(t *testing.T, msg string) {
	t.Helper()
	if err := wsutil.WriteClientText(c.Conn, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *clientConn) read() (string, error) {
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(c.rw)
	return string(data), err
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_Echo(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := dial(t, ts.url)

	for _, msg := range []string{"first", "second"} {
		c.send(t, msg)
		got, err := c.read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != msg {
			t.Errorf("echo = %q, want %q", got, msg)
		}
	}
}

func TestServer_OnConnectSeesQuery(t *testing.T) {
	got := make(chan string, 1)
	ts := startServer(t, nil, func(s *Server) {
		s.SetOnConnect(func(c *Connection, r *http.Request) {
			got <- r.URL.Query().Get("username")
			c.Send([]byte("welcome"))
		})
	})
	c := dial(t, ts.url+"?username=Nova")

	select {
	case name := <-got:
		if name != "Nova" {
			t.Errorf("username = %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onConnect not called")
	}
	if msg, err := c.read(); err != nil || msg != "welcome" {
		t.Errorf("read = %q, %v", msg, err)
	}
}

func TestServer_RejectInOnConnect(t *testing.T) {
	ts := startServer(t, nil, func(s *Server) {
		s.SetOnConnect(func(c *Connection, _ *http.Request) {
			c.Send([]byte("go away"))
			c.Close()
		})
	})
	c := dial(t, ts.url)

	if msg, err := c.read(); err != nil || msg != "go away" {
		t.Fatalf("read = %q, %v", msg, err)
	}
	if _, err := c.read(); err == nil {
		t.Error("connection still open after close")
	}
	waitUntil(t, "disconnect hook", func() bool { return len(ts.disconnects()) == 1 })
	if n := ts.Connections().Count(); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestServer_ClientCloseRunsHookOnce(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := dial(t, ts.url)
	waitUntil(t, "registration", func() bool { return ts.Connections().Count() == 1 })

	c.Close()

	waitUntil(t, "disconnect hook", func() bool { return len(ts.disconnects()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := len(ts.disconnects()); n != 1 {
		t.Errorf("disconnect hook ran %d times", n)
	}
}

func TestServer_MaxConnections(t *testing.T) {
	ts := startServer(t, func(cfg *ServerConfig) { cfg.MaxConnections = 1 }, nil)
	dial(t, ts.url)
	waitUntil(t, "registration", func() bool { return ts.Connections().Count() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if conn, _, _, err := ws.Dial(ctx, ts.url); err == nil {
		conn.Close()
		t.Error("second connection accepted over the limit")
	}
}

func TestServer_OversizedFrameDropsConnection(t *testing.T) {
	ts := startServer(t, func(cfg *ServerConfig) { cfg.MaxFrameSize = 8 }, nil)
	c := dial(t, ts.url)

	c.send(t, "this frame is far too long")
	waitUntil(t, "disconnect", func() bool { return len(ts.disconnects()) == 1 })
}

func TestServer_PartialFrameTimeoutDropsConnection(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		// FIN+text opcode, then the client goes quiet before the length byte.
		{"inside header", []byte{0x81}},
		// Masked 5-byte text frame with only two payload bytes sent.
		{"inside payload", []byte{0x81, 0x85, 0, 0, 0, 0, 'h', 'e'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := startServer(t, func(cfg *ServerConfig) { cfg.ReadTimeout = 100 * time.Millisecond }, nil)
			c := dial(t, ts.url)
			waitUntil(t, "registration", func() bool { return ts.Connections().Count() == 1 })

			if _, err := c.Conn.Write(tt.data); err != nil {
				t.Fatalf("write: %v", err)
			}
			waitUntil(t, "disconnect", func() bool { return len(ts.disconnects()) == 1 })
		})
	}
}

func TestServer_IdleBetweenFramesKeepsConnection(t *testing.T) {
	ts := startServer(t, func(cfg *ServerConfig) { cfg.ReadTimeout = 100 * time.Millisecond }, nil)
	c := dial(t, ts.url)

	time.Sleep(300 * time.Millisecond)
	c.send(t, "still here")
	got, err := c.read()
	if err != nil || got != "still here" {
		t.Fatalf("echo = %q, %v", got, err)
	}
	if len(ts.disconnects()) != 0 {
		t.Errorf("idle connection dropped: %v", ts.disconnects())
	}
}

func TestServer_HeartbeatEvictsIdle(t *testing.T) {
	ts := startServer(t, nil, nil)
	dial(t, ts.url)
	waitUntil(t, "registration", func() bool { return ts.Connections().Count() == 1 })

	ts.checkConnections(ts.config.Heartbeat, time.Now().Add(time.Hour))

	waitUntil(t, "eviction", func() bool { return len(ts.disconnects()) == 1 })
}

func TestServer_HandleExtraRoute(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer(DefaultServerConfig(), nil, nil)
	s.Handle("/hello", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "hi")
	}))
	s.WrapUpgrade(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "blocked", http.StatusTooManyRequests)
		})
	})
	go s.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	base := "http://" + ln.Addr().String()
	var resp *http.Response
	waitUntil(t, "server up", func() bool {
		resp, err = http.Get(base + "/hello")
		return err == nil
	})
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hi" {
		t.Errorf("body = %q", body)
	}

	resp, err = http.Get(base + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 from the wrapper", resp.StatusCode)
	}
}
