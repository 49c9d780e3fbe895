// Package ws is the WebSocket transport. It upgrades HTTP requests with
// gobwas/ws, watches sockets with epoll and reads frames on a bounded
// worker pool. Outbound frames go through a per-connection queue so that
// callers never block on a slow client.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hushroom/server/internal/metrics"
)

// pollTimeout bounds one epoll wait so the event loop notices shutdown.
const pollTimeout = 250 * time.Millisecond

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for reading one frame
	WriteTimeout   time.Duration // timeout for writing one frame
	SendQueueSize  int           // outbound frames buffered per connection
	MaxFrameSize   int64         // larger client frames drop the connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxFrameSize:   16 << 10,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server. Besides /ws it serves whatever extra
// routes are registered with Handle.
type Server struct {
	config       ServerConfig
	log          *zap.Logger
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{} // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte)
	onConnect    func(conn *Connection, r *http.Request)
	onDisconnect func(connID string)
	mux          *http.ServeMux
	upgrade      http.Handler
	done         chan struct{}
	stopOnce     sync.Once

	mu         sync.Mutex // guards the fields set by Serve
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine
// for every complete data frame.
func NewServer(config ServerConfig, log *zap.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	def := DefaultServerConfig()
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = def.WorkerPoolSize
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = def.SendQueueSize
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = def.MaxFrameSize
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = def.Heartbeat
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		config:     config,
		log:        log,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		mux:        http.NewServeMux(),
		done:       make(chan struct{}),
	}
	s.upgrade = http.HandlerFunc(s.handleUpgrade)
	return s
}

// SetOnConnect registers a callback invoked for every upgraded connection
// before any of its frames are read. It may close the connection.
func (s *Server) SetOnConnect(fn func(conn *Connection, r *http.Request)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked exactly once per connection
// when it is removed, whatever the cause.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Handle registers an extra HTTP route. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// WrapUpgrade wraps the /ws handler, e.g. with a rate limiter. Call
// before Start.
func (s *Server) WrapUpgrade(mw func(http.Handler) http.Handler) {
	s.upgrade = mw(s.upgrade)
}

// Start listens on config.ListenAddr and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	epoll, err := NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.mux.Handle("/ws", s.upgrade)

	s.mu.Lock()
	s.epoll = epoll
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	go s.startEventLoop()
	s.startHeartbeat(s.config.Heartbeat)

	s.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// handleUpgrade upgrades the request, registers the connection, runs the
// connect hook and only then starts watching the socket for reads.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), netConn, connFD(netConn),
		s.config.SendQueueSize, s.config.WriteTimeout, s.log)
	c.release = s.detach
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()
	go c.writeLoop()

	if s.onConnect != nil {
		s.onConnect(c, r)
	}

	c.pollMu.Lock()
	if !c.detached {
		err = s.epoll.Add(c)
	}
	c.pollMu.Unlock()
	if err != nil {
		s.log.Error("epoll add failed", zap.String("conn", c.ID), zap.Error(err))
		s.RemoveConnection(c)
		return
	}

	s.log.Debug("new connection", zap.String("conn", c.ID),
		zap.String("remote", c.RemoteIP), zap.Int("total", s.conns.Count()))
}

// startEventLoop hands ready connections to the worker pool.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		fds, err := s.epoll.Wait(pollTimeout)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Error("epoll wait", zap.Error(err))
			time.Sleep(pollTimeout)
			continue
		}

		for _, fd := range fds {
			c := s.conns.GetByFd(fd)
			if c == nil {
				continue
			}
			if !c.processing.CompareAndSwap(false, true) {
				continue
			}

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(c)
			}()
		}
	}
}

// handleConn reads one frame from c. Control frames are handled here;
// data frames go to onMessage.
func (s *Server) handleConn(c *Connection) {
	rearm := true
	defer func() {
		c.processing.Store(false)
		if rearm {
			s.rearm(c)
		}
	}()

	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	src := &countingReader{r: c.reader}
	header, reader, err := wsutil.NextReader(src, ws.StateServerSide)
	if err != nil {
		// A timeout before any byte arrived means the readiness event was
		// stale. Once part of a header is consumed the stream cannot be
		// resynchronized.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && src.n == 0 {
			return
		}
		if src.n > 0 {
			s.log.Debug("read failed inside frame", zap.String("conn", c.ID), zap.Error(err))
		}
		rearm = false
		s.RemoveConnection(c)
		return
	}

	if header.Length > s.config.MaxFrameSize {
		s.log.Info("frame too large", zap.String("conn", c.ID), zap.Int64("length", header.Length))
		rearm = false
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, data); err != nil {
		rearm = false
		s.RemoveConnection(c)
		return
	}
	_ = c.Conn.SetReadDeadline(time.Time{})

	c.Touch()

	switch header.OpCode {
	case ws.OpClose:
		rearm = false
		s.RemoveConnection(c)
		return
	case ws.OpPing:
		_ = c.enqueue(frame{op: ws.OpPong, payload: data})
		return
	case ws.OpPong, ws.OpContinuation:
		return
	}

	if len(data) > 0 && s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// countingReader records how many bytes were taken from the socket.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func (s *Server) rearm(c *Connection) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.detached {
		return
	}
	if err := s.epoll.Rearm(c); err != nil {
		s.log.Debug("epoll rearm", zap.String("conn", c.ID), zap.Error(err))
	}
}

// RemoveConnection unregisters c, runs the disconnect hook and closes the
// socket after its queued frames are flushed. Safe to call concurrently and
// repeatedly; only the first call has effects.
func (s *Server) RemoveConnection(c *Connection) {
	s.detach(c)
	c.Close()
}

// detach stops watching c and unregisters it. It also runs on the writer
// goroutine just before the socket closes.
func (s *Server) detach(c *Connection) {
	c.pollMu.Lock()
	if !c.detached {
		c.detached = true
		if s.epoll != nil {
			_ = s.epoll.Remove(c)
		}
	}
	c.pollMu.Unlock()

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	s.log.Debug("connection closed", zap.String("conn", c.ID), zap.Int("total", s.conns.Count()))
}

// Shutdown stops accepting connections, closes every open one and waits
// for their writers to flush, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.log.Info("shutting down server")
		close(s.done)

		s.mu.Lock()
		httpServer, epoll := s.httpServer, s.epoll
		s.mu.Unlock()

		if httpServer != nil {
			if herr := httpServer.Shutdown(ctx); herr != nil {
				err = fmt.Errorf("ws: http shutdown: %w", herr)
			}
		}

		conns := s.conns.All()
		for _, c := range conns {
			c.Close()
		}
		for _, c := range conns {
			select {
			case <-c.Done():
			case <-ctx.Done():
				s.log.Warn("shutdown deadline reached with open connections")
				return
			}
		}

		if epoll != nil {
			_ = epoll.Close()
		}
		s.log.Info("server stopped")
	})
	return err
}
