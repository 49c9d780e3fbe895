package ws

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/hushroom/server/internal/metrics"
)

var (
	// ErrClosed is returned by Send once the connection is closing.
	ErrClosed = errors.New("ws: connection closed")
	// ErrQueueFull is returned by Send when the client is not draining its
	// outbound queue. The connection is closed as a slow consumer.
	ErrQueueFull = errors.New("ws: send queue full")
)

// frame is one outbound WebSocket frame.
type frame struct {
	op      ws.OpCode
	payload []byte
}

// Connection represents a single WebSocket client. Reads happen on the
// server's worker pool; writes go through a bounded queue drained by one
// writer goroutine, so Send never blocks the caller.
type Connection struct {
	ID        string    // connection id (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // poller key
	CreatedAt time.Time // when the connection was established
	RemoteIP  string

	reader       io.Reader // frame source; see newFrameReader
	lastSeen     atomic.Int64
	processing   atomic.Bool // set while a worker is reading a frame
	pollMu       sync.Mutex  // orders poller registration against detach
	detached     bool
	out          chan frame
	closing      chan struct{}
	closeOnce    sync.Once
	discard      atomic.Bool // drop queued frames instead of flushing
	done         chan struct{}
	writeTimeout time.Duration
	release      func(*Connection) // called by the writer before the socket closes
	log          *zap.Logger
}

func newConnection(id string, conn net.Conn, fd int, queueSize int, writeTimeout time.Duration, log *zap.Logger) *Connection {
	now := time.Now()
	c := &Connection{
		ID:           id,
		Conn:         conn,
		Fd:           fd,
		CreatedAt:    now,
		RemoteIP:     hostOf(conn.RemoteAddr()),
		reader:       newFrameReader(conn),
		out:          make(chan frame, queueSize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          log,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Send queues a text frame. It never blocks: if the queue is full the
// connection is dropped without flushing and ErrQueueFull is returned.
func (c *Connection) Send(data []byte) error {
	return c.enqueue(frame{op: ws.OpText, payload: data})
}

// Ping queues a protocol-level ping frame.
func (c *Connection) Ping() error {
	return c.enqueue(frame{op: ws.OpPing})
}

func (c *Connection) enqueue(f frame) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	default:
	}

	metrics.SlowConsumers.Inc()
	c.log.Warn("slow consumer, dropping connection", zap.String("conn", c.ID))
	c.discard.Store(true)
	c.Close()
	return ErrQueueFull
}

// Close asks the writer to flush queued frames, send a close frame and
// close the socket. It returns immediately and is safe to call repeatedly.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	return nil
}

// Done is closed once the socket has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Touch records activity from the client.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last frame received from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// writeLoop owns all writes to the socket.
func (c *Connection) writeLoop() {
	defer c.finish()
	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				c.log.Debug("write failed", zap.String("conn", c.ID), zap.Error(err))
				return
			}
		case <-c.closing:
			if c.discard.Load() {
				return
			}
			c.flush()
			_ = c.write(frame{op: ws.OpClose, payload: ws.NewCloseFrameBody(ws.StatusNormalClosure, "")})
			return
		}
	}
}

// flush writes whatever is still queued.
func (c *Connection) flush() {
	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(f frame) error {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if f.op == ws.OpText {
		return wsutil.WriteServerMessage(c.Conn, f.op, f.payload)
	}
	return ws.WriteFrame(c.Conn, ws.NewFrame(f.op, true, f.payload))
}

func (c *Connection) finish() {
	c.closeOnce.Do(func() { close(c.closing) })
	if c.release != nil {
		c.release(c)
	}
	_ = c.Conn.Close()
	close(c.done)
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// poller keys to their Connection objects.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection by ID. It returns false if the
// connection was already gone. The socket is not touched.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	conn, ok := cm.byID[id]
	if !ok {
		return false
	}
	delete(cm.byID, id)
	// The fd may already belong to a newer connection.
	if cm.byFd[conn.Fd] == conn {
		delete(cm.byFd, conn.Fd)
	}
	return true
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByFd returns the connection for the given poller key, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byFd[fd]
}

// Count returns the current number of connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
