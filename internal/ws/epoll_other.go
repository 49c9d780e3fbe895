//go:build !linux

package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Epoll is a goroutine-per-connection stand-in for platforms without
// epoll. Each watched connection has a goroutine that peeks one byte from
// a buffered reader, reports readiness, then waits for Rearm, mirroring
// the one-shot behavior of the Linux poller.
type Epoll struct {
	mu      sync.Mutex
	watches map[int]*watch
	ready   chan int
	done    chan struct{}
	once    sync.Once
}

type watch struct {
	rearm chan struct{}
	stop  chan struct{}
}

// NewEpoll creates a new fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		watches: make(map[int]*watch),
		ready:   make(chan int, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching c.
func (e *Epoll) Add(c *Connection) error {
	w := &watch{rearm: make(chan struct{}, 1), stop: make(chan struct{})}
	e.mu.Lock()
	e.watches[c.Fd] = w
	e.mu.Unlock()

	go e.monitor(c, w)
	return nil
}

func (e *Epoll) monitor(c *Connection, w *watch) {
	br, ok := c.reader.(*bufio.Reader)
	if !ok {
		return
	}
	for {
		_, err := br.Peek(1)
		select {
		case e.ready <- c.Fd:
		case <-w.stop:
			return
		case <-e.done:
			return
		}
		if err != nil {
			// The read path will see the same error and remove c.
			return
		}
		select {
		case <-w.rearm:
		case <-w.stop:
			return
		case <-e.done:
			return
		}
	}
}

// Rearm lets the monitor report c again.
func (e *Epoll) Rearm(c *Connection) error {
	e.mu.Lock()
	w, ok := e.watches[c.Fd]
	e.mu.Unlock()
	if ok {
		select {
		case w.rearm <- struct{}{}:
		default:
		}
	}
	return nil
}

// Remove stops watching c.
func (e *Epoll) Remove(c *Connection) error {
	e.mu.Lock()
	w, ok := e.watches[c.Fd]
	delete(e.watches, c.Fd)
	e.mu.Unlock()
	if ok {
		close(w.stop)
	}
	return nil
}

// Wait blocks for up to timeout and returns the keys that are ready.
func (e *Epoll) Wait(timeout time.Duration) ([]int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var fds []int
	select {
	case fd := <-e.ready:
		fds = append(fds, fd)
	case <-timer.C:
		return nil, nil
	case <-e.done:
		return nil, net.ErrClosed
	}
	for {
		select {
		case fd := <-e.ready:
			fds = append(fds, fd)
		default:
			return fds, nil
		}
	}
}

// Close stops every monitor.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

// newFrameReader buffers the socket so the monitor can peek without
// consuming frame bytes.
func newFrameReader(conn net.Conn) io.Reader {
	return bufio.NewReader(conn)
}

var syntheticFD atomic.Int64

// connFD hands out a unique key per connection.
func connFD(net.Conn) int {
	return int(syntheticFD.Add(1))
}
