//go:build linux

package ws

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll wraps Linux epoll for read readiness. Descriptors are registered
// one-shot: after a readiness event the descriptor stays silent until
// Rearm, so a connection is never handed to two workers at once.
type Epoll struct {
	fd     int
	events []unix.EpollEvent // reusable buffer for Wait
}

const epollEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT

// NewEpoll creates a new epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{fd: fd, events: make([]unix.EpollEvent, 128)}, nil
}

// Add registers c for read readiness.
func (e *Epoll) Add(c *Connection) error {
	if c.Fd < 0 {
		return errors.New("ws: connection has no file descriptor")
	}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, c.Fd, &unix.EpollEvent{
		Events: epollEvents,
		Fd:     int32(c.Fd),
	})
}

// Rearm re-enables readiness events for c after a worker has read from it.
func (e *Epoll) Rearm(c *Connection) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, c.Fd, &unix.EpollEvent{
		Events: epollEvents,
		Fd:     int32(c.Fd),
	})
}

// Remove unregisters c. Closed descriptors are dropped by the kernel, so
// EBADF and ENOENT are not errors.
func (e *Epoll) Remove(c *Connection) error {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, c.Fd, nil)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

// Wait blocks for up to timeout and returns the descriptors that are ready.
// An interrupted wait returns no descriptors and no error.
func (e *Epoll) Wait(timeout time.Duration) ([]int, error) {
	n, err := unix.EpollWait(e.fd, e.events, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	fds := make([]int, n)
	for i := 0; i < n; i++ {
		fds[i] = int(e.events[i].Fd)
	}
	return fds, nil
}

// Close closes the epoll descriptor.
func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}

// newFrameReader reads straight from the socket. Buffering would hide
// pending bytes from epoll.
func newFrameReader(conn net.Conn) io.Reader {
	return conn
}

// connFD extracts the file descriptor from a net.Conn without duplicating
// it, which keeps the original descriptor valid for epoll.
func connFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
