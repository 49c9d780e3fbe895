package chat

import (
	"context"
	"sync"
	"time"
)

// pending is a normalized message waiting for moderation.
type pending struct {
	text     string
	received time.Time
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	full
	stopped
)

// member is the Coordinator's per-participant state. Its mailbox is drained
// by exactly one goroutine, which keeps a sender's messages in order.
type member struct {
	connID  string
	name    string
	conn    Conn
	mailbox chan pending

	ctx    context.Context // cancelled when the participant leaves
	cancel context.CancelFunc
	once   sync.Once
}

func newMember(connID, name string, conn Conn, size int) *member {
	ctx, cancel := context.WithCancel(context.Background())
	return &member{
		connID:  connID,
		name:    name,
		conn:    conn,
		mailbox: make(chan pending, size),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// enqueue never blocks.
func (m *member) enqueue(p pending) enqueueResult {
	if m.ctx.Err() != nil {
		return stopped
	}
	select {
	case m.mailbox <- p:
		return enqueued
	default:
		return full
	}
}

// stop ends the mailbox goroutine and aborts an in-flight moderation call.
// Queued messages are discarded.
func (m *member) stop() {
	m.once.Do(m.cancel)
}

// runMailbox delivers m's messages one at a time until m is stopped.
func (c *Coordinator) runMailbox(m *member) {
	defer c.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case p := <-m.mailbox:
			if m.ctx.Err() != nil {
				return
			}
			c.deliver(m, p)
		}
	}
}
