// Package chat runs the room. The Coordinator owns the presence registry,
// the ban list and the message log, and is the only place that mutates
// them. Every mutation and every broadcast happens under one mutex, so all
// participants observe room events in the same order and every broadcast
// payload reflects the state change that caused it.
//
// Moderation is slow (a remote call) and must not stall the room, so each
// participant gets a mailbox drained by its own goroutine. The goroutine
// classifies the message without the lock, then takes the lock to record
// and deliver it. Message log writes are queued to a single writer in the
// order they were decided and applied off the lock.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hushroom/server/internal/ban"
	"github.com/hushroom/server/internal/chatlog"
	"github.com/hushroom/server/internal/metrics"
	"github.com/hushroom/server/internal/moderation"
	"github.com/hushroom/server/internal/presence"
	"github.com/hushroom/server/internal/protocol"
)

// Texts sent to clients.
const (
	TextInvalidName = "Invalid username"
	TextNameTaken   = "Username is already taken. Please choose another."
	TextBanned      = "You have been kicked from the chat. Try with a different name."

	WarningFlagged    = "Your message was flagged for inappropriate content and was not sent."
	WarningNotSent    = "Your message was not sent."
	ReasonMailboxFull = "Too many pending messages"

	DefaultKickReason = "You have been kicked by an admin."
)

var (
	// ErrNotFound is returned when an operation names a connection that is
	// not an admitted participant.
	ErrNotFound = errors.New("chat: participant not found")
	// ErrMailboxFull is returned when a sender has too many messages
	// waiting for moderation.
	ErrMailboxFull = errors.New("chat: mailbox full")
)

// Conn is the outbound side of a client connection. Send must not block;
// Close must deliver already queued frames before closing.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Moderator classifies message text. *moderation.Gate satisfies it.
type Moderator interface {
	Moderate(ctx context.Context, text string) moderation.Verdict
}

// Config tunes the Coordinator.
type Config struct {
	MailboxSize  int           // pending messages per participant
	StoreTimeout time.Duration // bound on a single message log call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MailboxSize:  16,
		StoreTimeout: 2 * time.Second,
	}
}

// Coordinator is the room state machine.
type Coordinator struct {
	mu       sync.Mutex
	registry *presence.Registry
	members  map[string]*member // conn id -> member, same keys as registry
	bans     *ban.List
	store    chatlog.Store
	logw     *logWriter
	mod      Moderator
	pub      Publisher
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates a Coordinator. pub may be nil.
func New(cfg Config, store chatlog.Store, mod Moderator, bans *ban.List, pub Publisher, log *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if bans == nil {
		bans = ban.NewList()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		registry: presence.NewRegistry(),
		members:  make(map[string]*member),
		bans:     bans,
		store:    store,
		logw:     newLogWriter(store, cfg.StoreTimeout, log),
		mod:      mod,
		pub:      pub,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Join admits conn under rawName. On rejection the client gets a single
// error_message, the connection is closed and the admission error is
// returned. On success the joiner gets recent_messages, then everyone,
// joiner included, gets user_joined and online_count.
func (c *Coordinator) Join(connID string, conn Conn, rawName string) (presence.Participant, error) {
	c.mu.Lock()
	p, err := c.registry.Admit(connID, rawName, c.bans)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, presence.ErrDuplicateConnection) {
			return presence.Participant{}, err
		}
		c.rejectAdmission(connID, conn, err)
		return presence.Participant{}, err
	}

	m := newMember(connID, p.Name, conn, c.cfg.MailboxSize)
	c.members[connID] = m
	c.wg.Add(1)
	go c.runMailbox(m)

	c.send(conn, protocol.TypeRecentMessages, protocol.RecentMessagesMsg{
		Messages: []protocol.ChatMessage{},
	})
	names := c.registry.Names()
	c.broadcastLocked(protocol.TypeUserJoined, protocol.PresenceMsg{
		Username:    p.Name,
		OnlineCount: len(names),
		OnlineUsers: names,
	}, "")
	c.broadcastLocked(protocol.TypeOnlineCount, protocol.OnlineCountMsg{Count: len(names)}, "")
	metrics.OnlineUsers.Set(float64(len(names)))
	c.mu.Unlock()

	metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	c.log.Info("participant joined", zap.String("conn", connID), zap.String("username", p.Name))
	return p, nil
}

func (c *Coordinator) rejectAdmission(connID string, conn Conn, err error) {
	text, result := TextInvalidName, "invalid"
	switch {
	case errors.Is(err, presence.ErrNameTaken):
		text, result = TextNameTaken, "taken"
	case errors.Is(err, presence.ErrBanned):
		text, result = TextBanned, "banned"
	}
	metrics.AdmissionsTotal.WithLabelValues(result).Inc()
	c.log.Info("admission rejected", zap.String("conn", connID), zap.String("result", result))

	c.send(conn, protocol.TypeErrorMessage, protocol.ErrorMessageMsg{Text: text})
	if err := conn.Close(); err != nil {
		c.log.Debug("close rejected connection", zap.String("conn", connID), zap.Error(err))
	}
}

// Submit queues content from connID for moderation and delivery. Content
// is normalized first; empty content is ignored without error.
func (c *Coordinator) Submit(connID, content string) error {
	text := NormalizeContent(content)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	m, ok := c.members[connID]
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	metrics.MessagesTotal.WithLabelValues("received").Inc()
	switch m.enqueue(pending{text: text, received: c.now()}) {
	case enqueued:
		return nil
	case stopped:
		return ErrNotFound
	}

	metrics.MessagesTotal.WithLabelValues("dropped").Inc()
	c.mu.Lock()
	if c.members[connID] == m {
		c.send(m.conn, protocol.TypeMessageWarning, protocol.MessageWarningMsg{
			Message: WarningNotSent,
			Reason:  ReasonMailboxFull,
		})
	}
	c.mu.Unlock()
	return ErrMailboxFull
}

// deliver records one moderated message and sends it on. It runs on the
// sender's mailbox goroutine.
func (c *Coordinator) deliver(m *member, msg pending) {
	verdict := c.mod.Moderate(m.ctx, msg.text)
	if verdict.Inappropriate && verdict.Reason == "" {
		verdict.Reason = moderation.ReasonDenylist
	}

	c.mu.Lock()
	if c.members[m.connID] != m {
		c.mu.Unlock()
		c.log.Debug("sender left before delivery", zap.String("conn", m.connID))
		return
	}

	rec := chatlog.Record{
		ID:           uuid.NewString(),
		Sender:       m.name,
		Content:      msg.text,
		CreatedAt:    c.now(),
		IsFiltered:   verdict.Inappropriate,
		FilterReason: verdict.Reason,
	}
	c.logw.append(m.connID, rec)

	if verdict.Inappropriate {
		c.send(m.conn, protocol.TypeMessageWarning, protocol.MessageWarningMsg{
			Message: WarningFlagged,
			Reason:  verdict.Reason,
		})
	} else {
		c.broadcastLocked(protocol.TypeNewMessage, protocol.NewMessageMsg{ChatMessage: protocol.ChatMessage{
			ID:        rec.ID,
			Sender:    rec.Sender,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		}}, "")
	}
	c.mu.Unlock()

	metrics.MessageLatency.Observe(time.Since(msg.received).Seconds())
	if verdict.Inappropriate {
		metrics.MessagesTotal.WithLabelValues("flagged").Inc()
		c.publish(AuditEvent{
			Type:     AuditFlagged,
			Username: m.name,
			ConnID:   m.connID,
			Reason:   verdict.Reason,
			Content:  rec.Content,
		})
		return
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
}

// Typing relays a typing indicator from connID to every other participant.
func (c *Coordinator) Typing(connID string, typing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.registry.Get(connID)
	if !ok {
		return ErrNotFound
	}
	msgType := protocol.TypeUserStopTyping
	if typing {
		msgType = protocol.TypeUserTyping
	}
	c.broadcastLocked(msgType, protocol.UserTypingMsg{Username: p.Name}, connID)
	return nil
}

// Leave removes connID from the room. It is idempotent: only the first call
// for an admitted connection has effects. Leaving wipes the whole message
// log and tells the remaining participants.
func (c *Coordinator) Leave(connID string) {
	c.mu.Lock()
	p, left := c.leaveLocked(connID)
	c.mu.Unlock()

	if left {
		c.log.Info("participant left", zap.String("conn", connID), zap.String("username", p.Name))
	}
}

// leaveLocked performs the disconnect transition. c.mu must be held.
func (c *Coordinator) leaveLocked(connID string) (presence.Participant, bool) {
	p, ok := c.registry.Remove(connID)
	if !ok {
		return presence.Participant{}, false
	}
	if m, ok := c.members[connID]; ok {
		delete(c.members, connID)
		m.stop()
	}

	c.logw.clear(connID)

	names := c.registry.Names()
	c.broadcastLocked(protocol.TypeUserLeft, protocol.PresenceMsg{
		Username:    p.Name,
		OnlineCount: len(names),
		OnlineUsers: names,
	}, "")
	c.broadcastLocked(protocol.TypeOnlineCount, protocol.OnlineCountMsg{Count: len(names)}, "")
	metrics.OnlineUsers.Set(float64(len(names)))
	return p, true
}

// Kick bans the participant's name, sends them a kicked event and removes
// them. An empty reason means DefaultKickReason. The connection is closed
// after the kicked event is flushed.
func (c *Coordinator) Kick(connID, reason string) (presence.Participant, error) {
	if reason == "" {
		reason = DefaultKickReason
	}

	c.mu.Lock()
	m, ok := c.members[connID]
	if !ok {
		c.mu.Unlock()
		return presence.Participant{}, ErrNotFound
	}
	c.bans.Ban(m.name)
	c.send(m.conn, protocol.TypeKicked, protocol.KickedMsg{Reason: reason})
	p, _ := c.leaveLocked(connID)
	c.mu.Unlock()

	// Closing re-enters Leave through the transport's disconnect hook,
	// which must find the registry entry already gone.
	if err := m.conn.Close(); err != nil {
		c.log.Debug("close kicked connection", zap.String("conn", connID), zap.Error(err))
	}

	metrics.KicksTotal.Inc()
	c.log.Info("participant kicked", zap.String("conn", connID),
		zap.String("username", p.Name), zap.String("reason", reason))
	c.publish(AuditEvent{Type: AuditKicked, Username: p.Name, ConnID: connID, Reason: reason})
	return p, nil
}

// Unkick lifts the ban on name. Unknown names are a no-op.
func (c *Coordinator) Unkick(name string) {
	c.bans.Unban(name)
	c.log.Info("name unbanned", zap.String("username", name))
	c.publish(AuditEvent{Type: AuditUnkicked, Username: name})
}

// KickedUsers returns banned names in folded form, sorted.
func (c *Coordinator) KickedUsers() []string {
	return c.bans.List()
}

// ClearMessages wipes the message log and tells every participant. It
// returns once the wipe has been applied to the store.
func (c *Coordinator) ClearMessages(ctx context.Context) error {
	c.mu.Lock()
	result := c.logw.clearAsync()
	c.broadcastLocked(protocol.TypeMessagesCleared, protocol.MessagesClearedMsg{}, "")
	c.mu.Unlock()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("chat: clear messages: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("chat: clear messages: %w", ctx.Err())
	}

	c.log.Info("message log cleared")
	c.publish(AuditEvent{Type: AuditCleared})
	return nil
}

// OnlineUsers returns a snapshot of the participants in admission order.
func (c *Coordinator) OnlineUsers() []presence.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List()
}

// OnlineCount returns the number of participants.
func (c *Coordinator) OnlineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Count()
}

// Close stops every mailbox goroutine, waits for in-flight deliveries and
// flushes queued message log writes. Participants stay registered; the
// transport is expected to be shutting down.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, m := range c.members {
		m.stop()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.logw.close()
}

// syncLog waits for every message log write decided so far.
func (c *Coordinator) syncLog(ctx context.Context) error {
	return c.logw.sync(ctx)
}

// send encodes and queues one message for a single connection.
func (c *Coordinator) send(conn Conn, msgType string, payload any) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		c.log.Error("encode server message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		c.log.Debug("send failed", zap.String("type", msgType), zap.Error(err))
	}
}

// broadcastLocked sends one message to every participant except skip, in
// admission order. c.mu must be held. A failed send never aborts the
// broadcast.
func (c *Coordinator) broadcastLocked(msgType string, payload any, skip string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		c.log.Error("encode broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	for _, id := range c.registry.ConnIDs() {
		if id == skip {
			continue
		}
		m, ok := c.members[id]
		if !ok {
			continue
		}
		if err := m.conn.Send(data); err != nil {
			c.log.Debug("broadcast send failed", zap.String("conn", id),
				zap.String("type", msgType), zap.Error(err))
		}
	}
}
