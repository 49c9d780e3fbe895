package ws

import (
	"go.uber.org/zap"

	"github.com/hushroom/server/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage, e.g.
// protocol.SendMessageMsg.
type MessageHandler func(conn *Connection, msg any)

// MessageDispatcher routes client frames to handlers by message type. Ping
// is answered internally; malformed frames and unregistered types get an
// error event.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher(log *zap.Logger) *MessageDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log,
	}
}

// Register associates handler with msgType, replacing any previous one.
// Registration must finish before the server starts.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("conn", conn.ID), zap.Error(err))
		d.SendError(conn, protocol.CodeParseError, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", zap.String("conn", conn.ID), zap.String("type", msgType))
		d.SendError(conn, protocol.CodeUnsupported, "unsupported message type")
		return
	}
	handler(conn, msg)
}

// SendError sends an error event to conn. Failures are logged only.
func (d *MessageDispatcher) SendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.log.Error("build error message", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		d.log.Debug("send error message", zap.String("conn", conn.ID), zap.Error(err))
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error("build pong", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		d.log.Debug("send pong", zap.String("conn", conn.ID), zap.Error(err))
	}
}
