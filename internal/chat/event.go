package chat

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hushroom/server/internal/messaging"
)

// Audit event types.
const (
	AuditFlagged  = "flagged"
	AuditKicked   = "kicked"
	AuditUnkicked = "unkicked"
	AuditCleared  = "cleared"
)

// AuditEvent is the payload published to the room.* NATS subjects for
// operators. It is informational only; nothing reads it back.
type AuditEvent struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	ConnID   string `json:"socket_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Content  string `json:"content,omitempty"` // flagged messages only
	Ts       int64  `json:"ts"`
}

// Publisher delivers audit events. *messaging.NATSClient satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// auditSubject maps an event type to its subject.
func auditSubject(eventType string) string {
	switch eventType {
	case AuditFlagged:
		return messaging.SubjectModerationFlagged
	case AuditKicked:
		return messaging.SubjectAdminKicked
	case AuditUnkicked:
		return messaging.SubjectAdminUnkicked
	default:
		return messaging.SubjectAdminCleared
	}
}

// publish sends ev best-effort. It must not be called with c.mu held.
func (c *Coordinator) publish(ev AuditEvent) {
	if c.pub == nil {
		return
	}
	if ev.Ts == 0 {
		ev.Ts = c.now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("marshal audit event", zap.Error(err))
		return
	}
	if err := c.pub.Publish(auditSubject(ev.Type), data); err != nil {
		c.log.Warn("publish audit event", zap.String("type", ev.Type), zap.Error(err))
	}
}
