package ws

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // grace after a missed interval (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat pings every connection each Interval and evicts those
// that have been silent for longer than Interval + Timeout. It exits when
// the server shuts down.
func (s *Server) startHeartbeat(config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case now := <-ticker.C:
				s.checkConnections(config, now)
			}
		}
	}()
}

// checkConnections runs one heartbeat round. Browsers answer the
// protocol-level ping automatically, and any frame counts as activity.
func (s *Server) checkConnections(config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			s.log.Info("heartbeat timeout", zap.String("conn", c.ID),
				zap.Duration("idle", idle.Round(time.Second)))
			s.RemoveConnection(c)
			continue
		}
		if err := c.Ping(); err != nil {
			s.log.Debug("heartbeat ping failed", zap.String("conn", c.ID), zap.Error(err))
		}
	}
}
