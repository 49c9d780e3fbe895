// Command moderator follows the room's audit stream on NATS and logs every
// flagged message and admin action for operators. With REDIS_ADDR set it
// also keeps running totals per event type in a Redis hash.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hushroom/server/internal/chat"
	"github.com/hushroom/server/internal/config"
	"github.com/hushroom/server/internal/logging"
	"github.com/hushroom/server/internal/messaging"
)

// countsKey is the Redis hash holding per-type totals.
const countsKey = "audit:counts"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("moderator exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if cfg.NATSURL == "" {
		return errors.New("NATS_URL is required")
	}

	// --- Redis ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return err
		}
		defer rdb.Close()
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "hushroom-moderator"
	nc, err := messaging.NewNATSClient(natsConfig, log.Named("nats"))
	if err != nil {
		return err
	}
	defer nc.Close()

	a := &auditor{log: log.Named("audit"), rdb: rdb}
	if err := nc.SubscribeAudit(a.handle); err != nil {
		return err
	}

	log.Info("moderator running",
		zap.String("nats_url", natsConfig.URL),
		zap.String("subject", messaging.SubjectAuditAll),
		zap.Bool("redis", rdb != nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

type auditor struct {
	log *zap.Logger
	rdb *redis.Client
}

func (a *auditor) handle(subject string, data []byte) {
	var ev chat.AuditEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn("bad audit event", zap.String("subject", subject), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("subject", subject),
		zap.String("username", ev.Username),
		zap.Time("at", time.Unix(ev.Ts, 0).UTC()),
	}
	if ev.ConnID != "" {
		fields = append(fields, zap.String("socket_id", ev.ConnID))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	switch ev.Type {
	case chat.AuditFlagged:
		a.log.Warn("message flagged", append(fields, zap.String("content", ev.Content))...)
	default:
		a.log.Info("admin "+ev.Type, fields...)
	}

	if a.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	field := ev.Type
	if field == "" {
		field = strings.TrimPrefix(subject, messaging.SubjectAuditPrefix+".")
	}
	if err := a.rdb.HIncrBy(ctx, countsKey, field, 1).Err(); err != nil {
		a.log.Warn("count audit event", zap.Error(err))
	}
}
