package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hushroom/server/internal/admin"
	"github.com/hushroom/server/internal/ban"
	"github.com/hushroom/server/internal/chat"
	"github.com/hushroom/server/internal/chatlog"
	"github.com/hushroom/server/internal/config"
	"github.com/hushroom/server/internal/logging"
	"github.com/hushroom/server/internal/messaging"
	"github.com/hushroom/server/internal/metrics"
	"github.com/hushroom/server/internal/moderation"
	"github.com/hushroom/server/internal/protocol"
	"github.com/hushroom/server/internal/ratelimit"
	"github.com/hushroom/server/internal/ws"
)

const (
	startupTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
	limiterTimeout  = time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
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
		log.Fatal("roomserver exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Message log ---
	var store chatlog.Store
	if cfg.DatabaseURL != "" {
		sctx, cancel := context.WithTimeout(ctx, startupTimeout)
		pg, err := chatlog.OpenPostgres(sctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return err
		}
		store = pg
		log.Info("message log: postgres")
	} else {
		store = chatlog.NewMemoryStore(cfg.MessageLogCapacity)
		log.Info("message log: memory", zap.Int("capacity", cfg.MessageLogCapacity))
	}
	defer store.Close()

	// --- NATS ---
	var pub chat.Publisher
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "hushroom-server"
		nc, err := messaging.NewNATSClient(natsConfig, log.Named("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		pub = nc
	}

	// --- Redis ---
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pctx, cancel := context.WithTimeout(ctx, startupTimeout)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return err
		}
		defer rdb.Close()
		proxies, err := ratelimit.ParseProxies(cfg.TrustedProxies)
		if err != nil {
			return err
		}
		limiter = ratelimit.NewLimiter(rdb, proxies, log)
	}

	// --- Moderation ---
	fallback := moderation.NewDenylist()
	if cfg.Moderation.SpamPatterns {
		fallback = fallback.WithSpamPatterns()
	}
	var primary moderation.Classifier
	if cfg.ModerationEnabled() {
		primary = moderation.NewRemote(moderation.RemoteConfig{
			APIKey:  cfg.Moderation.APIKey,
			BaseURL: cfg.Moderation.BaseURL,
			Model:   cfg.Moderation.Model,
		})
	} else {
		log.Warn("no moderation API key, using the denylist only")
	}
	gate := moderation.NewGate(primary, fallback, cfg.Moderation.Timeout, log.Named("moderation"))

	// --- Room ---
	coord := chat.New(chat.Config{MailboxSize: cfg.MailboxSize}, store, gate, ban.NewList(), pub, log.Named("chat"))
	defer coord.Close()

	dispatcher := ws.NewMessageDispatcher(log.Named("dispatch"))
	msgRule := ratelimit.Rule{Key: ratelimit.RuleMessage.Key, Limit: cfg.MessageRateLimit, Window: cfg.MessageRateWindow}

	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg any) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		if limiter != nil && !allowMessage(limiter, conn, msgRule, log) {
			return
		}
		err := coord.Submit(conn.ID, m.Content)
		if errors.Is(err, chat.ErrNotFound) {
			dispatcher.SendError(conn, protocol.CodeNotJoined, "not in the room")
		}
	})
	typing := func(on bool) ws.MessageHandler {
		return func(conn *ws.Connection, _ any) {
			if errors.Is(coord.Typing(conn.ID, on), chat.ErrNotFound) {
				dispatcher.SendError(conn, protocol.CodeNotJoined, "not in the room")
			}
		}
	}
	dispatcher.Register(protocol.TypeTyping, typing(true))
	dispatcher.Register(protocol.TypeStopTyping, typing(false))

	// --- Transport ---
	server := ws.NewServer(cfg.Server(), log.Named("ws"), dispatcher.Dispatch)
	server.SetOnConnect(func(conn *ws.Connection, r *http.Request) {
		// Rejections are answered and closed by the coordinator.
		_, _ = coord.Join(conn.ID, conn, r.URL.Query().Get("username"))
	})
	server.SetOnDisconnect(coord.Leave)
	if limiter != nil {
		server.WrapUpgrade(limiter.Middleware(ratelimit.Rule{
			Key: ratelimit.RuleConnect.Key, Limit: cfg.ConnectRateLimit, Window: ratelimit.RuleConnect.Window,
		}))
	}

	// --- HTTP API ---
	api := http.NewServeMux()
	admin.Public{
		Room:        coord,
		Connections: server.Connections().Count,
		Uptime:      server.Uptime,
	}.Register(api)
	if cfg.AdminEnabled() {
		auth, err := admin.NewAuthenticator(cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.JWTSecret, cfg.Admin.JWTExpiresIn)
		if err != nil {
			return err
		}
		if cfg.Admin.JWTSecret == "" {
			log.Warn("ADMIN_JWT_SECRET not set, tokens will not survive a restart")
		}
		admin.NewHandler(coord, auth, log.Named("admin")).Register(api)
	} else {
		log.Warn("admin credentials not set, admin API disabled")
	}

	var apiHandler http.Handler = api
	if limiter != nil {
		apiHandler = limiter.Middleware(ratelimit.Rule{
			Key: ratelimit.RuleAPI.Key, Limit: cfg.APIRateLimit, Window: cfg.APIRateWindow,
		})(apiHandler)
	}
	apiHandler = admin.CORS(cfg.ClientURL)(apiHandler)
	server.Handle("/api/", logging.Middleware(log.Named("http"))(apiHandler))
	server.Handle("/metrics", metrics.Handler())

	log.Info("hushroom server starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("worker_pool", cfg.WorkerPoolSize),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Bool("remote_moderation", primary != nil),
		zap.Bool("nats", pub != nil),
		zap.Bool("redis", limiter != nil),
		zap.Bool("admin", cfg.AdminEnabled()))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	return <-errCh
}

// allowMessage applies the per-connection message limit and tells the
// client how long to wait when it is exceeded.
func allowMessage(l *ratelimit.Limiter, conn *ws.Connection, rule ratelimit.Rule, log *zap.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
	defer cancel()
	if ok, _ := l.Allow(ctx, conn.ID, rule); ok {
		return true
	}
	retry := l.RetryAfter(ctx, conn.ID, rule)
	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(retry.Round(time.Second).Seconds()),
	})
	if err != nil {
		log.Error("build rate_limited", zap.Error(err))
		return false
	}
	_ = conn.Send(data)
	return false
}
