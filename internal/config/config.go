// Package config loads the room server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hushroom/server/internal/ws"
)

// placeholderKey is the sample value shipped in example env files.
const placeholderKey = "your_groq_api_key_here"

// Config is the full server configuration.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	SendQueueSize  int           `env:"SEND_QUEUE_SIZE" envDefault:"256"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Optional backends; empty disables them.
	NATSURL     string `env:"NATS_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	DatabaseURL string `env:"DATABASE_URL"`

	MessageLogCapacity int    `env:"MESSAGE_LOG_CAPACITY" envDefault:"10000"`
	MailboxSize        int    `env:"MAILBOX_SIZE" envDefault:"16"`
	ClientURL          string `env:"CLIENT_URL" envDefault:"http://localhost:5173"`

	APIRateLimit      int           `env:"API_RATE_LIMIT" envDefault:"200"`
	APIRateWindow     time.Duration `env:"API_RATE_WINDOW" envDefault:"15m"`
	ConnectRateLimit  int           `env:"CONNECT_RATE_LIMIT" envDefault:"30"`
	MessageRateLimit  int           `env:"MESSAGE_RATE_LIMIT" envDefault:"10"`
	MessageRateWindow time.Duration `env:"MESSAGE_RATE_WINDOW" envDefault:"10s"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// is believed when keying per-IP limits.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Moderation Moderation `envPrefix:"MODERATION_"`
	Admin      Admin      `envPrefix:"ADMIN_"`

	// GroqAPIKey is accepted as an alias for MODERATION_API_KEY.
	GroqAPIKey string `env:"GROQ_API_KEY"`
}

// Moderation configures the remote classifier.
type Moderation struct {
	APIKey       string        `env:"API_KEY"`
	BaseURL      string        `env:"BASE_URL" envDefault:"https://api.groq.com/openai/v1/"`
	Model        string        `env:"MODEL" envDefault:"llama-3.3-70b-versatile"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"3s"`
	SpamPatterns bool          `env:"SPAM_PATTERNS" envDefault:"false"`
}

// Admin configures the admin surface. It is disabled unless Email and
// Password are both set.
type Admin struct {
	Email        string        `env:"EMAIL"`
	Password     string        `env:"PASSWORD"`
	JWTSecret    string        `env:"JWT_SECRET"`
	JWTExpiresIn time.Duration `env:"JWT_EXPIRES_IN" envDefault:"24h"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Moderation.APIKey == "" {
		c.Moderation.APIKey = c.GroqAPIKey
	}
	if c.Moderation.APIKey == placeholderKey {
		c.Moderation.APIKey = ""
	}
}

// ModerationEnabled reports whether a remote classifier is configured.
func (c Config) ModerationEnabled() bool {
	return c.Moderation.APIKey != ""
}

// AdminEnabled reports whether admin credentials are configured.
func (c Config) AdminEnabled() bool {
	return c.Admin.Email != "" && c.Admin.Password != ""
}

// Server copies the transport settings over ws defaults.
func (c Config) Server() ws.ServerConfig {
	sc := ws.DefaultServerConfig()
	sc.ListenAddr = c.ListenAddr
	sc.WorkerPoolSize = c.WorkerPoolSize
	sc.MaxConnections = c.MaxConnections
	sc.ReadTimeout = c.ReadTimeout
	sc.WriteTimeout = c.WriteTimeout
	sc.SendQueueSize = c.SendQueueSize
	return sc
}
