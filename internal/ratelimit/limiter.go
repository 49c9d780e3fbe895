// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. It throttles the HTTP API and WebSocket upgrades per client
// IP and chat messages per connection.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:api:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Default rules.
var (
	// RuleAPI allows 200 HTTP API requests per 15 minutes per IP.
	RuleAPI = Rule{Key: "rl:api:", Limit: 200, Window: 15 * time.Minute}

	// RuleConnect allows 30 WebSocket upgrades per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 30, Window: time.Minute}

	// RuleMessage allows 10 chat messages per 10 seconds per connection.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}
)

// TooManyRequests is the body sent with a 429.
const TooManyRequests = "Too many requests"

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client  *redis.Client
	proxies Proxies
	log     *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client. HTTP
// middleware keys requests by Proxies.ClientIP.
func NewLimiter(client *redis.Client, proxies Proxies, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{client: client, proxies: proxies, log: log.Named("ratelimit")}
}

// Allow checks whether identifier is within rule. It increments the counter
// and sets the expiry on first access.
//
// On Redis errors it fails open (returns true) so that a Redis outage does
// not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests identifier has left in the
// current window. On Redis errors it returns the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn("redis GET failed, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}

// RetryAfter returns how long until identifier's window resets, or 0 if
// there is no active window.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// Middleware rejects requests over rule with 429, keyed by client IP.
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining.
func (l *Limiter) Middleware(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.proxies.ClientIP(r)
			ok, _ := l.Allow(r.Context(), ip, rule)
			remaining, _ := l.Remaining(r.Context(), ip, rule)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retry := l.RetryAfter(r.Context(), ip, rule)
			l.log.Info("rate limited", zap.String("ip", ip), zap.String("rule", rule.Key))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": TooManyRequests,
			})
		})
	}
}

// Proxies is the set of reverse proxies trusted to report the client
// address in X-Forwarded-For. The zero value trusts nobody, so the header
// is ignored and requests are keyed by their remote address.
type Proxies struct {
	nets []netip.Prefix
}

// ParseProxies parses IP addresses and CIDR ranges. Blank entries are
// ignored.
func ParseProxies(list []string) (Proxies, error) {
	var p Proxies
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return Proxies{}, fmt.Errorf("ratelimit: trusted proxy %q: %w", entry, err)
			}
			p.nets = append(p.nets, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return Proxies{}, fmt.Errorf("ratelimit: trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		p.nets = append(p.nets, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

func (p Proxies) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, n := range p.nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the request's remote host. When that host is a trusted
// proxy, X-Forwarded-For is walked from the right and the first hop that is
// not itself a trusted proxy is returned.
func (p Proxies) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !p.trusts(addr) {
		return host
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	client := host
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap().String()
		if !p.trusts(hop) {
			break
		}
	}
	return client
}
