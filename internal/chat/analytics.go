package chat

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hushroom/server/internal/chatlog"
)

const (
	analyticsDays  = 7
	topChatters    = 10
	recentInterval = time.Hour
)

// Stats is the admin dashboard summary.
type Stats struct {
	OnlineUsers     int `json:"onlineUsers"`
	TotalMessages   int `json:"totalMessages"`
	FlaggedMessages int `json:"flaggedMessages"`
	RecentMessages  int `json:"recentMessages"` // last hour
}

// ModerationStats summarizes moderation outcomes over the whole log.
type ModerationStats struct {
	Total   int     `json:"total"`
	Clean   int     `json:"clean"`
	Flagged int     `json:"flagged"`
	Rate    float64 `json:"rate"` // percent flagged, one decimal
}

// Analytics is the admin dashboard detail view.
type Analytics struct {
	MessageActivity []chatlog.DayActivity  `json:"messageActivity"`
	HourlyActivity  []chatlog.HourActivity `json:"hourlyActivity"`
	TopChatters     []chatlog.SenderCount  `json:"topChatters"`
	ModerationStats ModerationStats        `json:"moderationStats"`
	OnlineNow       int                    `json:"onlineNow"`
}

// Stats reads the dashboard summary. Counts come from the message log,
// which is only ever as old as the last disconnect.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var (
		s   Stats
		err error
	)
	if err := c.syncLog(ctx); err != nil {
		return Stats{}, fmt.Errorf("chat: stats: %w", err)
	}
	s.OnlineUsers = c.OnlineCount()
	if s.TotalMessages, err = c.store.Count(ctx, chatlog.Filter{}); err != nil {
		return Stats{}, fmt.Errorf("chat: stats: %w", err)
	}
	if s.FlaggedMessages, err = c.store.Count(ctx, chatlog.Filter{FlaggedOnly: true}); err != nil {
		return Stats{}, fmt.Errorf("chat: stats: %w", err)
	}
	since := c.now().Add(-recentInterval)
	if s.RecentMessages, err = c.store.Count(ctx, chatlog.Filter{Since: since}); err != nil {
		return Stats{}, fmt.Errorf("chat: stats: %w", err)
	}
	return s, nil
}

// Analytics reads seven days of daily and hourly activity, the ten most
// active senders of clean messages and the moderation rate.
func (c *Coordinator) Analytics(ctx context.Context) (Analytics, error) {
	if err := c.syncLog(ctx); err != nil {
		return Analytics{}, fmt.Errorf("chat: analytics: %w", err)
	}
	now := c.now()
	var (
		a   Analytics
		err error
	)
	if a.MessageActivity, err = c.store.ActivityByDay(ctx, analyticsDays, now); err != nil {
		return Analytics{}, fmt.Errorf("chat: analytics: %w", err)
	}
	if a.HourlyActivity, err = c.store.ActivityByHour(ctx, analyticsDays, now); err != nil {
		return Analytics{}, fmt.Errorf("chat: analytics: %w", err)
	}
	if a.TopChatters, err = c.store.TopSenders(ctx, topChatters, true); err != nil {
		return Analytics{}, fmt.Errorf("chat: analytics: %w", err)
	}

	total, err := c.store.Count(ctx, chatlog.Filter{})
	if err != nil {
		return Analytics{}, fmt.Errorf("chat: analytics: %w", err)
	}
	flagged, err := c.store.Count(ctx, chatlog.Filter{FlaggedOnly: true})
	if err != nil {
		return Analytics{}, fmt.Errorf("chat: analytics: %w", err)
	}
	a.ModerationStats = ModerationStats{
		Total:   total,
		Clean:   total - flagged,
		Flagged: flagged,
		Rate:    ModerationRate(flagged, total),
	}
	a.OnlineNow = c.OnlineCount()
	return a, nil
}

// ModerationRate returns flagged as a percentage of total rounded to one
// decimal place, or 0 when total is 0.
func ModerationRate(flagged, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(flagged)/float64(total)*1000) / 10
}
