// Package chatlog holds the room's ephemeral message log. Every submitted
// message is recorded, flagged or not, and the log answers the aggregate
// queries behind the admin dashboard. The log is wiped on every disconnect
// and on admin clear, so nothing here outlives a session.
package chatlog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the in-memory log.
const DefaultCapacity = 10000

// Record is one submitted message. Records are never mutated after Append.
type Record struct {
	ID           string    `json:"id"`
	Sender       string    `json:"sender"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	IsFiltered   bool      `json:"isFiltered"`
	FilterReason string    `json:"filterReason,omitempty"`
}

// Filter narrows Count.
type Filter struct {
	FlaggedOnly bool
	Since       time.Time // zero means no lower bound
}

// DayActivity is one UTC calendar day of message volume.
type DayActivity struct {
	Date    string `json:"date"`  // YYYY-MM-DD
	Label   string `json:"label"` // short weekday, e.g. "Mon"
	Total   int    `json:"total"`
	Flagged int    `json:"flagged"`
}

// HourActivity is message volume for one UTC hour of day.
type HourActivity struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"` // "HH:00"
	Count int    `json:"count"`
}

// SenderCount is a sender with their message count.
type SenderCount struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// Store is the message log. Append is the only write path besides Clear.
type Store interface {
	Append(ctx context.Context, rec Record) (string, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context, f Filter) (int, error)
	// ActivityByDay returns one bucket per UTC day covering the last days
	// days up to now, oldest first, counting records newer than
	// now-days*24h.
	ActivityByDay(ctx context.Context, days int, now time.Time) ([]DayActivity, error)
	// ActivityByHour returns exactly 24 buckets, hour 0 first, over the same
	// window as ActivityByDay.
	ActivityByHour(ctx context.Context, days int, now time.Time) ([]HourActivity, error)
	// TopSenders orders by count descending, then username ascending.
	TopSenders(ctx context.Context, limit int, excludeFiltered bool) ([]SenderCount, error)
	Close() error
}

// prepare validates rec and fills the ID and timestamp when missing.
func prepare(rec Record) (Record, error) {
	if rec.Sender == "" {
		return rec, fmt.Errorf("chatlog: append: empty sender")
	}
	if rec.IsFiltered && rec.FilterReason == "" {
		return rec, fmt.Errorf("chatlog: append: filtered record without reason")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// windowStart is the lower bound for activity queries.
func windowStart(days int, now time.Time) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

type dayCounts struct {
	total   int
	flagged int
}

// fillDays turns raw per-date counts into a contiguous, zero-filled series
// ending on now's UTC date.
func fillDays(days int, now time.Time, raw map[string]dayCounts) []DayActivity {
	if days <= 0 {
		return []DayActivity{}
	}
	now = now.UTC()
	out := make([]DayActivity, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := now.Add(-time.Duration(i) * 24 * time.Hour)
		key := d.Format(time.DateOnly)
		c := raw[key]
		out = append(out, DayActivity{
			Date:    key,
			Label:   d.Format("Mon"),
			Total:   c.total,
			Flagged: c.flagged,
		})
	}
	return out
}

// fillHours turns raw per-hour counts into 24 zero-filled buckets.
func fillHours(raw map[int]int) []HourActivity {
	out := make([]HourActivity, 24)
	for h := range out {
		out[h] = HourActivity{Hour: h, Label: fmt.Sprintf("%02d:00", h), Count: raw[h]}
	}
	return out
}

// rankSenders sorts counts by count descending then name and truncates to
// limit. A non-positive limit keeps everything.
func rankSenders(counts map[string]int, limit int) []SenderCount {
	out := make([]SenderCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, SenderCount{Username: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Username < out[j].Username
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
