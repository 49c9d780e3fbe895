package stats

import (
	"strings"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := Summarize(ds)
	if s.N != 100 || s.P50 != 51*time.Millisecond || s.P95 != 95*time.Millisecond ||
		s.P99 != 99*time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("summary = %+v", s)
	}
	if s.Avg != 50500*time.Microsecond {
		t.Errorf("avg = %v", s.Avg)
	}
	if got := Summarize(nil); got.N != 0 {
		t.Errorf("empty summary = %+v", got)
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.AddJoin(time.Millisecond, 2*time.Millisecond)
	c.AddJoin(time.Millisecond, 3*time.Millisecond)
	c.AddError()
	c.AddRejected()
	if c.ConnectionCount() != 2 || c.ErrorCount() != 2 {
		t.Errorf("connections=%d errors=%d", c.ConnectionCount(), c.ErrorCount())
	}
}

func TestParseMetricLine(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		value float64
		ok    bool
	}{
		{"hushroom_online_users 12", "hushroom_online_users", 12, true},
		{`hushroom_messages_total{type="clean"} 7`, "hushroom_messages_total", 7, true},
		{"hushroom_connections_total 3 1700000000000", "hushroom_connections_total", 3, true},
		{`broken{type="x" 1`, "", 0, false},
		{"lonely", "", 0, false},
		{"name notanumber", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, value, ok := parseMetricLine(tt.line)
			if ok != tt.ok || name != tt.name || value != tt.value {
				t.Errorf("got (%q, %v, %v), want (%q, %v, %v)", name, value, ok, tt.name, tt.value, tt.ok)
			}
		})
	}
}

func TestParseSnapshot(t *testing.T) {
	body := strings.Join([]string{
		"# HELP hushroom_messages_total Messages by outcome.",
		"# TYPE hushroom_messages_total counter",
		`hushroom_messages_total{type="clean"} 7`,
		`hushroom_messages_total{type="flagged"} 2`,
		`hushroom_moderation_fallbacks_total{cause="timeout"} 1`,
		`hushroom_moderation_fallbacks_total{cause="error"} 2`,
		"hushroom_online_users 5",
		"hushroom_message_latency_seconds_sum 0.5",
		"hushroom_message_latency_seconds_count 10",
	}, "\n")
	snap, err := parseSnapshot(strings.NewReader(body), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if snap.messagesTotal != 9 || snap.fallbacks != 3 || snap.onlineUsers != 5 ||
		snap.latencySum != 0.5 || snap.latencyCount != 10 {
		t.Errorf("snapshot = %+v", snap)
	}
}
