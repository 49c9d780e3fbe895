package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// metricSnapshot holds the values of all tracked server metrics at a point in
// time.
type metricSnapshot struct {
	timestamp     time.Time
	connections   float64
	onlineUsers   float64
	messagesTotal float64
	slowConsumers float64
	fallbacks     float64
	// histogram _sum and _count for computing averages
	latencySum      float64
	latencyCount    float64
	moderationSum   float64
	moderationCount float64
}

// Scraper periodically fetches Prometheus metrics from the server and records
// snapshots that can be included in the load test report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a new Scraper that will fetch metrics from metricsURL at
// the given interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start takes an initial snapshot and then scrapes at the configured
// interval until the context is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// The server may not be up yet.
		return
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch() (metricSnapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return metricSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return metricSnapshot{}, fmt.Errorf("metrics: status %d", resp.StatusCode)
	}
	return parseSnapshot(resp.Body, time.Now())
}

// parseSnapshot reads a Prometheus text exposition body.
func parseSnapshot(r io.Reader, at time.Time) (metricSnapshot, error) {
	snap := metricSnapshot{timestamp: at}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "hushroom_connections_total":
			snap.connections = value
		case "hushroom_online_users":
			snap.onlineUsers = value
		case "hushroom_messages_total":
			// One line per type label; summed.
			snap.messagesTotal += value
		case "hushroom_slow_consumers_total":
			snap.slowConsumers = value
		case "hushroom_moderation_fallbacks_total":
			snap.fallbacks += value
		case "hushroom_message_latency_seconds_sum":
			snap.latencySum = value
		case "hushroom_message_latency_seconds_count":
			snap.latencyCount = value
		case "hushroom_moderation_latency_seconds_sum":
			snap.moderationSum = value
		case "hushroom_moderation_latency_seconds_count":
			snap.moderationCount = value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine splits a line of the form `name 1.23` or
// `name{label="v"} 1.23` into the bare metric name and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		name = raw[:idx]
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}
	if name == "" {
		name = fields[0]
	}

	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints the initial, final, delta and peak value of each metric.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	type gauge struct {
		label   string
		extract func(metricSnapshot) float64
	}
	gauges := []gauge{
		{"Connections", func(m metricSnapshot) float64 { return m.connections }},
		{"Online Users", func(m metricSnapshot) float64 { return m.onlineUsers }},
		{"Messages Total", func(m metricSnapshot) float64 { return m.messagesTotal }},
		{"Slow Consumers", func(m metricSnapshot) float64 { return m.slowConsumers }},
		{"Mod Fallbacks", func(m metricSnapshot) float64 { return m.fallbacks }},
	}

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, g := range gauges {
		initial, final := g.extract(first), g.extract(last)
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			g.label, initial, final, final-initial, peakValue(snaps, g.extract))
	}

	fmt.Println()
	printHistogramAvg("Msg Latency", first.latencySum, first.latencyCount,
		last.latencySum, last.latencyCount)
	printHistogramAvg("Moderation", first.moderationSum, first.moderationCount,
		last.moderationSum, last.moderationCount)
}

// printHistogramAvg prints the average computed from histogram _sum/_count
// deltas between the first and last snapshot.
func printHistogramAvg(label string, sumFirst, countFirst, sumLast, countLast float64) {
	deltaSum := sumLast - sumFirst
	deltaCount := countLast - countFirst
	if deltaCount > 0 {
		fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", label, deltaSum/deltaCount, deltaCount)
	} else {
		fmt.Printf("  %-16s avg: N/A  (no observations)\n", label)
	}
}

func peakValue(snaps []metricSnapshot, extract func(metricSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}
