// Package stats provides a goroutine-safe metrics collector that aggregates
// performance data from multiple load test clients and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from multiple load test clients. All methods
// are goroutine-safe and can be called concurrently from many client
// goroutines.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	joinLatencies    []time.Duration
	msgLatencies     []time.Duration
	errors           int
	rejected         int
	warnings         int
	rateLimited      int
	connections      int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report() will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddJoin records a successful join with its connect and join latencies.
func (c *Collector) AddJoin(connect, join time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, connect)
	c.joinLatencies = append(c.joinLatencies, join)
	c.connections++
	c.mu.Unlock()
}

// AddMsgLatency records the time from send_message to the sender seeing
// its own new_message broadcast.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddRejected counts a join refused with error_message.
func (c *Collector) AddRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

// AddWarning counts a message_warning.
func (c *Collector) AddWarning() {
	c.mu.Lock()
	c.warnings++
	c.mu.Unlock()
}

// AddRateLimited counts a rate_limited event.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// ConnectionCount returns the current number of joined clients.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the current number of errors, rejections included.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors + c.rejected
}

// Report prints a formatted summary of the collected metrics to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Printf("Joined:        %d\n", c.connections)
	fmt.Printf("Errors:        %d\n", c.errors)
	fmt.Printf("Rejected:      %d\n", c.rejected)
	fmt.Printf("Warnings:      %d\n", c.warnings)
	fmt.Printf("Rate limited:  %d\n", c.rateLimited)

	if attempts := c.connections + c.errors + c.rejected; attempts > 0 {
		errorRate := float64(c.errors+c.rejected) / float64(attempts) * 100
		fmt.Printf("Error rate:    %.2f%%\n", errorRate)
	}

	for _, section := range []struct {
		title string
		data  []time.Duration
	}{
		{"Connect Latency", c.connectLatencies},
		{"Join Latency", c.joinLatencies},
		{"Message Latency", c.msgLatencies},
	} {
		if len(section.data) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", section.title)
		fmt.Println("  " + Summarize(section.data).String())
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// Summary is a latency distribution.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize computes a Summary over durations, sorting them in place.
func Summarize(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		s.Avg.Round(time.Microsecond),
		s.P50.Round(time.Microsecond),
		s.P95.Round(time.Microsecond),
		s.P99.Round(time.Microsecond),
		s.Max.Round(time.Microsecond),
		s.N,
	)
}
