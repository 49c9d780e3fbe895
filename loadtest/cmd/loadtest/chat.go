package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hushroom/server/loadtest/client"
	"github.com/hushroom/server/loadtest/stats"
)

// chatCounters are shared by every participant goroutine.
type chatCounters struct {
	sent        atomic.Int64
	echoed      atomic.Int64 // own messages seen back
	delivered   atomic.Int64 // every new_message received
	warnings    atomic.Int64
	rateLimited atomic.Int64
	errors      atomic.Int64
}

// runChat joins participants and has each one send messages on a ticker.
// Every accepted message is broadcast to the whole room, sender included,
// so the sender measures end-to-end latency (moderation included) by
// waiting for its own new_message.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 50, "Number of participants")
	rampUp := fs.Duration("ramp", 5*time.Second, "Ramp-up duration for joins")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long participants chat")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per participant")
	msgSize := fs.Int("msg-size", 64, "Approximate message size in characters (max 1000)")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	run := newRunID()
	fmt.Printf("Chat test: %d participants to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d)\n",
		*users, *url, *rampUp, *chatDuration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *users)

	// -----------------------------------------------------------------------
	// Phase 1: Join
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Join ---")

	rampStart := time.Now()
	interrupted := !ramp(ctx, *users, *rampUp, *concurrency, func(jctx context.Context, i int) {
		if c := join(jctx, *url, botName(run, i), collector); c != nil {
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}
	}, collector)
	if interrupted {
		fmt.Println("\nInterrupted during join phase.")
	}

	fmt.Printf("Phase 1 complete: %d/%d joined in %s (%d errors)\n",
		collector.ConnectionCount(), *users,
		time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	if interrupted || collector.ConnectionCount() == 0 {
		cleanup(clients, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2: Chat
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 2: Chat ---")

	var counters chatCounters
	chatCtx, chatCancel := context.WithTimeout(ctx, *chatDuration)
	defer chatCancel()

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] sent: %d  echoed: %d  delivered: %d  warnings: %d  limited: %d  errors: %d\n",
					counters.sent.Load(), counters.echoed.Load(), counters.delivered.Load(),
					counters.warnings.Load(), counters.rateLimited.Load(), counters.errors.Load())
			case <-progressStop:
				return
			}
		}
	}()

	mu.Lock()
	joined := make([]*client.Client, len(clients))
	copy(joined, clients)
	mu.Unlock()

	chatStart := time.Now()
	padding := strings.Repeat("x", max(*msgSize-16, 0))
	var chatWg sync.WaitGroup
	for i, c := range joined {
		chatWg.Add(1)
		go func() {
			defer chatWg.Done()
			// Spread first sends across one interval.
			offset := *msgInterval * time.Duration(i) / time.Duration(len(joined))
			select {
			case <-time.After(offset):
			case <-chatCtx.Done():
				return
			}
			chatter(chatCtx, c, *msgInterval, padding, collector, &counters)
		}()
	}
	chatWg.Wait()
	close(progressStop)
	progressWg.Wait()
	chatElapsed := time.Since(chatStart)

	// -----------------------------------------------------------------------
	// Report
	// -----------------------------------------------------------------------
	sent := counters.sent.Load()
	fmt.Printf("\n--- Chat Results ---\n")
	fmt.Printf("Participants:      %d\n", len(joined))
	fmt.Printf("Messages sent:     %d\n", sent)
	fmt.Printf("Own echoes seen:   %d\n", counters.echoed.Load())
	fmt.Printf("Deliveries:        %d\n", counters.delivered.Load())
	fmt.Printf("Warnings:          %d\n", counters.warnings.Load())
	fmt.Printf("Rate limited:      %d\n", counters.rateLimited.Load())
	fmt.Printf("Chat duration:     %s\n", chatElapsed.Round(time.Millisecond))
	if secs := chatElapsed.Seconds(); secs > 0 && sent > 0 {
		fmt.Printf("Send throughput:   %.1f msg/s\n", float64(sent)/secs)
		fmt.Printf("Fan-out:           %.1f deliveries/s\n", float64(counters.delivered.Load())/secs)
	}

	cleanup(clients, &mu)
	scraper.Stop()
	collector.Report()
}

// chatter sends a message every interval until ctx ends and records the
// latency of each message it sees come back.
func chatter(ctx context.Context, c *client.Client, interval time.Duration, padding string,
	collector *stats.Collector, counters *chatCounters) {
	var (
		pmu     sync.Mutex
		pending = make(map[string]time.Time)
	)

	c.On(client.TypeNewMessage, func(raw json.RawMessage) {
		counters.delivered.Add(1)
		var msg client.NewMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Sender != c.Username() {
			return
		}
		key, _, _ := strings.Cut(msg.Content, " ")
		pmu.Lock()
		sentAt, ok := pending[key]
		delete(pending, key)
		pmu.Unlock()
		if ok {
			counters.echoed.Add(1)
			collector.AddMsgLatency(time.Since(sentAt))
		}
	})
	c.On(client.TypeMessageWarning, func(json.RawMessage) {
		counters.warnings.Add(1)
		collector.AddWarning()
	})
	c.On(client.TypeRateLimited, func(json.RawMessage) {
		counters.rateLimited.Add(1)
		collector.AddRateLimited()
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for seq := 0; ; seq++ {
		key := "m" + strconv.Itoa(seq)
		pmu.Lock()
		pending[key] = time.Now()
		pmu.Unlock()
		if err := c.SendMessage(key + " " + padding); err != nil {
			counters.errors.Add(1)
			collector.AddError()
			return
		}
		counters.sent.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			counters.errors.Add(1)
			collector.AddError()
			return
		case <-ticker.C:
		}
	}
}

func cleanup(clients []*client.Client, mu *sync.Mutex) {
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")
}
