package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hushroom/server/loadtest/client"
	"github.com/hushroom/server/loadtest/stats"
)

// roster tracks what one idle participant has been told about the room.
type roster struct {
	joined atomic.Int64 // user_joined events received
	left   atomic.Int64 // user_left events received
	online atomic.Int64 // last online_count
}

func (r *roster) options() []client.Option {
	return []client.Option{
		client.WithHandler(client.TypeUserJoined, func(json.RawMessage) { r.joined.Add(1) }),
		client.WithHandler(client.TypeUserLeft, func(json.RawMessage) { r.left.Add(1) }),
		client.WithHandler(client.TypeOnlineCount, func(raw json.RawMessage) {
			var m struct {
				Count int64 `json:"count"`
			}
			if json.Unmarshal(raw, &m) == nil {
				r.online.Store(m.Count)
			}
		}),
	}
}

// participant is the part of *client.Client the room tracker needs.
type participant interface {
	Done() <-chan struct{}
	Close() error
}

type member struct {
	c participant
	r *roster
}

// room is the set of participants the run admitted.
type room struct {
	mu      sync.Mutex
	members []member
}

func (rm *room) add(m member) {
	rm.mu.Lock()
	rm.members = append(rm.members, m)
	rm.mu.Unlock()
}

func (rm *room) snapshot() []member {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return append([]member(nil), rm.members...)
}

// presenceCheck summarizes how far the room's view has converged.
type presenceCheck struct {
	alive      int
	consistent int   // alive members whose last online_count equals alive
	joinEvents int64 // user_joined deliveries across all members
	leftEvents int64
}

func (rm *room) check() presenceCheck {
	members := rm.snapshot()
	var pc presenceCheck
	live := make([]member, 0, len(members))
	for _, m := range members {
		pc.joinEvents += m.r.joined.Load()
		pc.leftEvents += m.r.left.Load()
		select {
		case <-m.c.Done():
		default:
			live = append(live, m)
		}
	}
	pc.alive = len(live)
	for _, m := range live {
		if m.r.online.Load() == int64(pc.alive) {
			pc.consistent++
		}
	}
	return pc
}

func (rm *room) closeAll() {
	members := rm.snapshot()
	fmt.Printf("Closing %d connections...\n", len(members))
	for _, m := range members {
		m.c.Close()
	}
	fmt.Println("All connections closed.")
}

// runSaturate admits idle participants at a steady rate, then holds them
// while checking that every participant converged on the same online
// count. Each admission fans user_joined out to everyone present, so with
// n admitted and nobody leaving the room delivers n(n+1)/2 join events.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 500, "Number of participants to admit")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after the ramp")
	settle := fs.Duration("settle", 5*time.Second, "Maximum wait for presence to converge")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous join attempts")
	fs.Parse(args)

	run := newRunID()
	fmt.Printf("Saturate test: %d participants to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*users, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	var rm room

	fmt.Println("\n--- Ramp ---")
	rampStart := time.Now()
	if !ramp(ctx, *users, *rampUp, *concurrency, func(jctx context.Context, i int) {
		r := &roster{}
		if c := join(jctx, *url, botName(run, i), collector, r.options()...); c != nil {
			rm.add(member{c: c, r: r})
		}
	}, collector) {
		fmt.Println("\nInterrupted during ramp.")
		rm.closeAll()
		collector.Report()
		return
	}
	admitted := collector.ConnectionCount()
	fmt.Printf("Ramp complete: %d/%d admitted in %s (%d errors)\n",
		admitted, *users, time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	fmt.Println("\n--- Settle ---")
	settleStart := time.Now()
	pc := rm.check()
	for pc.consistent < pc.alive && time.Since(settleStart) < *settle && ctx.Err() == nil {
		time.Sleep(100 * time.Millisecond)
		pc = rm.check()
	}
	fmt.Printf("Presence: %d/%d participants see online_count=%d after %s\n",
		pc.consistent, pc.alive, pc.alive, time.Since(settleStart).Round(time.Millisecond))
	want := expectedJoinEvents(admitted)
	fmt.Printf("Join fan-out: %d user_joined deliveries (%d expected with no departures, %d user_left seen)\n",
		pc.joinEvents, want, pc.leftEvents)

	fmt.Println("\n--- Hold ---")
	fmt.Printf("Holding %d participants for %s...\n", pc.alive, *hold)
	initial := pc.alive
	holdTimer := time.NewTimer(*hold)
	statusTicker := time.NewTicker(5 * time.Second)
holdLoop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold.")
			break holdLoop
		case <-holdTimer.C:
			break holdLoop
		case <-statusTicker.C:
			pc = rm.check()
			fmt.Printf("  [hold] alive: %d/%d  consistent: %d  user_left seen: %d\n",
				pc.alive, initial, pc.consistent, pc.leftEvents)
		}
	}
	holdTimer.Stop()
	statusTicker.Stop()

	pc = rm.check()
	if dropped := initial - pc.alive; dropped > 0 {
		fmt.Printf("\nParticipants dropped during hold: %d\n", dropped)
	}

	fmt.Println("\n--- Cleanup ---")
	rm.closeAll()
	collector.Report()
}

// expectedJoinEvents is the number of user_joined deliveries when n
// participants join one after another and nobody leaves: the k-th joiner's
// broadcast reaches k participants.
func expectedJoinEvents(n int) int64 {
	return int64(n) * int64(n+1) / 2
}

// ramp launches n join attempts spread evenly over d, at most limit at a
// time, and waits for them. It reports false if ctx ended first.
func ramp(ctx context.Context, n int, d time.Duration, limit int,
	attempt func(ctx context.Context, i int), collector *stats.Collector) bool {
	interval := d / time.Duration(max(n, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [ramp] admitted: %d/%d  errors: %d\n",
					collector.ConnectionCount(), n, collector.ErrorCount())
			case <-progressDone:
				return
			}
		}
	}()
	defer close(progressDone)

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return false
		case <-ticker.C:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			jctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			attempt(jctx, i)
		}()
	}
	wg.Wait()
	return true
}
