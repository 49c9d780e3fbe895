// Package main implements a standalone end-to-end check of a running
// hushroom server: HTTP endpoints, admission, broadcast, moderation and,
// when admin credentials are given, the kick and unkick controls.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] \
//	    [-admin-email a@b.c -admin-password secret] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hushroom/server/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

type e2e struct {
	wsURL   string
	apiBase string
	email   string
	pass    string
	run     int64
}

func (e *e2e) name(tag string) string {
	return fmt.Sprintf("e2e%d%s", e.run, tag)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	email := flag.String("admin-email", "", "Admin email (enables admin scenarios)")
	password := flag.String("admin-password", "", "Admin password")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== hushroom E2E Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e := &e2e{wsURL: *wsURL, apiBase: *apiBase, email: *email, pass: *password, run: time.Now().Unix() % 1000000}

	results := []scenarioResult{
		e.httpEndpoints(ctx),
		e.admission(ctx),
		e.broadcast(ctx),
		e.moderation(ctx),
		e.kickAndUnkick(ctx),
		e.rateLimiting(ctx),
	}

	fmt.Println()
	passed, failed, info := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, passed+failed)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func (e *e2e) httpEndpoints(ctx context.Context) scenarioResult {
	name := "HTTP endpoints"

	var health struct {
		Status      string `json:"status"`
		OnlineUsers int    `json:"onlineUsers"`
	}
	if err := e.getJSON(ctx, "/api/health", &health); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if health.Status != "ok" {
		return scenarioResult{name, resultFail, "health status " + health.Status}
	}

	var gen struct {
		Username string `json:"username"`
	}
	if err := e.getJSON(ctx, "/api/generate-name", &gen); err != nil || gen.Username == "" {
		return scenarioResult{name, resultFail, fmt.Sprintf("generate-name: %v %q", err, gen.Username)}
	}

	metricsBody, err := e.get(ctx, "/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if !strings.Contains(string(metricsBody), "hushroom_online_users") {
		return scenarioResult{name, resultFail, "/metrics: missing hushroom_online_users"}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("online=%d generated=%s", health.OnlineUsers, gen.Username)}
}

func (e *e2e) admission(ctx context.Context) scenarioResult {
	name := "Admission"

	box := newInbox(client.TypeUserJoined, client.TypeOnlineCount)
	a, err := e.join(ctx, e.name("a"), box)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer a.Close()
	if _, err := box.wait(ctx, client.TypeUserJoined); err != nil {
		return scenarioResult{name, resultFail, "no user_joined for self"}
	}

	// Same name in another case must be refused.
	_, err = e.join(ctx, strings.ToUpper(e.name("a")), nil)
	var rejected *client.RejectedError
	if !errors.As(err, &rejected) {
		return scenarioResult{name, resultFail, fmt.Sprintf("duplicate name: %v", err)}
	}

	_, err = e.join(ctx, "x", nil)
	if !errors.As(err, &rejected) {
		return scenarioResult{name, resultFail, fmt.Sprintf("short name: %v", err)}
	}
	return scenarioResult{name, resultPass, rejected.Text}
}

func (e *e2e) broadcast(ctx context.Context) scenarioResult {
	name := "Broadcast"

	boxA := newInbox(client.TypeNewMessage, client.TypeUserJoined, client.TypeUserTyping)
	a, err := e.join(ctx, e.name("b1"), boxA)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer a.Close()
	boxB := newInbox(client.TypeNewMessage, client.TypeUserLeft)
	b, err := e.join(ctx, e.name("b2"), boxB)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer b.Close()

	if _, err := boxA.waitFor(ctx, client.TypeUserJoined, `"username":"`+b.Username()+`"`); err != nil {
		return scenarioResult{name, resultFail, "A did not see B join"}
	}

	_ = b.Typing(true)
	if _, err := boxA.wait(ctx, client.TypeUserTyping); err != nil {
		return scenarioResult{name, resultFail, "A did not see B typing"}
	}

	start := time.Now()
	if err := a.SendMessage("good morning everyone"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	for _, box := range []*inbox{boxA, boxB} {
		if _, err := box.waitFor(ctx, client.TypeNewMessage, "good morning everyone"); err != nil {
			return scenarioResult{name, resultFail, "new_message not delivered to everyone"}
		}
	}
	latency := time.Since(start)

	a.Close()
	if _, err := boxB.waitFor(ctx, client.TypeUserLeft, `"username":"`+a.Username()+`"`); err != nil {
		return scenarioResult{name, resultFail, "B did not see A leave"}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("round trip %s", latency.Round(time.Millisecond))}
}

func (e *e2e) moderation(ctx context.Context) scenarioResult {
	name := "Moderation"

	boxA := newInbox(client.TypeMessageWarning)
	a, err := e.join(ctx, e.name("m1"), boxA)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer a.Close()
	boxB := newInbox(client.TypeNewMessage)
	b, err := e.join(ctx, e.name("m2"), boxB)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer b.Close()

	if err := a.SendMessage("you are an idiot"); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	raw, err := boxA.wait(ctx, client.TypeMessageWarning)
	if err != nil {
		return scenarioResult{name, resultFail, "no message_warning for flagged text"}
	}
	if boxB.quiet(client.TypeNewMessage, time.Second) {
		var w struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(raw, &w)
		return scenarioResult{name, resultPass, w.Reason}
	}
	return scenarioResult{name, resultFail, "flagged message was broadcast"}
}

func (e *e2e) kickAndUnkick(ctx context.Context) scenarioResult {
	name := "Kick and unkick"
	if e.email == "" {
		return scenarioResult{name, resultInfo, "skipped: no admin credentials"}
	}

	token, err := e.login(ctx)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}

	victim := e.name("k")
	box := newInbox(client.TypeKicked)
	c, err := e.join(ctx, victim, box)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer c.Close()

	var users struct {
		Users []struct {
			SocketID string `json:"socketId"`
			Username string `json:"username"`
		} `json:"users"`
	}
	if err := e.adminJSON(ctx, http.MethodGet, "/api/admin/online-users", token, nil, &users); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	socketID := ""
	for _, u := range users.Users {
		if u.Username == victim {
			socketID = u.SocketID
		}
	}
	if socketID == "" {
		return scenarioResult{name, resultFail, "victim missing from online-users"}
	}

	body := map[string]string{"reason": "e2e check"}
	if err := e.adminJSON(ctx, http.MethodPost, "/api/admin/kick/"+socketID, token, body, nil); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if _, err := box.wait(ctx, client.TypeKicked); err != nil {
		return scenarioResult{name, resultFail, "no kicked event"}
	}

	var rejected *client.RejectedError
	if _, err := e.join(ctx, victim, nil); !errors.As(err, &rejected) {
		return scenarioResult{name, resultFail, fmt.Sprintf("banned name rejoined: %v", err)}
	}

	if err := e.adminJSON(ctx, http.MethodPost, "/api/admin/unkick/"+victim, token, nil, nil); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	again, err := e.join(ctx, victim, nil)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("rejoin after unkick: %v", err)}
	}
	again.Close()
	return scenarioResult{name, resultPass, ""}
}

func (e *e2e) rateLimiting(ctx context.Context) scenarioResult {
	name := "Rate limiting"

	box := newInbox(client.TypeRateLimited)
	c, err := e.join(ctx, e.name("r"), box)
	if err != nil {
		return scenarioResult{name, resultInfo, err.Error()}
	}
	defer c.Close()

	sent := 0
	for i := 0; i < 15; i++ {
		if c.SendMessage(fmt.Sprintf("burst %d", i)) != nil {
			break
		}
		sent++
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := box.wait(wctx, client.TypeRateLimited); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("no rate_limited after %d messages (Redis may be disabled)", sent)}
	}
	return scenarioResult{name, resultInfo, fmt.Sprintf("rate_limited within %d messages", sent)}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// inbox buffers events of the given types from the first frame on.
type inbox struct {
	ch map[string]chan json.RawMessage
}

func newInbox(types ...string) *inbox {
	b := &inbox{ch: make(map[string]chan json.RawMessage)}
	for _, t := range types {
		b.ch[t] = make(chan json.RawMessage, 64)
	}
	return b
}

func (b *inbox) options() []client.Option {
	if b == nil {
		return nil
	}
	opts := make([]client.Option, 0, len(b.ch))
	for t, ch := range b.ch {
		opts = append(opts, client.WithHandler(t, func(raw json.RawMessage) {
			select {
			case ch <- raw:
			default:
			}
		}))
	}
	return opts
}

func (b *inbox) wait(ctx context.Context, typ string) (json.RawMessage, error) {
	return b.waitFor(ctx, typ, "")
}

// waitFor returns the first event of typ whose JSON contains substr.
func (b *inbox) waitFor(ctx context.Context, typ, substr string) (json.RawMessage, error) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case raw := <-b.ch[typ]:
			if strings.Contains(string(raw), substr) {
				return raw, nil
			}
		case <-wctx.Done():
			return nil, fmt.Errorf("timed out waiting for %s", typ)
		}
	}
}

// quiet reports whether no event of typ arrives within d.
func (b *inbox) quiet(typ string, d time.Duration) bool {
	select {
	case <-b.ch[typ]:
		return false
	case <-time.After(d):
		return true
	}
}

// join connects as name and waits for the verdict. A rejected client is
// closed before returning.
func (e *e2e) join(ctx context.Context, name string, box *inbox) (*client.Client, error) {
	jctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.New(jctx, e.wsURL, name, box.options()...)
	if err != nil {
		return nil, err
	}
	if err := c.WaitJoined(jctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (e *e2e) login(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": e.email, "password": e.pass}
	if err := e.adminJSON(ctx, http.MethodPost, "/api/admin/login", "", body, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.Token, nil
}

func (e *e2e) adminJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (e *e2e) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (e *e2e) getJSON(ctx context.Context, path string, out any) error {
	body, err := e.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
