package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// completionServer answers every chat completion with content.
func completionServer(t *testing.T, content string, status int) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestRemote(url string) *Remote {
	return NewRemote(RemoteConfig{APIKey: "test-key", BaseURL: url + "/"})
}

func TestRemote_Classify(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    Verdict
		wantErr error
	}{
		{"clean", `{"isInappropriate": false, "reason": null}`, Clean, nil},
		{"flagged with reason", `{"isInappropriate": true, "reason": "harassment"}`, Flagged("harassment"), nil},
		{"flagged null reason", `{"isInappropriate": true, "reason": null}`, Flagged(ReasonRemote), nil},
		{"wrapped in prose", "Sure!\n```json\n{\"isInappropriate\": true, \"reason\": \"slur\"}\n```", Flagged("slur"), nil},
		{"broken json but flagged", `{"isInappropriate": true, "reason": "unterminated}`, Flagged(ReasonRemote), nil},
		{"no json", "I cannot help with that.", Verdict{}, ErrUnparseable},
		{"missing field", `{"reason": "x"}`, Verdict{}, ErrUnparseable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := completionServer(t, tt.reply, http.StatusOK)
			r := newTestRemote(srv.URL)

			got, err := r.Classify(context.Background(), "some message")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Classify error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Classify = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRemote_RequestShape(t *testing.T) {
	srv, reqs := completionServer(t, `{"isInappropriate": false}`, http.StatusOK)
	r := newTestRemote(srv.URL)

	if _, err := r.Classify(context.Background(), "hi there"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(*reqs) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(*reqs))
	}
	body := (*reqs)[0]
	if body["model"] != DefaultModel {
		t.Errorf("model = %v, want %s", body["model"], DefaultModel)
	}
	if body["temperature"] != 0.1 {
		t.Errorf("temperature = %v, want 0.1", body["temperature"])
	}
	if body["max_tokens"] != float64(100) {
		t.Errorf("max_tokens = %v, want 100", body["max_tokens"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", body["messages"])
	}
	user, _ := msgs[1].(map[string]any)
	if user["role"] != "user" || user["content"] != "hi there" {
		t.Errorf("user message = %v", user)
	}

	system, _ := msgs[0].(map[string]any)
	prompt, _ := system["content"].(string)
	if system["role"] != "system" {
		t.Errorf("first message role = %v, want system", system["role"])
	}
	for _, category := range []string{
		"Profanity", "abusive language", "Hate speech", "harassment",
		"Sexually explicit", "Spam", "gibberish", "strict but fair",
	} {
		if !strings.Contains(prompt, category) {
			t.Errorf("system prompt missing %q", category)
		}
	}
}

func TestRemote_ServerError(t *testing.T) {
	srv, reqs := completionServer(t, "", http.StatusInternalServerError)
	r := newTestRemote(srv.URL)

	if _, err := r.Classify(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
	if len(*reqs) != 1 {
		t.Errorf("server saw %d requests, want 1 (no retries)", len(*reqs))
	}
}

func TestParseVerdict_LooseSpacing(t *testing.T) {
	for _, reply := range []string{
		`"isInappropriate":true`,
		`"ISINAPPROPRIATE" :   true`,
	} {
		v, err := parseVerdict(reply)
		if err != nil || v != Flagged(ReasonRemote) {
			t.Errorf("parseVerdict(%q) = %+v, %v", reply, v, err)
		}
	}
}
