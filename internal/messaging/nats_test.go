package messaging

import (
	"os"
	"sync"
	"testing"
	"time"
)

// newTestClient connects to a local NATS server or skips the test.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.URL = v
	}
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestAuditSubjectsMatchWildcard(t *testing.T) {
	for _, s := range []string{SubjectModerationFlagged, SubjectAdminKicked, SubjectAdminUnkicked, SubjectAdminCleared} {
		if len(s) <= len(SubjectAuditPrefix)+1 || s[:len(SubjectAuditPrefix)+1] != SubjectAuditPrefix+"." {
			t.Errorf("subject %q is not under %q", s, SubjectAuditAll)
		}
	}
}

func TestSubscribeAudit(t *testing.T) {
	c := newTestClient(t)

	var (
		mu   sync.Mutex
		once sync.Once
		got  = map[string]string{}
		done = make(chan struct{})
	)
	err := c.SubscribeAudit(func(subject string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got[subject] = string(data)
		if len(got) >= 2 {
			once.Do(func() { close(done) })
		}
	})
	if err != nil {
		t.Fatalf("SubscribeAudit: %v", err)
	}
	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	c.Publish(SubjectAdminKicked, []byte(`{"type":"kicked"}`))
	c.Publish(SubjectAdminCleared, []byte(`{"type":"cleared"}`))
	c.Publish("other.subject", []byte(`ignored`))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit events")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[SubjectAdminKicked] != `{"type":"kicked"}` {
		t.Errorf("kicked payload = %q", got[SubjectAdminKicked])
	}
	if _, ok := got["other.subject"]; ok {
		t.Error("received a non-audit subject")
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	c := newTestClient(t)
	if err := c.Unsubscribe("nope"); err == nil {
		t.Error("expected error for unknown subscription")
	}
}
