package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hushroom/server/internal/chatlog"
)

var errClearFailed = errors.New("clear failed")

// failingClearStore fails every Clear.
type failingClearStore struct {
	*chatlog.MemoryStore
}

func (failingClearStore) Clear(context.Context) error { return errClearFailed }

func TestLogWriter_AppliesInOrder(t *testing.T) {
	store := chatlog.NewMemoryStore(10)
	w := newLogWriter(store, time.Second, zap.NewNop())
	defer w.close()

	w.append("c1", chatlog.Record{Sender: "Nova", Content: "one"})
	w.clear("c2")
	w.append("c1", chatlog.Record{Sender: "Nova", Content: "two"})
	if err := w.sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	n, err := store.Count(context.Background(), chatlog.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (only the write after the clear)", n)
	}
}

func TestLogWriter_ClearAsyncReportsError(t *testing.T) {
	w := newLogWriter(failingClearStore{chatlog.NewMemoryStore(10)}, time.Second, zap.NewNop())
	defer w.close()

	if err := <-w.clearAsync(); !errors.Is(err, errClearFailed) {
		t.Errorf("clearAsync = %v, want %v", err, errClearFailed)
	}
}

func TestLogWriter_CloseFlushes(t *testing.T) {
	store := chatlog.NewMemoryStore(10)
	w := newLogWriter(store, time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		w.append("c1", chatlog.Record{Sender: "Nova", Content: "m"})
	}
	w.close()
	w.close()

	if n, _ := store.Count(context.Background(), chatlog.Filter{}); n != 5 {
		t.Errorf("count after close = %d, want 5", n)
	}
	if err := w.sync(context.Background()); !errors.Is(err, errWriterClosed) {
		t.Errorf("sync after close = %v, want %v", err, errWriterClosed)
	}
}

func TestLogWriter_SyncHonorsContext(t *testing.T) {
	store := &slowStore{MemoryStore: chatlog.NewMemoryStore(10), release: make(chan struct{})}
	w := newLogWriter(store, time.Second, zap.NewNop())
	defer w.close()
	defer close(store.release)

	w.append("c1", chatlog.Record{Sender: "Nova", Content: "stuck"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.sync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("sync = %v, want deadline exceeded", err)
	}
}
