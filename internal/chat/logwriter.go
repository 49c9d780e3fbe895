package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hushroom/server/internal/chatlog"
)

// errWriterClosed is returned to waiters queued after the writer stopped.
var errWriterClosed = errors.New("chat: message log writer closed")

type logOpKind int

const (
	opAppend logOpKind = iota
	opClear
	opBarrier
)

type logOp struct {
	kind   logOpKind
	rec    chatlog.Record
	connID string
	result chan error // nil for fire-and-forget ops
}

// logWriter applies message log writes on a single goroutine, in the order
// the room decided them. The room lock is only held while enqueueing, so a
// slow store delays persistence but never live delivery.
type logWriter struct {
	store   chatlog.Store
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	queue  []logOp
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newLogWriter(store chatlog.Store, timeout time.Duration, log *zap.Logger) *logWriter {
	w := &logWriter{
		store:   store,
		timeout: timeout,
		log:     log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue never blocks.
func (w *logWriter) enqueue(op logOp) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if op.result != nil {
			op.result <- errWriterClosed
		}
		return
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *logWriter) append(connID string, rec chatlog.Record) {
	w.enqueue(logOp{kind: opAppend, rec: rec, connID: connID})
}

func (w *logWriter) clear(connID string) {
	w.enqueue(logOp{kind: opClear, connID: connID})
}

// clearAsync queues a clear and returns a channel carrying its outcome.
func (w *logWriter) clearAsync() <-chan error {
	result := make(chan error, 1)
	w.enqueue(logOp{kind: opClear, result: result})
	return result
}

// sync waits until every write queued before the call has been applied.
func (w *logWriter) sync(ctx context.Context) error {
	result := make(chan error, 1)
	w.enqueue(logOp{kind: opBarrier, result: result})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close applies what is already queued and stops the writer.
func (w *logWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done
}

func (w *logWriter) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		ops := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		for _, op := range ops {
			w.apply(op)
		}
		if len(ops) > 0 {
			continue
		}
		if closed {
			return
		}
		<-w.wake
	}
}

func (w *logWriter) apply(op logOp) {
	var err error
	switch op.kind {
	case opAppend:
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		_, err = w.store.Append(ctx, op.rec)
		cancel()
		if err != nil {
			w.log.Error("append message", zap.String("conn", op.connID), zap.Error(err))
		}
	case opClear:
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err = w.store.Clear(ctx)
		cancel()
		if err != nil {
			w.log.Error("clear message log", zap.String("conn", op.connID), zap.Error(err))
		}
	}
	if op.result != nil {
		op.result <- err
	}
}
