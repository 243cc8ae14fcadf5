package gitbackup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/scratchpad/internal/metrics"
)

// LockKey identifies a serialized write target: a logical repository
// (bucket) and a branch within it.
type LockKey struct {
	Bucket string
	Ref    string
}

func (k LockKey) String() string {
	return k.Bucket + ":" + k.Ref
}

// WriteLock runs tasks one at a time per key, in submission order.
//
// Tasks for different keys run concurrently. Each key gets a worker
// goroutine on its first task; the worker exits and the key is dropped as
// soon as its queue is empty, so idle keys hold no memory.
//
// A failed (or panicking) task does not affect its successors. Its error is
// returned to its own caller only.
type WriteLock struct {
	queues *keyedQueues[LockKey]
}

// NewWriteLock creates an empty write lock table.
func NewWriteLock() *WriteLock {
	return &WriteLock{queues: newKeyedQueues[LockKey]()}
}

// Do queues fn under key and waits for its result.
//
// If ctx is cancelled before fn starts, fn is skipped and ctx.Err() is
// returned. Once fn has started, Do waits for it to finish; fn receives ctx
// and is expected to honor it.
func (w *WriteLock) Do(ctx context.Context, key LockKey, fn func(context.Context) error) error {
	t := newTask(ctx, fn)

	metrics.WriteLockQueued.Inc()
	if w.queues.push(key, t) {
		metrics.WriteLockKeys.Inc()
		go w.drain(key)
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.abandon() {
			return ctx.Err()
		}
		return <-t.done
	}
}

// Keys returns the number of keys with queued or running tasks.
func (w *WriteLock) Keys() int {
	return w.queues.len()
}

// Pending returns the number of tasks waiting behind the running one for key.
func (w *WriteLock) Pending(key LockKey) int {
	return w.queues.pending(key)
}

func (w *WriteLock) drain(key LockKey) {
	for {
		t, ok := w.queues.pop(key)
		if !ok {
			metrics.WriteLockKeys.Dec()
			return
		}
		metrics.WriteLockQueued.Dec()
		if !t.claim() {
			slog.Debug("write lock task cancelled before start", "key", key.String())
			continue
		}
		t.done <- run(key, t)
	}
}

func run(key LockKey, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("write lock task panicked", "key", key.String(), "panic", r)
			err = fmt.Errorf("write to %s panicked: %v", key, r)
		}
	}()
	return t.fn(t.ctx)
}
