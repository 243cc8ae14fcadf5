package gitbackup

import (
	"context"
	"sync"
	"sync/atomic"
)

// task states
const (
	taskPending int32 = iota
	taskStarted
	taskCancelled
)

// task is one write waiting for its turn on a ref.
type task struct {
	ctx   context.Context
	fn    func(context.Context) error
	done  chan error // buffered, size 1
	state atomic.Int32
}

func newTask(ctx context.Context, fn func(context.Context) error) *task {
	return &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
}

// claim marks the task started. It fails when the caller gave up first.
func (t *task) claim() bool {
	return t.state.CompareAndSwap(taskPending, taskStarted)
}

// abandon marks the task cancelled. It fails when the worker already
// started it, in which case the caller must wait for the result.
func (t *task) abandon() bool {
	return t.state.CompareAndSwap(taskPending, taskCancelled)
}

// taskQueue is a FIFO queue of tasks for a single key.
//
// The queue itself is not synchronized: WriteLock guards every access with
// its own mutex so that popping the last task and removing the key happen
// atomically.
type taskQueue struct {
	tasks []*task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{tasks: make([]*task, 0, 4)}
}

// Enqueue adds a task to the back of the queue.
func (q *taskQueue) Enqueue(t *task) {
	q.tasks = append(q.tasks, t)
}

// TryDequeue removes and returns the front task.
// Returns (nil, false) if the queue is empty.
func (q *taskQueue) TryDequeue() (*task, bool) {
	if len(q.tasks) == 0 {
		return nil, false
	}

	t := q.tasks[0]

	// Nil out the slot so the finished task's closure can be collected.
	q.tasks[0] = nil

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	return len(q.tasks)
}

// keyedQueues is the lazily-populated, self-pruning table of per-key queues.
type keyedQueues[K comparable] struct {
	mu     sync.Mutex
	queues map[K]*taskQueue
}

func newKeyedQueues[K comparable]() *keyedQueues[K] {
	return &keyedQueues[K]{queues: make(map[K]*taskQueue)}
}

// push enqueues t under key and reports whether the key had no queue, in
// which case the caller must start a worker for it.
func (k *keyedQueues[K]) push(key K, t *task) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	q, ok := k.queues[key]
	if !ok {
		q = newTaskQueue()
		k.queues[key] = q
	}
	q.Enqueue(t)
	return !ok
}

// pop dequeues the next task of key. When the queue is empty the key is
// removed and pop returns false; the worker must then exit.
func (k *keyedQueues[K]) pop(key K) (*task, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	q, ok := k.queues[key]
	if !ok {
		return nil, false
	}
	t, ok := q.TryDequeue()
	if !ok {
		delete(k.queues, key)
		return nil, false
	}
	return t, true
}

// len returns the number of live keys.
func (k *keyedQueues[K]) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.queues)
}

// pending returns the number of queued tasks under key.
func (k *keyedQueues[K]) pending(key K) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if q, ok := k.queues[key]; ok {
		return q.Len()
	}
	return 0
}
