// Package eventloop provides the serial task queue that every subscription
// callback and cache write runs on. Tasks posted to one Queue never run
// concurrently and always run in the order they were posted.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueStopped is returned when posting to a stopped queue.
var ErrQueueStopped = errors.New("event queue stopped")

// Queue is an unbounded FIFO executed by a single goroutine.
// Post never blocks, so tasks may post follow-up tasks to their own queue.
type Queue struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool

	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a queue and starts its worker goroutine.
// Call Stop to release the goroutine.
func New(name string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		name:   name,
		logger: logger.With(slog.String("queue", name)),
		doneCh: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Name returns the queue name used in logs.
func (q *Queue) Name() string {
	return q.name
}

// Post appends fn to the queue.
func (q *Queue) Post(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
	return nil
}

// Flush waits until every task posted before the call has run.
// It must not be called from a task running on the same queue.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := q.Post(func() { close(done) }); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to flush queue %s: %w", q.name, ctx.Err())
	}
}

// Stop rejects new tasks, runs the tasks already queued, and waits for the
// worker to exit. Safe to call multiple times. It must not be called from a
// task running on the same queue.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	<-q.doneCh
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run() {
	defer close(q.doneCh)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.execute(task)
	}
}

// execute runs one task. A panicking task is logged and dropped so one bad
// callback cannot take the queue down.
func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued task panicked", slog.Any("panic", r))
		}
	}()
	task()
}
