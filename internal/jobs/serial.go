package jobs

import (
	"context"
	"fmt"
	"sync"

	"modelreg/internal/logging"
)

// SerialQueue runs submitted functions one at a time, in submission order,
// on a single goroutine. Submit never blocks, so a queued function may
// itself submit more work.
type SerialQueue struct {
	logger *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	running bool
	closed  bool

	wg sync.WaitGroup
}

// NewSerialQueue creates a queue and starts its worker.
func NewSerialQueue(logger *logging.Logger) *SerialQueue {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	q := &SerialQueue{logger: logger}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.loop()
	return q
}

// Submit enqueues fn. Functions submitted after Close are dropped.
func (q *SerialQueue) Submit(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
}

// Flush blocks until every function submitted so far, and anything they
// submit in turn, has run.
func (q *SerialQueue) Flush(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.closed || (len(q.tasks) == 0 && !q.running) {
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		done := make(chan struct{})
		q.Submit(func() { close(done) })
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of functions waiting to run.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close runs what is already queued and stops the worker.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *SerialQueue) loop() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.running = true
		q.mu.Unlock()

		q.call(fn)

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}
}

func (q *SerialQueue) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Queued callback panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	fn()
}
