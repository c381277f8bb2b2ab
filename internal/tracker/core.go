package tracker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelreg/internal/errors"
	"modelreg/internal/logging"
	"modelreg/internal/model"
)

// core is the status, id and listener state shared by DefaultTracker and
// MultiTracker. mu guards everything below it and is never held while
// calling out.
type core struct {
	id     string
	query  *model.Query
	notify Queue
	logger *logging.Logger

	// self is the outer tracker handed to listeners.
	self Tracker

	mu           sync.Mutex
	status       Status
	err          error
	ids          []int64
	fraction     float64
	done         chan struct{}
	listeners    map[uint64]Listener
	nextListener uint64
	cancels      map[uint64]context.CancelFunc
	nextCancel   uint64
}

func newCore(q *model.Query, opts Options) core {
	opts = opts.withDefaults()
	return core{
		id:        uuid.New().String(),
		query:     q,
		notify:    opts.Queue,
		logger:    opts.Logger,
		done:      make(chan struct{}),
		listeners: make(map[uint64]Listener),
		cancels:   make(map[uint64]context.CancelFunc),
	}
}

// ID returns the tracker's unique id.
func (c *core) ID() string { return c.id }

// Query returns the query this tracker answers.
func (c *core) Query() *model.Query { return c.query }

// Status returns the current status.
func (c *core) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsDone reports whether the tracker has left Running.
func (c *core) IsDone() bool {
	return c.Status() != Running
}

// IDs returns a copy of the accumulated result ids.
func (c *core) IDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.ids))
	copy(out, c.ids)
	return out
}

// Err returns the failure cause. It is non-nil only when FAILED.
func (c *core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// FractionComplete returns progress in [0, 1].
func (c *core) FractionComplete() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fraction
}

// Done is closed on the first terminal transition.
func (c *core) Done() <-chan struct{} {
	return c.done
}

// AddIDs appends result ids. Ids added after the tracker finished are
// dropped.
func (c *core) AddIDs(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Running {
		return
	}
	c.ids = append(c.ids, ids...)
}

// SetStatus moves the tracker to a new status. RUNNING may transition to any
// terminal status, and SUCCESS or CANCELLED may still become FAILED. Other
// transitions are ignored; asking a finished tracker to run again is an
// error.
func (c *core) SetStatus(status Status, err error) error {
	_, e := c.transition(status, err)
	return e
}

// transition applies SetStatus and reports whether the status changed.
func (c *core) transition(status Status, err error) (bool, error) {
	c.mu.Lock()
	prev := c.status
	switch {
	case status == Running:
		c.mu.Unlock()
		if prev != Running {
			return false, errors.Newf(errors.InvalidArgument,
				"tracker %s cannot return to RUNNING from %s", c.id, prev)
		}
		return false, nil
	case prev == Running:
	case status == Failed && (prev == Success || prev == Cancelled):
	default:
		c.mu.Unlock()
		return false, nil
	}

	c.status = status
	if status == Failed {
		if err == nil {
			err = errors.New(errors.QueryFailed, "query failed", nil)
		}
		c.err = err
	}
	c.fraction = 1
	if prev == Running {
		close(c.done)
	}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	self := c.self
	c.notify.Submit(func() {
		for _, l := range listeners {
			c.deliver(func() {
				l.FractionCompleteChanged(self, 1)
				l.StatusChanged(self, status)
			})
		}
	})
	return true, nil
}

// setFraction updates progress while running and notifies listeners.
func (c *core) setFraction(f float64) {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	c.mu.Lock()
	if c.status != Running || f == c.fraction {
		c.mu.Unlock()
		return
	}
	c.fraction = f
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	self := c.self
	c.notify.Submit(func() {
		for _, l := range listeners {
			c.deliver(func() { l.FractionCompleteChanged(self, f) })
		}
	})
}

// cancel flips a running tracker to CANCELLED and cancels every registered
// context. It reports whether the tracker was cancelled by this call.
func (c *core) cancel() bool {
	changed, _ := c.transition(Cancelled, nil)
	if !changed {
		return false
	}
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.cancels))
	for _, cf := range c.cancels {
		cancels = append(cancels, cf)
	}
	c.mu.Unlock()
	for _, cf := range cancels {
		cf()
	}
	return true
}

// Wrap returns a function that runs fn with a context cancelled when this
// tracker is cancelled. The registration lasts only while fn runs.
func (c *core) Wrap(fn func(ctx context.Context)) func(ctx context.Context) {
	return func(parent context.Context) {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		c.mu.Lock()
		if c.status == Cancelled {
			cancel()
		}
		key := c.nextCancel
		c.nextCancel++
		c.cancels[key] = cancel
		c.mu.Unlock()

		defer func() {
			c.mu.Lock()
			delete(c.cancels, key)
			c.mu.Unlock()
		}()
		fn(ctx)
	}
}

// AddListener registers l. On a tracker that has already finished, l is
// told the final status synchronously and nothing is registered.
func (c *core) AddListener(l Listener) Subscription {
	c.mu.Lock()
	if c.status != Running {
		status := c.status
		c.mu.Unlock()
		c.deliver(func() {
			l.FractionCompleteChanged(c.self, 1)
			l.StatusChanged(c.self, status)
		})
		return noSubscription
	}
	key := c.nextListener
	c.nextListener++
	c.listeners[key] = l
	c.mu.Unlock()

	var once sync.Once
	return &subscription{unsubscribe: func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, key)
			c.mu.Unlock()
		})
	}}
}

// Await blocks until the tracker finishes or ctx is done. It has no effect
// on the tracker.
func (c *core) Await(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits for the result. If ctx is done first the tracker is cancelled.
func (c *core) Get(ctx context.Context) ([]int64, error) {
	select {
	case <-c.done:
		return c.result()
	case <-ctx.Done():
		c.self.Cancel()
		return nil, errors.New(errors.Cancelled, "wait interrupted", ctx.Err())
	}
}

// GetTimeout waits at most d. On timeout the tracker keeps running.
func (c *core) GetTimeout(d time.Duration) ([]int64, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.result()
	case <-timer.C:
		return nil, errors.Newf(errors.Timeout, "tracker %s still running after %v", c.id, d)
	}
}

func (c *core) result() ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case Failed:
		return nil, c.err
	case Cancelled:
		return nil, errors.Newf(errors.Cancelled, "tracker %s was cancelled", c.id)
	default:
		out := make([]int64, len(c.ids))
		copy(out, c.ids)
		return out, nil
	}
}

// LogError logs the failure cause, if any.
func (c *core) LogError(logger *logging.Logger) {
	err := c.Err()
	if err == nil {
		return
	}
	logger.Error("Query failed", map[string]interface{}{
		"tracker":  c.id,
		"category": c.query.Category.String(),
		"code":     string(errors.CodeOf(err)),
		"error":    err.Error(),
	})
}

func (c *core) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(c.listeners))
	keys := make([]uint64, 0, len(c.listeners))
	for k := range c.listeners {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, c.listeners[k])
	}
	return out
}

// deliver isolates a listener panic to that listener.
func (c *core) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Tracker listener panicked", map[string]interface{}{
				"tracker": c.id,
				"panic":   fmt.Sprintf("%v", r),
			})
		}
	}()
	fn()
}
