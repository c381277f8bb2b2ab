package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelreg/internal/errors"
	"modelreg/internal/logging"
	"modelreg/internal/model"
	"modelreg/internal/region"
)

// SlaveTracker reports the outcome of a master tracker for a region it has
// reserved, without fetching anything itself. Status, ids and error are read
// from the master. Cancelling a slave detaches it and leaves the master
// running.
//
// A slave has exactly one listener, set with SetListener.
type SlaveTracker struct {
	id     string
	master Tracker
	region region.Set
	query  *model.Query
	notify Queue
	logger *logging.Logger

	mu        sync.Mutex
	cancelled bool
	finished  bool
	listener  Listener
	sub       Subscription
	done      chan struct{}
}

func newSlaveTracker(master Tracker, reserved region.Set, q *model.Query, opts Options) *SlaveTracker {
	opts = opts.withDefaults()
	return &SlaveTracker{
		id:     uuid.New().String(),
		master: master,
		region: reserved,
		query:  q,
		notify: opts.Queue,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}
}

func (s *SlaveTracker) sealed() {}

// ID returns the slave's own id.
func (s *SlaveTracker) ID() string { return s.id }

// Query returns the query restricted to the reserved region.
func (s *SlaveTracker) Query() *model.Query { return s.query }

// Master returns the tracker being followed.
func (s *SlaveTracker) Master() Tracker { return s.master }

// Region returns the reserved region.
func (s *SlaveTracker) Region() region.Set { return s.region }

// Status is CANCELLED once the slave is cancelled, else the master's status.
func (s *SlaveTracker) Status() Status {
	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return Cancelled
	}
	return s.master.Status()
}

// IsDone reports whether the slave or its master finished.
func (s *SlaveTracker) IsDone() bool {
	return s.Status() != Running
}

// IDs returns the master's ids.
func (s *SlaveTracker) IDs() []int64 {
	return s.master.IDs()
}

// Err returns the master's failure cause.
func (s *SlaveTracker) Err() error {
	if s.Status() != Failed {
		return nil
	}
	return s.master.Err()
}

// FractionComplete returns the master's progress.
func (s *SlaveTracker) FractionComplete() float64 {
	if s.Status() == Cancelled {
		return 1
	}
	return s.master.FractionComplete()
}

// Satisfactions returns the reserved region.
func (s *SlaveTracker) Satisfactions() []model.Satisfaction {
	return []model.Satisfaction{model.NewSatisfaction(s.region)}
}

// Done is closed when the master finishes or the slave is cancelled.
func (s *SlaveTracker) Done() <-chan struct{} {
	return s.done
}

// SetListener installs the slave's only listener. On a finished slave the
// listener is told the final status synchronously.
func (s *SlaveTracker) SetListener(l Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.Newf(errors.InvalidArgument, "slave tracker %s already has a listener", s.id)
	}
	s.listener = l
	finished := s.finished
	s.mu.Unlock()

	if finished {
		s.deliver(l, s.Status())
	}
	return nil
}

// attach subscribes to the master. A master that is already finished
// finishes the slave straight away.
func (s *SlaveTracker) attach() {
	fwd := slaveForwarder{s}
	var sub Subscription
	switch m := s.master.(type) {
	case *DefaultTracker:
		sub = m.AddListener(fwd)
	case *MultiTracker:
		sub = m.AddListener(fwd)
	case *SlaveTracker:
		panic(fmt.Sprintf("slave %s attached to slave %s", s.id, m.id))
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// Cancel detaches the slave. The master is not affected.
func (s *SlaveTracker) Cancel() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	l, sub := s.finish()
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if l != nil {
		s.notify.Submit(func() { s.deliver(l, Cancelled) })
	}
}

func (s *SlaveTracker) masterFinished(status Status) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	l, sub := s.finish()
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if l != nil {
		s.deliver(l, status)
	}
}

// finish must be called with mu held.
func (s *SlaveTracker) finish() (Listener, Subscription) {
	s.finished = true
	close(s.done)
	sub := s.sub
	s.sub = nil
	return s.listener, sub
}

func (s *SlaveTracker) deliver(l Listener, status Status) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Slave listener panicked", map[string]interface{}{
				"tracker": s.id,
				"panic":   fmt.Sprintf("%v", r),
			})
		}
	}()
	l.FractionCompleteChanged(s, 1)
	l.StatusChanged(s, status)
}

// Await blocks until the slave finishes or ctx is done.
func (s *SlaveTracker) Await(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits for the master's result. If ctx is done first the slave, not the
// master, is cancelled.
func (s *SlaveTracker) Get(ctx context.Context) ([]int64, error) {
	select {
	case <-s.done:
		return s.result()
	case <-ctx.Done():
		s.Cancel()
		return nil, errors.New(errors.Cancelled, "wait interrupted", ctx.Err())
	}
}

// GetTimeout waits at most d without side effects.
func (s *SlaveTracker) GetTimeout(d time.Duration) ([]int64, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.result()
	case <-timer.C:
		return nil, errors.Newf(errors.Timeout, "slave tracker %s still running after %v", s.id, d)
	}
}

func (s *SlaveTracker) result() ([]int64, error) {
	switch s.Status() {
	case Failed:
		return nil, s.master.Err()
	case Cancelled:
		return nil, errors.Newf(errors.Cancelled, "slave tracker %s was cancelled", s.id)
	default:
		return s.master.IDs(), nil
	}
}

// LogError logs the master's failure cause, if any.
func (s *SlaveTracker) LogError(logger *logging.Logger) {
	if err := s.Err(); err != nil {
		logger.Error("Query failed", map[string]interface{}{
			"tracker": s.id,
			"master":  s.master.ID(),
			"error":   err.Error(),
		})
	}
}

type slaveForwarder struct {
	s *SlaveTracker
}

func (f slaveForwarder) StatusChanged(_ Tracker, status Status) {
	if status.IsTerminal() {
		f.s.masterFinished(status)
	}
}

func (f slaveForwarder) FractionCompleteChanged(_ Tracker, fraction float64) {
	f.s.mu.Lock()
	l := f.s.listener
	finished := f.s.finished
	f.s.mu.Unlock()
	if l != nil && !finished {
		l.FractionCompleteChanged(f.s, fraction)
	}
}
