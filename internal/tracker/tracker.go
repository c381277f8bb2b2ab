// Package tracker implements the query trackers: the state machine for a
// single query fragment, the multi-part tracker that splits a query's region
// between children, and the slave tracker that follows another tracker's
// fetch instead of issuing its own.
//
// Tracker is a closed sum type. Its variants are *DefaultTracker,
// *MultiTracker and *SlaveTracker; switches over a Tracker should handle all
// three.
package tracker

import (
	"context"
	"time"

	"modelreg/internal/logging"
	"modelreg/internal/model"
)

// Status is the lifecycle state of a tracker.
type Status int

const (
	Running Status = iota
	Success
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is not Running.
func (s Status) IsTerminal() bool {
	return s != Running
}

// Tracker is the read side shared by every tracker variant.
type Tracker interface {
	ID() string
	Query() *model.Query
	Status() Status
	IsDone() bool
	IDs() []int64
	Err() error
	FractionComplete() float64
	Satisfactions() []model.Satisfaction
	Cancel()
	Done() <-chan struct{}
	Await(ctx context.Context) error
	Get(ctx context.Context) ([]int64, error)
	GetTimeout(d time.Duration) ([]int64, error)
	LogError(logger *logging.Logger)

	sealed()
}

// Listener observes a tracker. Callbacks run on the notification queue, or
// synchronously when registering on a tracker that has already finished.
type Listener interface {
	StatusChanged(t Tracker, status Status)
	FractionCompleteChanged(t Tracker, fraction float64)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnStatus   func(t Tracker, status Status)
	OnFraction func(t Tracker, fraction float64)
}

// StatusChanged implements Listener.
func (f ListenerFuncs) StatusChanged(t Tracker, status Status) {
	if f.OnStatus != nil {
		f.OnStatus(t, status)
	}
}

// FractionCompleteChanged implements Listener.
func (f ListenerFuncs) FractionCompleteChanged(t Tracker, fraction float64) {
	if f.OnFraction != nil {
		f.OnFraction(t, fraction)
	}
}

// Subscription is a handle on a registered listener.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	unsubscribe func()
}

func (s *subscription) Unsubscribe() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// noSubscription is returned when nothing was registered.
var noSubscription Subscription = &subscription{}

// Queue delivers notifications in order, off the caller's goroutine.
// jobs.SerialQueue implements it.
type Queue interface {
	Submit(fn func())
}

// inlineQueue runs notifications on the calling goroutine.
type inlineQueue struct{}

func (inlineQueue) Submit(fn func()) { fn() }

// Options configures a tracker.
type Options struct {
	// Queue delivers listener notifications. Nil delivers inline, which is
	// only suitable for tests.
	Queue  Queue
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Queue == nil {
		o.Queue = inlineQueue{}
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o
}
