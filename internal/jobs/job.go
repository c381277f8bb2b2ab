// Package jobs runs registry work in the background: a bounded worker pool
// for provider fetches and a single-worker queue for ordered notifications.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Task is the unit of work a job executes.
type Task func(ctx context.Context) error

// Job is a task submitted to a Pool together with its state.
type Job struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	task        Task
	done        chan struct{}
	mu          sync.Mutex
	status      JobStatus
	startedAt   *time.Time
	completedAt *time.Time
	err         error
}

// NewJob creates a queued job.
func NewJob(name string, task Task) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		task:      task,
		done:      make(chan struct{}),
		status:    JobQueued,
	}
}

// Status returns the job's current state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	s := j.Status()
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanCancel returns true if the job can be cancelled.
func (j *Job) CanCancel() bool {
	s := j.Status()
	return s == JobQueued || s == JobRunning
}

// Err returns the task's error once the job has finished.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration returns how long the job took (or has been running).
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if j.completedAt != nil {
		end = *j.completedAt
	}
	return end.Sub(*j.startedAt)
}

func (j *Job) markStarted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobQueued {
		return false
	}
	now := time.Now().UTC()
	j.status = JobRunning
	j.startedAt = &now
	return true
}

// finish records the terminal state once; later calls are ignored.
func (j *Job) finish(status JobStatus, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobCompleted || j.status == JobFailed || j.status == JobCancelled {
		return
	}
	now := time.Now().UTC()
	j.status = status
	j.completedAt = &now
	j.err = err
	close(j.done)
}
