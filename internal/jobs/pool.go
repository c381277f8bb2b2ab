package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"modelreg/internal/logging"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("pool is shutting down")

// Pool executes jobs on a fixed number of workers.
type Pool struct {
	name   string
	logger *logging.Logger

	queue       chan *Job
	queueSize   int
	workerCount int

	// Control channels
	done     chan struct{}
	stopOnce sync.Once
	cancel   map[string]context.CancelFunc
	pending  map[string]*Job

	mu sync.RWMutex
	wg sync.WaitGroup

	// Metrics
	active         atomic.Int64
	processedCount atomic.Int64
	failedCount    atomic.Int64

	onFinish func(job *Job)
}

// PoolConfig contains configuration for a worker pool.
type PoolConfig struct {
	QueueSize   int
	WorkerCount int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		QueueSize:   256,
		WorkerCount: 4,
	}
}

// NewPool creates a pool and starts its workers.
func NewPool(name string, logger *logging.Logger, config PoolConfig) *Pool {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	p := &Pool{
		name:        name,
		logger:      logger,
		queue:       make(chan *Job, config.QueueSize),
		queueSize:   config.QueueSize,
		workerCount: config.WorkerCount,
		done:        make(chan struct{}),
		cancel:      make(map[string]context.CancelFunc),
		pending:     make(map[string]*Job),
	}

	p.logger.Debug("Starting worker pool", map[string]interface{}{
		"pool":      name,
		"workers":   p.workerCount,
		"queueSize": p.queueSize,
	})
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// OnFinish installs a hook called after every job reaches a terminal state.
// It must be set before jobs are submitted.
func (p *Pool) OnFinish(fn func(job *Job)) {
	p.onFinish = fn
}

// Go wraps task in a job and submits it.
func (p *Pool) Go(ctx context.Context, name string, task Task) (*Job, error) {
	job := NewJob(name, task)
	if err := p.Submit(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Submit adds a job to the queue, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job *Job) error {
	if !p.IsRunning() {
		return ErrPoolStopped
	}

	p.mu.Lock()
	p.pending[job.ID] = job
	p.mu.Unlock()

	select {
	case p.queue <- job:
		p.logger.Debug("Job queued", map[string]interface{}{
			"pool":  p.name,
			"jobId": job.ID,
			"name":  job.Name,
		})
		return nil
	case <-ctx.Done():
		p.forget(job.ID)
		job.finish(JobCancelled, ctx.Err())
		return ctx.Err()
	case <-p.done:
		p.forget(job.ID)
		job.finish(JobCancelled, ErrPoolStopped)
		return ErrPoolStopped
	}
}

// Cancel attempts to cancel a queued or running job.
func (p *Pool) Cancel(jobID string) error {
	p.mu.Lock()
	job, ok := p.pending[jobID]
	cancel := p.cancel[jobID]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if !job.CanCancel() {
		return fmt.Errorf("job cannot be cancelled in state: %s", job.Status())
	}

	if cancel != nil {
		cancel()
		return nil
	}
	// Still queued; the worker will skip it.
	job.finish(JobCancelled, context.Canceled)
	return nil
}

// Stop gracefully shuts down the pool.
func (p *Pool) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		p.logger.Debug("Stopping worker pool", map[string]interface{}{"pool": p.name})
		close(p.done)
	})

	// Cancel all running jobs
	p.mu.Lock()
	for id, cancel := range p.cancel {
		p.logger.Debug("Cancelling running job", map[string]interface{}{
			"pool":  p.name,
			"jobId": id,
		})
		cancel()
	}
	p.mu.Unlock()

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.drain()
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("pool %s shutdown timed out after %v", p.name, timeout)
	}
}

// drain cancels jobs left in the queue after the workers exited.
func (p *Pool) drain() {
	for {
		select {
		case job := <-p.queue:
			p.forget(job.ID)
			job.finish(JobCancelled, ErrPoolStopped)
			p.finished(job)
		default:
			return
		}
	}
}

// worker processes jobs from the queue.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.queue:
			p.process(job)
		case <-p.done:
			p.logger.Debug("Pool worker stopping", map[string]interface{}{
				"pool":     p.name,
				"workerId": id,
			})
			return
		}
	}
}

// process executes a single job.
func (p *Pool) process(job *Job) {
	defer p.forget(job.ID)
	if !job.markStarted() {
		// Cancelled while queued.
		p.finished(job)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel[job.ID] = cancel
	p.mu.Unlock()

	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		cancel()
	}()

	startTime := time.Now()
	err := p.run(ctx, job)
	duration := time.Since(startTime)

	switch {
	case err == nil:
		p.processedCount.Add(1)
		job.finish(JobCompleted, nil)
	case ctx.Err() == context.Canceled:
		job.finish(JobCancelled, err)
		p.logger.Debug("Job cancelled", map[string]interface{}{
			"pool":     p.name,
			"jobId":    job.ID,
			"duration": duration.String(),
		})
	default:
		p.failedCount.Add(1)
		job.finish(JobFailed, err)
		p.logger.Warn("Job failed", map[string]interface{}{
			"pool":     p.name,
			"jobId":    job.ID,
			"name":     job.Name,
			"error":    err.Error(),
			"duration": duration.String(),
		})
	}
	p.finished(job)
}

// run calls the task, turning a panic into an error.
func (p *Pool) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.task(ctx)
}

func (p *Pool) finished(job *Job) {
	if p.onFinish != nil {
		p.onFinish(job)
	}
}

func (p *Pool) forget(jobID string) {
	p.mu.Lock()
	delete(p.cancel, jobID)
	delete(p.pending, jobID)
	p.mu.Unlock()
}

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// MaxWorkers returns the number of workers.
func (p *Pool) MaxWorkers() int {
	return p.workerCount
}

// Saturation returns active workers divided by the worker count.
func (p *Pool) Saturation() float64 {
	return float64(p.ActiveCount()) / float64(p.workerCount)
}

// Stats returns pool statistics.
func (p *Pool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"pool":           p.name,
		"queueLength":    len(p.queue),
		"queueCapacity":  p.queueSize,
		"activeJobs":     p.ActiveCount(),
		"processedTotal": p.processedCount.Load(),
		"failedTotal":    p.failedCount.Load(),
		"workerCount":    p.workerCount,
	}
}

// QueueLength returns the current queue length.
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// IsRunning returns true if the pool is accepting jobs.
func (p *Pool) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
