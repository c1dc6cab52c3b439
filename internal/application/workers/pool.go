package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
)

// Dispatch is one unit of work: a single step execution for a task.
type Dispatch struct {
	TaskID  string
	Step    string
	Attempt int
	Agent   *domain.AgentDefinition
	Request ports.InvokeRequest

	// Ctx is the task's context; a cancelled task abandons the call.
	Ctx context.Context

	// Result receives exactly one StepResult. The channel must be buffered
	// so an abandoned task never blocks a worker.
	Result chan StepResult
}

// StepResult is the outcome of one dispatched step execution.
type StepResult struct {
	Step     string
	Attempt  int
	Output   *ports.InvokeResult
	Err      error
	Duration time.Duration
}

// Pool is a bounded worker pool. Workers pull dispatches from a work
// channel; the worker count is the global concurrency ceiling for step
// execution across all tasks.
type Pool struct {
	size    int
	queue   chan *Dispatch
	invoker ports.AgentInvoker
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine.
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a worker pool of the given size with a bounded queue.
func NewPool(
	size int,
	queueSize int,
	invoker ports.AgentInvoker,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		queue:   make(chan *Dispatch, queueSize),
		invoker: invoker,
		metrics: metrics,
		logger:  logger,
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker goroutines and the health monitor.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit enqueues a dispatch. It blocks while the queue is full and fails
// when either the pool or the dispatch context is done.
func (p *Pool) Submit(d *Dispatch) error {
	select {
	case p.queue <- d:
		return nil
	case <-d.Ctx.Done():
		return d.Ctx.Err()
	case <-p.ctx.Done():
		return errors.New("worker pool is shut down")
	}
}

// Shutdown gracefully shuts down the worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers.
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop.
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case d := <-w.pool.queue:
			w.execute(d)
		}
	}
}

// execute runs one step dispatch, bounded by the agent's configured timeout.
// A timed-out call is abandoned: the TimeoutError is reported immediately
// and any eventual invoker return is discarded with the call context.
func (w *worker) execute(d *Dispatch) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	if err := d.Ctx.Err(); err != nil {
		// Task cancelled while the dispatch sat in the queue.
		d.Result <- StepResult{Step: d.Step, Attempt: d.Attempt, Err: err}
		return
	}

	w.pool.logger.Debug("executing step",
		zap.String("worker_id", w.id),
		zap.String("task_id", d.TaskID),
		zap.String("step", d.Step),
		zap.String("agent", d.Agent.Name),
		zap.Int("attempt", d.Attempt))

	start := time.Now()

	callCtx, cancel := context.WithTimeout(d.Ctx, d.Agent.Timeout)
	out, err := w.pool.invoker.Invoke(callCtx, d.Agent, d.Request)
	cancel()

	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && d.Ctx.Err() == nil {
			err = domain.Wrap(domain.KindTimeout, err,
				"agent %s exceeded its %s timeout on step %s", d.Agent.Name, d.Agent.Timeout, d.Step)
		}
		d.Result <- StepResult{Step: d.Step, Attempt: d.Attempt, Err: err, Duration: duration}
		return
	}

	d.Result <- StepResult{Step: d.Step, Attempt: d.Attempt, Output: out, Duration: duration}
}
