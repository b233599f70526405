// Package worker runs queued fit jobs and records their progress.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/mfvi/internal/adapters/mq/queue"
	"github.com/okian/mfvi/internal/domain/fitting"
	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/pkg/logger"
	"github.com/okian/mfvi/pkg/metrics"
)

const metricsUpdateInterval = 5 * time.Second

// Runner executes one fit request.
type Runner interface {
	Run(ctx context.Context, req model.FitRequest, progress func(model.Checkpoint)) (fitting.Outcome, error)
}

// Store persists fit state.
type Store interface {
	Get(ctx context.Context, id string) (model.Fit, error)
	Put(ctx context.Context, f model.Fit) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) (queue.Job, bool)
}

// Worker processes fit jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown stops the worker, cancelling any fit in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for fit jobs.
type InMemoryWorker struct {
	queue  Queue
	runner Runner
	store  Store
	name   string

	stop chan struct{}
	done chan struct{}

	processed atomic.Int64
	logger    logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, runner Runner, store Store, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:  q,
		runner: runner,
		store:  store,
		name:   "worker",
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		j, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if err := w.process(ctx, j); err != nil {
			w.logger.Error(ctx, "fit failed", logger.String("fit_id", j.FitID), logger.Error(err))
		}
		w.processed.Add(1)
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns how many jobs this worker has handled.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// process runs one job and persists every state transition.
func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	// Store writes outlive cancellation so a stopped fit is still recorded.
	storeCtx := context.WithoutCancel(ctx)

	fit, err := w.store.Get(storeCtx, j.FitID)
	if err != nil {
		fit = model.Fit{ID: j.FitID, Request: j.Request, CreatedAt: start}
	}
	fit.Status = model.StatusRunning
	fit.StartedAt = start
	if err := w.store.Put(storeCtx, fit); err != nil {
		return fmt.Errorf("mark fit %s running: %w", j.FitID, err)
	}

	metrics.AddFitsRunning(1)
	defer metrics.AddFitsRunning(-1)

	out, runErr := w.runner.Run(ctx, j.Request, func(c model.Checkpoint) {
		fit.Trace = append(fit.Trace, c)
		fit.Iterations = c.Iter
		fit.Mean, fit.StdDev = c.Mean, c.StdDev
		if err := w.store.Put(storeCtx, fit); err != nil {
			w.logger.Warn(ctx, "progress not stored", logger.String("fit_id", j.FitID), logger.Error(err))
		}
	})

	fit.FinishedAt = time.Now()
	if runErr != nil {
		fit.Status = model.StatusFailed
		fit.Error = runErr.Error()
		metrics.RecordFitFailed()
		metrics.RecordErrorByComponent("worker", "inference_error")
	} else {
		res := out.Result
		fit.Status = model.StatusSucceeded
		fit.Mean = res.Posterior.Mean
		fit.StdDev = res.Posterior.StdDev
		fit.FinalLoss = res.FinalLoss
		fit.FinalELBO = res.FinalELBO
		fit.Iterations = res.Iterations
		fit.ExactMean = out.ExactMean
		metrics.RecordFitCompleted(float64(fit.FinishedAt.Sub(start).Milliseconds()))
	}

	if err := w.store.Put(storeCtx, fit); err != nil {
		return fmt.Errorf("store fit %s: %w", j.FitID, err)
	}
	if runErr != nil {
		return runErr
	}

	w.logger.Info(ctx, "fit succeeded",
		logger.String("fit_id", j.FitID),
		logger.Float64("final_elbo", fit.FinalELBO),
		logger.Any("mean", fit.Mean),
		logger.Duration("took", fit.FinishedAt.Sub(start)),
	)
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	stop chan struct{}

	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, runner Runner, store Store) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		stop:    make(chan struct{}),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		p.workers[i] = NewInMemoryWorker(q, runner, store, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of jobs handled across all workers.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater periodically samples runtime metrics.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	var lastPauseNs uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			metrics.UpdateSystemMemoryUsage(ms.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
			if ms.PauseTotalNs > lastPauseNs {
				metrics.RecordSystemGCPauseTime(float64(ms.PauseTotalNs-lastPauseNs) / 1e6)
				lastPauseNs = ms.PauseTotalNs
			}
		}
	}
}

// Shutdown closes the queue and lets workers drain it. When ctx expires
// first, in-flight fits are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	defer close(p.stop)

drain:
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			break drain
		}
	}

	if ctx.Err() == nil {
		return nil
	}

	p.logger.Warn(ctx, "drain timed out; cancelling in-flight fits")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	for i, w := range p.workers {
		if err := w.Shutdown(stopCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return fmt.Errorf("pool shutdown: %w", ctx.Err())
}
