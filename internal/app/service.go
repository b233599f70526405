// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	fitqueue "github.com/okian/mfvi/internal/adapters/mq/queue"
	workerpool "github.com/okian/mfvi/internal/adapters/mq/worker"
	"github.com/okian/mfvi/internal/adapters/repository"
	"github.com/okian/mfvi/internal/domain/dedupe"
	"github.com/okian/mfvi/internal/domain/fitting"
	"github.com/okian/mfvi/internal/domain/inference"
	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/internal/domain/types"
	"github.com/okian/mfvi/pkg/logger"
	"github.com/okian/mfvi/pkg/metrics"
)

// Stats is a point-in-time view of the service.
type Stats struct {
	Started       bool  `json:"started"`
	WorkerCount   int   `json:"worker_count"`
	QueueCapacity int   `json:"queue_capacity"`
	QueueLength   int   `json:"queue_length"`
	DedupeEntries int64 `json:"dedupe_entries"`
	StoredFits    int   `json:"stored_fits"`
	Submitted     int64 `json:"submitted"`
	Duplicates    int64 `json:"duplicates"`
	Rejected      int64 `json:"rejected"`
	Processed     int64 `json:"processed"`
}

// Service accepts fit jobs, runs them on a worker pool and serves results.
type Service struct {
	mu sync.RWMutex

	store   repository.Store
	deduper dedupe.Deduper
	queue   *fitqueue.InMemoryQueue
	runner  *fitting.Runner
	pool    *workerpool.Pool

	workerCount int
	queueSize   int
	dedupeSize  int
	dbPath      string
	defaults    fitting.Defaults
	storeOpt    repository.Store

	submitted  atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of fit workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued fits.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the request-id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDBPath persists fits to SQLite at path instead of memory.
func WithDBPath(path string) Option {
	return func(s *Service) {
		s.dbPath = path
	}
}

// WithStore injects a ready store; it takes precedence over WithDBPath.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.storeOpt = store
	}
}

// WithDefaults sets the values used for unset request fields.
func WithDefaults(d fitting.Defaults) Option {
	return func(s *Service) {
		s.defaults = d
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   1_000,
		dedupeSize:  10_000,
		defaults:    fitting.DefaultDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	switch {
	case s.storeOpt != nil:
		s.store = s.storeOpt
	case s.dbPath != "":
		store, err := repository.NewSQLiteStore(ctx, s.dbPath)
		if err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.dbPath))
	default:
		s.store = repository.NewBTreeStore()
		s.logger.Info(ctx, "using in-memory btree store")
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = fitqueue.NewInMemoryQueue(fitqueue.WithCapacity(s.queueSize))
	s.runner = fitting.NewRunner(s.defaults)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.runner, s.store)
	// Workers outlive the request that started the service.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "mfvi service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains queued fits until ctx expires, then closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping mfvi service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "mfvi service stopped")
	return errors.Join(errs...)
}

// Submit validates req, stores a queued fit and hands it to the workers.
// A repeated RequestID returns the original fit with duplicate=true.
func (s *Service) Submit(ctx context.Context, req model.FitRequest) (fit model.Fit, duplicate bool, err error) { //nolint:gocritic // hugeParam: request is a value type
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.Fit{}, false, ErrNotStarted
	}

	if err := s.runner.Validate(req); err != nil {
		return model.Fit{}, false, err
	}

	id := uuid.NewString()
	if req.RequestID != "" {
		owner, seen := s.deduper.Reserve(ctx, req.RequestID, id)
		if seen {
			s.duplicates.Add(1)
			metrics.RecordFitDuplicate()
			existing, err := s.store.Get(ctx, owner)
			return existing, true, err
		}
	}

	fit = model.Fit{
		ID:        id,
		Status:    model.StatusQueued,
		Request:   s.runner.Resolve(req),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, fit); err != nil {
		s.release(ctx, req.RequestID)
		return model.Fit{}, false, fmt.Errorf("store fit: %w", err)
	}

	if err := s.queue.Enqueue(ctx, fitqueue.Job{FitID: id, Request: fit.Request}); err != nil {
		s.release(ctx, req.RequestID)
		s.rejected.Add(1)
		fit.Status = model.StatusFailed
		fit.Error = "rejected: " + err.Error()
		fit.FinishedAt = time.Now().UTC()
		if perr := s.store.Put(ctx, fit); perr != nil {
			s.logger.Warn(ctx, "rejected fit not stored", logger.String("fit_id", id), logger.Error(perr))
		}
		if errors.Is(err, fitqueue.ErrFull) {
			return model.Fit{}, false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return model.Fit{}, false, fmt.Errorf("enqueue fit: %w", err)
	}

	s.submitted.Add(1)
	metrics.RecordFitSubmitted()
	s.logger.Debug(ctx, "fit queued", logger.String("fit_id", id), logger.String("request_id", req.RequestID))
	return fit, false, nil
}

func (s *Service) release(ctx context.Context, requestID string) {
	if requestID != "" {
		s.deduper.Release(ctx, requestID)
	}
}

// Get returns a fit by id.
func (s *Service) Get(ctx context.Context, id string) (model.Fit, error) {
	store, err := s.activeStore()
	if err != nil {
		return model.Fit{}, err
	}
	return store.Get(ctx, id)
}

// TopN returns the n best succeeded fits.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	store, err := s.activeStore()
	if err != nil {
		return nil, err
	}
	return store.TopN(ctx, n)
}

// Predict evaluates the posterior predictive of a succeeded fit at xs.
func (s *Service) Predict(ctx context.Context, id string, xs []float64) ([]inference.Prediction, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: no inputs to predict", ErrInvalidRequest)
	}
	fit, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fit.Status != model.StatusSucceeded {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, fit.Status)
	}

	post := inference.Posterior{Mean: fit.Mean, StdDev: fit.StdDev}
	out := make([]inference.Prediction, len(xs))
	for i, x := range xs {
		out[i] = post.Predict(x, fit.Request.LikVariance)
	}
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Started:       s.started,
		WorkerCount:   s.workerCount,
		QueueCapacity: s.queueSize,
		Submitted:     s.submitted.Load(),
		Duplicates:    s.duplicates.Load(),
		Rejected:      s.rejected.Load(),
	}
	if s.started {
		st.QueueLength = s.queue.Len()
		st.DedupeEntries = s.deduper.Size()
		st.StoredFits = s.store.Count(ctx)
		st.Processed = s.pool.Processed()
	}
	return st
}

// Ready reports whether the service accepts work.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) activeStore() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}
