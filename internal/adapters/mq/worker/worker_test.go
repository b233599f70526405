package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/mfvi/internal/adapters/mq/queue"
	worker "github.com/okian/mfvi/internal/adapters/mq/worker"
	"github.com/okian/mfvi/internal/domain/fitting"
	"github.com/okian/mfvi/internal/domain/inference"
	model "github.com/okian/mfvi/internal/domain/model"
	logging "github.com/okian/mfvi/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logging.Init(); err != nil {
		panic(err)
	}
	_ = logging.SetLevelString("error")
}

type mockRunner struct {
	err   error
	block bool
}

func (m *mockRunner) Run(ctx context.Context, req model.FitRequest, progress func(model.Checkpoint)) (fitting.Outcome, error) {
	if m.block {
		<-ctx.Done()
		return fitting.Outcome{}, ctx.Err()
	}
	if m.err != nil {
		return fitting.Outcome{}, m.err
	}
	for i := 1; i <= 2; i++ {
		progress(model.Checkpoint{Iter: i * req.NIter / 2, Loss: float64(-i), Mean: []float64{0.1 * float64(i), 0}})
	}
	return fitting.Outcome{
		Result: inference.Result{
			Posterior:  inference.Posterior{Mean: []float64{0.3, 0.05}, StdDev: []float64{0.02, 0.01}},
			FinalLoss:  -12,
			FinalELBO:  12,
			Iterations: req.NIter,
		},
		ExactMean: []float64{0.29, 0.05},
	}, nil
}

type mockStore struct {
	mu   sync.Mutex
	fits map[string]model.Fit
	puts int
}

func newMockStore() *mockStore { return &mockStore{fits: make(map[string]model.Fit)} }

func (s *mockStore) Get(_ context.Context, id string) (model.Fit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fits[id]
	if !ok {
		return model.Fit{}, errors.New("not found")
	}
	return f.Clone(), nil
}

func (s *mockStore) Put(_ context.Context, f model.Fit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fits[f.ID] = f.Clone()
	s.puts++
	return nil
}

func (s *mockStore) fit(id string) model.Fit {
	f, _ := s.Get(context.Background(), id)
	return f
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker fed by a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		store := newMockStore()
		ctx := context.Background()

		convey.Convey("When a job succeeds", func() {
			w := worker.NewInMemoryWorker(q, &mockRunner{}, store, worker.WithName("w-ok"))
			_ = store.Put(ctx, model.Fit{ID: "fit-1", Status: model.StatusQueued, CreatedAt: time.Now()})
			_ = q.Enqueue(ctx, queue.Job{FitID: "fit-1", Request: model.FitRequest{NIter: 10}})
			_ = q.Close()
			w.Run(ctx)

			convey.Convey("Then the stored fit should hold the posterior and trace", func() {
				f := store.fit("fit-1")
				convey.So(f.Status, convey.ShouldEqual, model.StatusSucceeded)
				convey.So(f.Mean, convey.ShouldResemble, []float64{0.3, 0.05})
				convey.So(f.ExactMean, convey.ShouldResemble, []float64{0.29, 0.05})
				convey.So(f.FinalELBO, convey.ShouldEqual, 12.0)
				convey.So(len(f.Trace), convey.ShouldEqual, 2)
				convey.So(f.StartedAt.IsZero(), convey.ShouldBeFalse)
				convey.So(f.FinishedAt.IsZero(), convey.ShouldBeFalse)
				convey.So(w.Processed(), convey.ShouldEqual, 1)
				// seed + running + two checkpoints + final
				convey.So(store.puts, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When the runner fails", func() {
			w := worker.NewInMemoryWorker(q, &mockRunner{err: inference.ErrDiverged}, store)
			_ = q.Enqueue(ctx, queue.Job{FitID: "fit-2", Request: model.FitRequest{NIter: 10}})
			_ = q.Close()
			w.Run(ctx)

			convey.Convey("Then the fit should be marked failed with the error", func() {
				f := store.fit("fit-2")
				convey.So(f.Status, convey.ShouldEqual, model.StatusFailed)
				convey.So(f.Error, convey.ShouldContainSubstring, "diverged")
				convey.So(f.Request.NIter, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When a running worker is shut down", func() {
			w := worker.NewInMemoryWorker(q, &mockRunner{block: true}, store)
			go w.Run(ctx)
			_ = q.Enqueue(ctx, queue.Job{FitID: "fit-3"})
			started := waitFor(func() bool { return store.fit("fit-3").Status == model.StatusRunning })

			sctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			err := w.Shutdown(sctx)

			convey.Convey("Then the in-flight fit should be cancelled and recorded", func() {
				convey.So(started, convey.ShouldBeTrue)
				convey.So(err, convey.ShouldBeNil)
				f := store.fit("fit-3")
				convey.So(f.Status, convey.ShouldEqual, model.StatusFailed)
				convey.So(f.Error, convey.ShouldContainSubstring, "canceled")
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(32))
		store := newMockStore()
		ctx := context.Background()

		convey.Convey("When jobs are queued and the pool drains", func() {
			p := worker.NewPool(3, q, &mockRunner{}, store)
			p.Start(ctx)
			for i := range 10 {
				_ = q.Enqueue(ctx, queue.Job{FitID: fmt.Sprintf("fit-%d", i), Request: model.FitRequest{NIter: 4}})
			}

			sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			err := p.Shutdown(sctx)

			convey.Convey("Then every job should have run", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(p.Size(), convey.ShouldEqual, 3)
				convey.So(p.Processed(), convey.ShouldEqual, 10)
				for i := range 10 {
					convey.So(store.fit(fmt.Sprintf("fit-%d", i)).Status, convey.ShouldEqual, model.StatusSucceeded)
				}
			})
		})

		convey.Convey("When a fit never finishes before the drain deadline", func() {
			p := worker.NewPool(1, q, &mockRunner{block: true}, store)
			p.Start(ctx)
			_ = q.Enqueue(ctx, queue.Job{FitID: "stuck"})
			waitFor(func() bool { return store.fit("stuck").Status == model.StatusRunning })

			sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err := p.Shutdown(sctx)

			convey.Convey("Then shutdown should report the timeout and cancel the fit", func() {
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
				convey.So(store.fit("stuck").Status, convey.ShouldEqual, model.StatusFailed)
			})
		})

		convey.Convey("When the worker count is not positive", func() {
			p := worker.NewPool(0, q, &mockRunner{}, store)

			convey.Convey("Then it should default to one worker per CPU", func() {
				convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})
	})
}
