package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/internal/domain/types"
	"github.com/okian/mfvi/pkg/metrics"
)

const defaultDegree = 32

// rankItem orders succeeded fits; in-order traversal yields the leaderboard.
type rankItem struct {
	elbo float64
	id   string
}

func (i rankItem) Less(than btree.Item) bool {
	o := than.(rankItem)
	return ranksBefore(i.elbo, i.id, o.elbo, o.id)
}

// BTreeStore keeps fits in memory with a B-tree ranking index.
type BTreeStore struct {
	mu     sync.RWMutex
	fits   map[string]model.Fit
	rank   *btree.BTree
	degree int
}

// NewBTreeStore creates an empty in-memory store.
func NewBTreeStore(opts ...Option) *BTreeStore {
	s := &BTreeStore{
		fits:   make(map[string]model.Fit),
		degree: defaultDegree,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rank = btree.New(s.degree)
	metrics.UpdateRepositoryFits(0)
	return s
}

// Put inserts or replaces a fit.
func (s *BTreeStore) Put(_ context.Context, f model.Fit) error { //nolint:gocritic // hugeParam: fit is cloned on entry
	if f.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidFit)
	}
	if f.Status == model.StatusSucceeded && !finite(f.FinalELBO) {
		return fmt.Errorf("%w: non-finite elbo for %s", ErrInvalidFit, f.ID)
	}
	start := time.Now()
	f = f.Clone()

	s.mu.Lock()
	if prev, ok := s.fits[f.ID]; ok && prev.Status == model.StatusSucceeded {
		s.rank.Delete(rankItem{elbo: prev.FinalELBO, id: prev.ID})
	}
	s.fits[f.ID] = f
	if f.Status == model.StatusSucceeded {
		s.rank.ReplaceOrInsert(rankItem{elbo: f.FinalELBO, id: f.ID})
	}
	n := len(s.fits)
	s.mu.Unlock()

	metrics.UpdateRepositoryFits(n)
	metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

// Get returns a copy of the fit with the given id.
func (s *BTreeStore) Get(_ context.Context, id string) (model.Fit, error) {
	s.mu.RLock()
	f, ok := s.fits[id]
	s.mu.RUnlock()
	if !ok {
		return model.Fit{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return f.Clone(), nil
}

// TopN returns the best n succeeded fits.
func (s *BTreeStore) TopN(_ context.Context, n int) ([]types.Entry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Entry, 0, min(n, s.rank.Len()))
	s.rank.Ascend(func(i btree.Item) bool {
		f := s.fits[i.(rankItem).id]
		out = append(out, entryFor(len(out)+1, &f))
		return len(out) < n
	})
	return out, nil
}

// Count returns the number of stored fits.
func (s *BTreeStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fits)
}

// Close is a no-op for the in-memory store.
func (s *BTreeStore) Close() error { return nil }
