// Package repository stores fits and ranks the succeeded ones by ELBO.
package repository

import (
	"context"
	"math"

	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/internal/domain/types"
)

// Store provides read/write access to fit state.
type Store interface {
	// Put inserts or replaces a fit by id.
	Put(ctx context.Context, f model.Fit) error

	// Get returns a fit by id or ErrNotFound.
	Get(ctx context.Context, id string) (model.Fit, error)

	// TopN returns up to n succeeded fits ordered by final ELBO desc,
	// ties broken by id asc. n must be positive.
	TopN(ctx context.Context, n int) ([]types.Entry, error)

	// Count returns the number of stored fits.
	Count(ctx context.Context) int

	// Close releases underlying resources.
	Close() error
}

// ranksBefore reports whether (aELBO, aID) ranks ahead of (bELBO, bID).
func ranksBefore(aELBO float64, aID string, bELBO float64, bID string) bool {
	if aELBO != bELBO {
		return aELBO > bELBO
	}
	return aID < bID
}

func entryFor(rank int, f *model.Fit) types.Entry {
	return types.Entry{
		Rank:      rank,
		FitID:     f.ID,
		FinalELBO: f.FinalELBO,
		Mean:      append([]float64(nil), f.Mean...),
		StdDev:    append([]float64(nil), f.StdDev...),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
