// Package dataset builds regression data tables and hands them out in
// minibatches. Every table is n x 2 with the output in column 0 and the
// input in column 1.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Toy data generator defaults.
const (
	DefaultToyNData    = 40
	DefaultToyNoiseStd = 0.1

	toySlope  = 0.075
	toyCenter = 4.0
	toyScale  = 4.0
)

// ToyOptions configures BuildToy.
type ToyOptions struct {
	NData    int     `json:"n_data"`
	NoiseStd float64 `json:"noise_std"`
	Seed     uint64  `json:"seed"`
}

// DefaultToyOptions returns the stock toy data configuration.
func DefaultToyOptions() ToyOptions {
	return ToyOptions{NData: DefaultToyNData, NoiseStd: DefaultToyNoiseStd}
}

// NewSource returns a deterministic random source for seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// BuildToy generates inputs on two clusters, [0, 2] and [6, 8], with outputs
// y = 0.075x + noise, then rescales the inputs to (x - 4) / 4.
func BuildToy(o ToyOptions) (*Data, error) {
	if o.NData < 4 {
		return nil, fmt.Errorf("%w: n_data must be >= 4 (got %d)", ErrInvalidOptions, o.NData)
	}
	if o.NoiseStd < 0 || math.IsNaN(o.NoiseStd) {
		return nil, fmt.Errorf("%w: noise_std must be >= 0 (got %v)", ErrInvalidOptions, o.NoiseStd)
	}

	half := o.NData / 2
	x := make([]float64, o.NData)
	floats.Span(x[:half], 0, 2)
	floats.Span(x[half:], 6, 8)

	noise := distuv.Normal{Mu: 0, Sigma: o.NoiseStd, Src: NewSource(o.Seed)}
	rows := make([]float64, 0, 2*o.NData)
	for _, xi := range x {
		y := toySlope * xi
		if o.NoiseStd > 0 {
			y += noise.Rand()
		}
		rows = append(rows, y, (xi-toyCenter)/toyScale)
	}
	return New(mat.NewDense(o.NData, 2, rows))
}

// FromPoints wraps caller-provided (y, x) rows.
func FromPoints(points [][2]float64) (*Data, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}
	rows := make([]float64, 0, 2*len(points))
	for i, p := range points {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrInvalidOptions, i)
		}
		rows = append(rows, p[0], p[1])
	}
	return New(mat.NewDense(len(points), 2, rows))
}

// Data wraps a data table and serves sequential minibatches from it.
type Data struct {
	mu      sync.Mutex
	table   *mat.Dense
	counter int
}

// New wraps an n x 2 table.
func New(table *mat.Dense) (*Data, error) {
	if table == nil || table.IsEmpty() {
		return nil, ErrEmpty
	}
	if _, c := table.Dims(); c != 2 {
		return nil, fmt.Errorf("%w: expected 2 columns, got %d", ErrInvalidOptions, c)
	}
	return &Data{table: table}, nil
}

// Len returns the number of rows.
func (d *Data) Len() int {
	r, _ := d.table.Dims()
	return r
}

// Table returns the full data table. Callers must not modify it.
func (d *Data) Table() mat.Matrix { return d.table }

// Sample returns the next n rows, wrapping around the end of the table.
// n <= 0 or n >= Len returns the full table.
func (d *Data) Sample(n int) mat.Matrix {
	total := d.Len()
	if n <= 0 || n >= total {
		return d.table
	}

	d.mu.Lock()
	start := d.counter
	d.counter = (d.counter + n) % total
	d.mu.Unlock()

	if start+n <= total {
		return d.table.Slice(start, start+n, 0, 2)
	}

	batch := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		batch.SetRow(i, d.table.RawRowView((start+i)%total))
	}
	return batch
}

// Points returns the table as (y, x) pairs.
func (d *Data) Points() [][2]float64 {
	out := make([][2]float64, d.Len())
	for i := range out {
		out[i] = [2]float64{d.table.At(i, 0), d.table.At(i, 1)}
	}
	return out
}
