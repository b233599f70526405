// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/mfvi/internal/domain/dataset"
)

// FitStatus is the lifecycle state of a fit job.
type FitStatus string

// Fit lifecycle: queued -> running -> succeeded | failed.
const (
	StatusQueued    FitStatus = "queued"
	StatusRunning   FitStatus = "running"
	StatusSucceeded FitStatus = "succeeded"
	StatusFailed    FitStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s FitStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// FitRequest describes one inference run submitted by a client.
// Zero values are filled from service defaults before the job is queued.
type FitRequest struct {
	RequestID     string              `json:"request_id,omitempty"` // idempotency key
	LikVariance   float64             `json:"lik_variance,omitempty"`
	PriorVariance float64             `json:"prior_variance,omitempty"`
	NIter         int                 `json:"n_iter,omitempty"`
	NMinibatch    int                 `json:"n_minibatch,omitempty"`
	NPrint        int                 `json:"n_print,omitempty"`
	NData         int                 `json:"n_data,omitempty"`
	Estimator     string              `json:"estimator,omitempty"`
	Seed          uint64              `json:"seed,omitempty"`
	Toy           *dataset.ToyOptions `json:"toy,omitempty"`
	Points        [][2]float64        `json:"points,omitempty"` // (y, x) rows; overrides Toy
}

// Checkpoint is one progress report of a running fit.
type Checkpoint struct {
	Iter         int       `json:"iter"`
	Loss         float64   `json:"loss"`
	Mean         []float64 `json:"mean"`
	StdDev       []float64 `json:"stddev"`
	LearningRate float64   `json:"learning_rate"`
}

// Fit is the stored state of a fit job.
type Fit struct {
	ID         string       `json:"id"`
	Status     FitStatus    `json:"status"`
	Request    FitRequest   `json:"request"`
	Mean       []float64    `json:"mean,omitempty"`   // posterior means (w, b)
	StdDev     []float64    `json:"stddev,omitempty"` // posterior std devs (w, b)
	ExactMean  []float64    `json:"exact_mean,omitempty"`
	FinalLoss  float64      `json:"final_loss"`
	FinalELBO  float64      `json:"final_elbo"`
	Iterations int          `json:"iterations"`
	Trace      []Checkpoint `json:"trace,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  time.Time    `json:"started_at,omitzero"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (f Fit) Clone() Fit {
	out := f
	out.Mean = append([]float64(nil), f.Mean...)
	out.StdDev = append([]float64(nil), f.StdDev...)
	out.ExactMean = append([]float64(nil), f.ExactMean...)
	out.Request.Points = append([][2]float64(nil), f.Request.Points...)
	if f.Request.Toy != nil {
		toy := *f.Request.Toy
		out.Request.Toy = &toy
	}
	if f.Trace != nil {
		out.Trace = make([]Checkpoint, len(f.Trace))
		for i, c := range f.Trace {
			c.Mean = append([]float64(nil), c.Mean...)
			c.StdDev = append([]float64(nil), c.StdDev...)
			out.Trace[i] = c
		}
	}
	return out
}
