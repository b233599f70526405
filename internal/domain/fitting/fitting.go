// Package fitting turns a fit request into a finished inference run.
//
// It owns default resolution, request validation and the assembly of the
// linear model, data set and variational family handed to the MFVI engine.
package fitting

import (
	"context"
	"fmt"

	"github.com/okian/mfvi/internal/domain/dataset"
	"github.com/okian/mfvi/internal/domain/inference"
	"github.com/okian/mfvi/internal/domain/linear"
	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/internal/domain/variational"
	"github.com/okian/mfvi/pkg/logger"
)

// initSeedMix separates the initialisation stream from the sampling stream
// when both derive from one request seed.
const initSeedMix = 0x2545f4914f6cdd1d

// Defaults fills zero-valued request fields.
type Defaults struct {
	LikVariance   float64
	PriorVariance float64
	NIter         int
	NMinibatch    int
	NPrint        int
	NData         int
	LearningRate  float64
	DecaySteps    int
	DecayRate     float64
	Estimator     string
	Seed          uint64
	Toy           dataset.ToyOptions
}

// DefaultDefaults mirrors the stock script: 250 iterations, 5 samples,
// progress every 10 steps, seed 42 and the 40-point toy set.
func DefaultDefaults() Defaults {
	return Defaults{
		LikVariance:   linear.DefaultLikVariance,
		PriorVariance: linear.DefaultPriorVariance,
		NIter:         inference.DefaultNIter,
		NMinibatch:    inference.DefaultNMinibatch,
		NPrint:        inference.DefaultNPrint,
		LearningRate:  inference.DefaultLearningRate,
		DecaySteps:    inference.DefaultDecaySteps,
		DecayRate:     inference.DefaultDecayRate,
		Estimator:     string(inference.EstimatorReparam),
		Seed:          42,
		Toy:           dataset.DefaultToyOptions(),
	}
}

// Resolve returns req with every zero field taken from d. Explicit points
// take precedence over toy options.
func (d Defaults) Resolve(req model.FitRequest) model.FitRequest { //nolint:gocritic // hugeParam: request is a value type
	if req.LikVariance == 0 {
		req.LikVariance = d.LikVariance
	}
	if req.PriorVariance == 0 {
		req.PriorVariance = d.PriorVariance
	}
	if req.NIter == 0 {
		req.NIter = d.NIter
	}
	if req.NMinibatch == 0 {
		req.NMinibatch = d.NMinibatch
	}
	if req.NPrint == 0 {
		req.NPrint = d.NPrint
	}
	if req.NData == 0 {
		req.NData = d.NData
	}
	if req.Estimator == "" {
		req.Estimator = d.Estimator
	}
	if req.Seed == 0 {
		req.Seed = d.Seed
	}
	if len(req.Points) == 0 {
		toy := d.Toy
		if req.Toy != nil {
			toy = *req.Toy
			if toy.NData == 0 {
				toy.NData = d.Toy.NData
			}
			if toy.NoiseStd == 0 {
				toy.NoiseStd = d.Toy.NoiseStd
			}
			if toy.Seed == 0 {
				toy.Seed = d.Toy.Seed
			}
		}
		req.Toy = &toy
	} else {
		req.Toy = nil
	}
	return req
}

// Validate checks that the defaults alone describe a runnable fit.
func (d Defaults) Validate() error {
	_, _, err := prepare(d, d.Resolve(model.FitRequest{}))
	return err
}

// runOptions maps a resolved request onto MFVI run options.
func (d Defaults) runOptions(req model.FitRequest) inference.Options { //nolint:gocritic // hugeParam: request is a value type
	return inference.Options{
		NIter:        req.NIter,
		NMinibatch:   req.NMinibatch,
		NPrint:       req.NPrint,
		NData:        req.NData,
		LearningRate: d.LearningRate,
		DecaySteps:   d.DecaySteps,
		DecayRate:    d.DecayRate,
		Estimator:    inference.Estimator(req.Estimator),
		Seed:         req.Seed,
	}
}

// Outcome is the result of one finished run.
type Outcome struct {
	Result    inference.Result
	ExactMean []float64 // closed-form posterior mean, nil if unavailable
}

// Runner executes fit requests.
type Runner struct {
	defaults Defaults
	logger   logger.Logger
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithLogger sets a custom logger for the runner and its MFVI engines.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner with the given defaults.
func NewRunner(d Defaults, opts ...Option) *Runner {
	r := &Runner{defaults: d}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("fitting")
	}
	return r
}

// Resolve fills req from the runner defaults.
func (r *Runner) Resolve(req model.FitRequest) model.FitRequest { //nolint:gocritic // hugeParam: request is a value type
	return r.defaults.Resolve(req)
}

// Validate resolves req and checks it can be run.
func (r *Runner) Validate(req model.FitRequest) error { //nolint:gocritic // hugeParam: request is a value type
	_, _, err := prepare(r.defaults, r.Resolve(req))
	return err
}

// Run resolves and executes req. progress, if non-nil, receives every
// reported checkpoint.
func (r *Runner) Run(ctx context.Context, req model.FitRequest, progress func(model.Checkpoint)) (Outcome, error) { //nolint:gocritic // hugeParam: request is a value type
	req = r.Resolve(req)
	lm, data, err := prepare(r.defaults, req)
	if err != nil {
		return Outcome{}, err
	}

	q := variational.New(lm.NumVars(), dataset.NewSource(req.Seed^initSeedMix))
	engine := inference.New(lm, q, data, inference.WithLogger(r.logger))

	o := r.defaults.runOptions(req)
	if progress != nil {
		o.Progress = func(p inference.Progress) {
			progress(model.Checkpoint{
				Iter:         p.Iter,
				Loss:         p.Loss,
				Mean:         p.Mean,
				StdDev:       p.StdDev,
				LearningRate: p.LearningRate,
			})
		}
	}

	res, err := engine.Run(ctx, o)
	if err != nil {
		return Outcome{Result: res}, err
	}

	out := Outcome{Result: res}
	if mean, _, err := lm.ExactPosterior(data.Table()); err != nil {
		r.logger.Warn(ctx, "exact posterior unavailable", logger.Error(err))
	} else {
		out.ExactMean = mean
	}
	return out, nil
}

// prepare checks a resolved request against d and builds its model and data.
func prepare(d Defaults, req model.FitRequest) (*linear.Model, *dataset.Data, error) { //nolint:gocritic // hugeParam: request is a value type
	if req.NPrint < 0 {
		return nil, nil, fmt.Errorf("%w: n_print must be >= 0 (got %d)", ErrInvalidRequest, req.NPrint)
	}
	if req.Estimator == "" {
		return nil, nil, fmt.Errorf("%w: estimator must be set", ErrInvalidRequest)
	}
	if err := d.runOptions(req).Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	// Set directly so out-of-range values reach Validate instead of being
	// silently replaced by defaults.
	lm := linear.New()
	lm.LikVariance, lm.PriorVariance = req.LikVariance, req.PriorVariance
	if err := lm.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var (
		data *dataset.Data
		err  error
	)
	if len(req.Points) > 0 {
		data, err = dataset.FromPoints(req.Points)
	} else {
		data, err = dataset.BuildToy(*req.Toy)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return lm, data, nil
}
