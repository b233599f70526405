package inference

import (
	"fmt"
	"math"

	"github.com/okian/mfvi/pkg/logger"
)

// Default run configuration constants.
const (
	DefaultNIter        = 250
	DefaultNMinibatch   = 5
	DefaultNPrint       = 10
	DefaultLearningRate = 0.1
	DefaultDecaySteps   = 100
	DefaultDecayRate    = 0.9
)

// Estimator selects how the ELBO gradient is estimated.
type Estimator string

// Supported estimators.
const (
	// EstimatorReparam differentiates through z = mu + sigma*eps. It needs
	// a model that exposes Gradient.
	EstimatorReparam Estimator = "reparam"
	// EstimatorScore uses the score-function (REINFORCE) identity and only
	// needs LogProb.
	EstimatorScore Estimator = "score"
)

// Options configures a single Run.
type Options struct {
	// NIter is the number of optimisation steps.
	NIter int
	// NMinibatch is the number of latent samples drawn per step.
	NMinibatch int
	// NPrint controls how often progress is logged and reported.
	NPrint int
	// NData is the number of data rows per step; 0 uses every row.
	NData int

	LearningRate float64
	DecaySteps   int
	DecayRate    float64

	Estimator Estimator
	Seed      uint64

	// Progress, if set, receives every reported checkpoint.
	Progress func(Progress)
}

// DefaultOptions returns the stock run configuration.
func DefaultOptions() Options {
	return Options{
		NIter:        DefaultNIter,
		NMinibatch:   DefaultNMinibatch,
		NPrint:       DefaultNPrint,
		LearningRate: DefaultLearningRate,
		DecaySteps:   DefaultDecaySteps,
		DecayRate:    DefaultDecayRate,
		Estimator:    EstimatorReparam,
	}
}

// Validate reports the first out-of-range option.
func (o Options) Validate() error {
	switch {
	case o.NIter <= 0:
		return fmt.Errorf("%w: n_iter must be > 0 (got %d)", ErrInvalidOptions, o.NIter)
	case o.NMinibatch <= 0:
		return fmt.Errorf("%w: n_minibatch must be > 0 (got %d)", ErrInvalidOptions, o.NMinibatch)
	case o.NData < 0:
		return fmt.Errorf("%w: n_data must be >= 0 (got %d)", ErrInvalidOptions, o.NData)
	case o.LearningRate <= 0 || math.IsNaN(o.LearningRate) || math.IsInf(o.LearningRate, 0):
		return fmt.Errorf("%w: learning_rate must be > 0 (got %v)", ErrInvalidOptions, o.LearningRate)
	case o.DecaySteps < 0:
		return fmt.Errorf("%w: decay_steps must be >= 0 (got %d)", ErrInvalidOptions, o.DecaySteps)
	case o.DecayRate < 0 || o.DecayRate > 1 || math.IsNaN(o.DecayRate):
		return fmt.Errorf("%w: decay_rate must be in [0, 1] (got %v)", ErrInvalidOptions, o.DecayRate)
	}
	switch o.Estimator {
	case "", EstimatorReparam, EstimatorScore:
	default:
		return fmt.Errorf("%w: unknown estimator %q", ErrInvalidOptions, o.Estimator)
	}
	return nil
}

// Option applies a configuration option to the MFVI engine.
type Option func(*MFVI)

// WithLogger sets a custom logger for progress output.
func WithLogger(l logger.Logger) Option {
	return func(v *MFVI) {
		if l != nil {
			v.logger = l
		}
	}
}
