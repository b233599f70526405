// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults come from New; Load layers a YAML file and env vars on top.
// - Errors returned from Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"fmt"
	"math"
	"runtime"

	"github.com/okian/mfvi/internal/domain/dataset"
	"github.com/okian/mfvi/internal/domain/fitting"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory fit job queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of fit workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the request-id idempotency cache.
	DedupeSize int `koanf:"dedupe_size"`
	// MaxListLimit caps GET /leaderboard?limit.
	MaxListLimit int `koanf:"max_list_limit"`

	// DBPath, when set, persists fits to a SQLite database at this path.
	DBPath string `koanf:"db_path"`

	// Model variances.
	LikVariance   float64 `koanf:"lik_variance"`
	PriorVariance float64 `koanf:"prior_variance"`

	// Inference run defaults.
	NIter        int     `koanf:"n_iter"`
	NMinibatch   int     `koanf:"n_minibatch"`
	NPrint       int     `koanf:"n_print"`
	NData        int     `koanf:"n_data"`
	LearningRate float64 `koanf:"learning_rate"`
	DecaySteps   int     `koanf:"decay_steps"`
	DecayRate    float64 `koanf:"decay_rate"`
	Estimator    string  `koanf:"estimator"`
	Seed         uint64  `koanf:"seed"`

	// Toy data defaults.
	ToyNData    int     `koanf:"toy_n_data"`
	ToyNoiseStd float64 `koanf:"toy_noise_std"`
	ToySeed     uint64  `koanf:"toy_seed"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Addr:          ":9080",
		QueueSize:     1_000,
		WorkerCount:   runtime.NumCPU(),
		DedupeSize:    10_000,
		MaxListLimit:  100,
		LikVariance:   0.01,
		PriorVariance: 0.01,
		NIter:         250,
		NMinibatch:    5,
		NPrint:        10,
		LearningRate:  0.1,
		DecaySteps:    100,
		DecayRate:     0.9,
		Estimator:     "reparam",
		Seed:          42,
		ToyNData:      40,
		ToyNoiseStd:   0.1,
	}
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !positive(c.LikVariance):
		return fmt.Errorf("%w: lik_variance must be > 0 (got %v)", ErrInvalidConfig, c.LikVariance)
	case !positive(c.PriorVariance):
		return fmt.Errorf("%w: prior_variance must be > 0 (got %v)", ErrInvalidConfig, c.PriorVariance)
	case c.NIter <= 0:
		return fmt.Errorf("%w: n_iter must be > 0 (got %d)", ErrInvalidConfig, c.NIter)
	case c.NMinibatch <= 0:
		return fmt.Errorf("%w: n_minibatch must be > 0 (got %d)", ErrInvalidConfig, c.NMinibatch)
	case c.MaxListLimit <= 0:
		return fmt.Errorf("%w: max_list_limit must be > 0 (got %d)", ErrInvalidConfig, c.MaxListLimit)
	}
	// The fit defaults must run on their own, otherwise every submission
	// is accepted and then fails in a worker.
	if err := c.FitDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// FitDefaults returns the values used for unset fit request fields.
func (c *Config) FitDefaults() fitting.Defaults {
	return fitting.Defaults{
		LikVariance:   c.LikVariance,
		PriorVariance: c.PriorVariance,
		NIter:         c.NIter,
		NMinibatch:    c.NMinibatch,
		NPrint:        c.NPrint,
		NData:         c.NData,
		LearningRate:  c.LearningRate,
		DecaySteps:    c.DecaySteps,
		DecayRate:     c.DecayRate,
		Estimator:     c.Estimator,
		Seed:          c.Seed,
		Toy: dataset.ToyOptions{
			NData:    c.ToyNData,
			NoiseStd: c.ToyNoiseStd,
			Seed:     c.ToySeed,
		},
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
