package linear

import "errors"

// Sentinel kinds for model errors.
var (
	ErrInvalidVariance   = errors.New("variance must be finite and positive")
	ErrSingularPosterior = errors.New("posterior precision is not positive definite")
)
