package inference

import "errors"

// Sentinel kinds for inference errors.
var (
	ErrInvalidOptions = errors.New("invalid inference options")
	ErrDiverged       = errors.New("inference diverged")
	ErrDimension      = errors.New("variational family does not match model dimension")
)
