package dataset

import "errors"

// Sentinel kinds for dataset errors.
var (
	ErrEmpty          = errors.New("dataset is empty")
	ErrInvalidOptions = errors.New("invalid dataset options")
)
