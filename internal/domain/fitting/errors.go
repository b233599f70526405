package fitting

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidRequest = errors.New("invalid fit request")
)
