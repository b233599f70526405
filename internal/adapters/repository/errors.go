package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("fit not found")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrInvalidFit   = errors.New("invalid fit")
)
