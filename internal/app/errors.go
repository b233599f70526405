package service

import (
	"errors"

	"github.com/okian/mfvi/internal/adapters/repository"
	"github.com/okian/mfvi/internal/domain/fitting"
)

// Sentinel error kinds returned by Service.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrBackpressure = errors.New("fit queue is full")
	ErrNotReady     = errors.New("fit has not succeeded")

	ErrInvalidRequest = fitting.ErrInvalidRequest
	ErrNotFound       = repository.ErrNotFound
	ErrInvalidLimit   = repository.ErrInvalidLimit
)
