package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")

	// ErrResolution is the parent of every per-identifier record lookup failure.
	ErrResolution     = errors.New("record resolution failed")
	ErrRecordNotFound = fmt.Errorf("%w: %w", ErrResolution, ErrNotFound)
	ErrAmbiguous      = fmt.Errorf("%w: ambiguous result", ErrResolution)

	// ErrSearchUnavailable means the search collaborator itself could not answer.
	ErrSearchUnavailable = errors.New("search service unavailable")

	ErrInvalidTransition = errors.New("invalid outcome transition")
)
