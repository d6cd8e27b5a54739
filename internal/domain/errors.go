package domain

import "errors"

var (
	ErrNotFound     = errors.New("timer not found")
	ErrForbidden    = errors.New("timer owned by another user")
	ErrInvalidState = errors.New("transition not allowed in current state")
	ErrTimeout      = errors.New("engine did not respond in time")
	ErrPersistence  = errors.New("persistence failure")

	// ErrVersionConflict is returned by repositories when a compare-and-swap
	// update loses to a concurrent writer. Services resolve it by re-reading.
	ErrVersionConflict = errors.New("timer version conflict")
)
