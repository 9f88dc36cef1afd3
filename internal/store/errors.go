package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLockHeld is returned when a lease is owned by another holder.
	ErrLockHeld = errors.New("lock held by another holder")
)
