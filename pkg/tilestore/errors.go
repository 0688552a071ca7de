package tilestore

import "errors"

var (
	// ErrAreaNotFound is returned when the requested area does not exist.
	ErrAreaNotFound = errors.New("area not found")

	// ErrStorageFailure is returned when a database operation fails.
	ErrStorageFailure = errors.New("storage failure")
)
