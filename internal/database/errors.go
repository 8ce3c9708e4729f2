package database

import "errors"

var (
	// ErrStorageUnavailable means the host denied us persistent storage
	// (unwritable path, locked file). The caller cannot queue anything.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageWrite means a write that should have been durable failed.
	// Never swallowed: a lost mutation must be reported, not dropped.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrNotFound is returned by reads for absent records.
	ErrNotFound = errors.New("record not found")
)
