package store

import "errors"

var (
	// ErrUnavailable means the host has no usable persistent storage.
	// Fatal to the whole data layer; surfaced once at startup.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrWriteFailed means a single storage operation failed (quota,
	// corruption, constraint). The transaction it belonged to was
	// rolled back; nothing was partially applied.
	ErrWriteFailed = errors.New("storage write failed")

	// ErrNotFound means no record exists at the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownCollection means the collection name is not registered.
	ErrUnknownCollection = errors.New("unknown collection")
)
