package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert hits a unique index. Callers
	// treat it as "already processed" and fetch the original document
	// instead of erroring.
	ErrDuplicate = errors.New("duplicate")
)
