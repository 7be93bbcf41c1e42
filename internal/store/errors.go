package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a commit's slot snapshot is stale:
	// the active fact changed between read and write. Callers re-resolve
	// against fresh state with a bounded retry.
	ErrVersionConflict = errors.New("version conflict: slot changed since read")
)
