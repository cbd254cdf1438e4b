package workspace

import "errors"

// Expected failure kinds. Callers match these with errors.Is.
var (
	// ErrAlreadyExists is returned when a live workspace already exists
	// for the task id.
	ErrAlreadyExists = errors.New("workspace already exists")
	// ErrCapacityExceeded is returned when the live workspace count has
	// reached the configured maximum.
	ErrCapacityExceeded = errors.New("workspace capacity exceeded")
	// ErrNotFound is returned when no live workspace exists for the task id.
	ErrNotFound = errors.New("workspace not found")
	// ErrDirty is returned when an operation refuses to touch a
	// workspace with uncommitted changes.
	ErrDirty = errors.New("workspace has uncommitted changes")
)
