package analysis

import "errors"

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("analysis not found")

	// ErrDuplicateID is returned when creating a record whose id is
	// already taken. Identifiers are never reused.
	ErrDuplicateID = errors.New("analysis id already exists")

	// ErrAlreadyCompleted is returned when an execution attempt tries to
	// claim a record that has already reached COMPLETED. Redelivered queue
	// messages hit this guard and must treat it as a no-op.
	ErrAlreadyCompleted = errors.New("analysis already completed")
)
