package novel

import "errors"

// Sentinel errors shared across store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate indicates a create collided with an existing record.
	ErrDuplicate = errors.New("record already exists")
	// ErrNotConfigured indicates a collaborator was constructed without the
	// configuration it needs; callers surface this as a 5xx, not a task failure.
	ErrNotConfigured = errors.New("store not configured")
	// ErrTerminalStatus indicates an attempt to change a queue row that has
	// already reached imported or failed.
	ErrTerminalStatus = errors.New("queue row already in terminal status")
)
