package engine

import "errors"

var (
	// ErrNotFound means the task id matches no registered task.
	ErrNotFound = errors.New("task not found")
	// ErrAlreadyPending means a cancellation prompt is already outstanding.
	ErrAlreadyPending = errors.New("cancellation already pending")
	// ErrCapacity means the per-channel registration limit is reached.
	ErrCapacity = errors.New("channel task limit reached")
	// ErrClosed means the engine has been shut down.
	ErrClosed = errors.New("engine is shut down")
)
