// Package agent defines the Agent Runtime consumed by the engine: an opaque,
// possibly long-running call that performs a task's actual work.
package agent

import "context"

type Invocation struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

type Result struct {
	Summary string `json:"summary"`
}

// Runtime performs a task's work. Invoke may take arbitrarily long; the engine
// imposes no timeout of its own (any deadline is the runtime's business).
// An error means "this tick failed", never "deregister the task".
type Runtime interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}
