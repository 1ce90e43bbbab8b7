package engine

import (
	"context"
	"time"

	"gatebot/internal/clock"
	"gatebot/internal/schedule"
)

// Status is a task's state-machine position. StatusDeleted is only ever
// reported to callers; deleted tasks leave the registry.
type Status string

const (
	StatusPendingApproval     Status = "pending_approval"
	StatusActive              Status = "active"
	StatusPendingCancellation Status = "pending_cancellation"
	StatusDeleted             Status = "deleted"
)

// Task is a registry entry. All fields are guarded by Engine.mu.
//
// Invariants (checked by tests):
//   - correlation is set iff status is pending_approval or pending_cancellation
//   - timer is set iff status is active or pending_cancellation
//   - running only while status is active or pending_cancellation
//   - at most one timer and one timeout live at any instant
type Task struct {
	ID        string
	Channel   string
	Payload   string
	Schedule  schedule.Spec
	Status    Status
	Running   bool
	NextRun   time.Time
	CreatedAt time.Time

	// Actor that registered the task; their signals never resolve its prompts.
	Origin int64

	correlation string
	timer       clock.Timer
	timeout     clock.Timer

	// cronMark is the last cron-check instant; occurrences between marks fire.
	cronMark time.Time
}

// Signal is an inbound approval event from the notifier: a reaction on a
// posted prompt, correlated by channel plus handle.
type Signal struct {
	Channel     string
	Correlation string
	Actor       int64
	Approve     bool
}

// Notifier is the engine-facing side of the chat platform. Post returns the
// correlation handle for the prompt it posted; Notify is best-effort and the
// engine ignores its failures.
type Notifier interface {
	Post(ctx context.Context, channel, text string) (string, error)
	Notify(channel, text string)
}

// ActionFunc is the continuation of an approval-gated one-shot operation.
type ActionFunc func(ctx context.Context) error

type RegisterRequest struct {
	Channel string
	Kind    schedule.Kind
	Value   string
	Payload string
	Actor   int64
}

type TaskSummary struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Status    Status    `json:"status"`
	Kind      string    `json:"kind"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run,omitzero"`
	Running   bool      `json:"running"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskEvent is the bus payload for task lifecycle events.
type TaskEvent struct {
	ID      string
	Channel string
	Detail  string
}
