package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"gatebot/internal/schedule"
	"gatebot/pkg/logx"
)

func newID() string { return uuid.NewString() }

// RegisterTask validates the schedule, creates the task in pending_approval,
// and posts the activation prompt. The task starts running only after someone
// other than the registrant approves it.
func (e *Engine) RegisterTask(ctx context.Context, req RegisterRequest) (TaskSummary, error) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	spec, err := schedule.Normalize(req.Kind, req.Value, schedule.Options{
		MinInterval: cfg.MinInterval,
		MinDelay:    cfg.MinDelay,
		Location:    e.loc,
		Now:         e.clk.Now,
	})
	if err != nil {
		return TaskSummary{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return TaskSummary{}, ErrClosed
	}
	if e.countLocked(req.Channel) >= cfg.MaxPerChannel {
		e.mu.Unlock()
		return TaskSummary{}, ErrCapacity
	}
	t := &Task{
		ID:        newID(),
		Channel:   req.Channel,
		Payload:   req.Payload,
		Schedule:  spec,
		Status:    StatusPendingApproval,
		CreatedAt: e.clk.Now(),
		Origin:    req.Actor,
	}
	e.tasks[t.ID] = t
	e.mu.Unlock()

	p := &pending{
		kind:      pendingActivate,
		channel:   t.Channel,
		taskID:    t.ID,
		origin:    req.Actor,
		onApprove: func(actor int64) { e.activate(t.ID, actor) },
		onReject:  func(actor int64, expired bool) { e.discardUnapproved(t.ID, actor, expired) },
	}
	if _, err := e.beginApproval(ctx, p, activationPrompt(t, cfg)); err != nil {
		e.mu.Lock()
		delete(e.tasks, t.ID)
		e.mu.Unlock()
		return TaskSummary{}, err
	}

	e.mu.Lock()
	summary := summarize(t)
	e.mu.Unlock()

	e.audit(t.Channel, "registered", t.ID, req.Actor, spec.Describe())
	return summary, nil
}

// activate is the approve continuation of registration.
func (e *Engine) activate(id string, actor int64) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || t.Status != StatusPendingApproval {
		e.mu.Unlock()
		return
	}
	t.Status = StatusActive
	t.correlation = ""
	e.armLocked(t)
	next := t.NextRun
	channel := t.Channel
	desc := t.Schedule.Describe()
	e.mu.Unlock()

	e.log.Info("task activated", logx.String("task", id), logx.Int64("approver", actor))
	e.audit(channel, "approved", id, actor, desc)

	msg := fmt.Sprintf("Task %s approved (%s).", shortID(id), desc)
	if !next.IsZero() {
		msg += " Next run " + next.UTC().Format("2006-01-02 15:04:05 MST") + "."
	}
	e.notify(channel, msg)
}

// discardUnapproved is the reject/expiry continuation of registration: the
// task never ran, so it is simply removed.
func (e *Engine) discardUnapproved(id string, actor int64, expired bool) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || t.Status != StatusPendingApproval {
		e.mu.Unlock()
		return
	}
	e.disarmLocked(t)
	delete(e.tasks, id)
	channel := t.Channel
	e.mu.Unlock()

	kind, msg := "rejected", fmt.Sprintf("Task %s rejected and removed.", shortID(id))
	if expired {
		kind, msg = "expired", fmt.Sprintf("Task %s expired without approval and was removed.", shortID(id))
	}
	e.audit(channel, kind, id, actor, "")
	e.notify(channel, msg)
}

// RequestCancellation starts removing a task. Unapproved tasks are deleted
// immediately; active tasks transition to pending_cancellation behind a
// confirmation prompt and keep firing until it is confirmed.
func (e *Engine) RequestCancellation(ctx context.Context, taskID string, actor int64) (Status, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	t := e.tasks[taskID]
	if t == nil {
		e.mu.Unlock()
		return "", ErrNotFound
	}
	cfg := e.cfg

	switch t.Status {
	case StatusPendingApproval:
		// Not yet approved: nothing is armed beyond its approval timeout.
		e.removePendingForTaskLocked(taskID)
		e.disarmLocked(t)
		delete(e.tasks, taskID)
		channel := t.Channel
		e.mu.Unlock()

		e.audit(channel, "cancelled", taskID, actor, "removed before approval")
		e.notify(channel, fmt.Sprintf("Task %s removed (was awaiting approval).", shortID(taskID)))
		return StatusDeleted, nil

	case StatusPendingCancellation:
		e.mu.Unlock()
		return "", ErrAlreadyPending

	case StatusActive:
		t.Status = StatusPendingCancellation
		channel := t.Channel
		desc := t.Schedule.Describe()
		e.mu.Unlock()

		p := &pending{
			kind:      pendingCancel,
			channel:   channel,
			taskID:    taskID,
			origin:    actor,
			onApprove: func(approver int64) { e.confirmCancel(taskID, approver) },
			onReject:  func(rejecter int64, expired bool) { e.rescindCancel(taskID, rejecter, expired) },
		}
		prompt := fmt.Sprintf("Cancel task %s (%s)?\nApprove or reject within %s.",
			shortID(taskID), desc, cfg.ApprovalTimeout)
		if _, err := e.beginApproval(ctx, p, prompt); err != nil {
			e.mu.Lock()
			if cur := e.tasks[taskID]; cur != nil && cur.Status == StatusPendingCancellation {
				cur.Status = StatusActive
			}
			e.mu.Unlock()
			return "", err
		}

		e.audit(channel, "cancel_requested", taskID, actor, "")
		return StatusPendingCancellation, nil
	}

	e.mu.Unlock()
	return "", ErrNotFound
}

func (e *Engine) confirmCancel(id string, actor int64) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || t.Status != StatusPendingCancellation {
		// Already gone, e.g. a self-cancellation raced the confirmation.
		e.mu.Unlock()
		return
	}
	e.disarmLocked(t)
	delete(e.tasks, id)
	channel := t.Channel
	e.mu.Unlock()

	e.audit(channel, "cancel_confirmed", id, actor, "")
	e.notify(channel, fmt.Sprintf("Task %s cancelled.", shortID(id)))
}

func (e *Engine) rescindCancel(id string, actor int64, expired bool) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || t.Status != StatusPendingCancellation {
		e.mu.Unlock()
		return
	}
	t.Status = StatusActive
	t.correlation = ""
	channel := t.Channel
	e.mu.Unlock()

	kind, msg := "cancel_rejected", fmt.Sprintf("Cancellation of task %s rejected; it stays active.", shortID(id))
	if expired {
		kind, msg = "cancel_expired", fmt.Sprintf("Cancellation of task %s expired; it stays active.", shortID(id))
	}
	e.audit(channel, kind, id, actor, "")
	e.notify(channel, msg)
}

// SelfCancel removes a task from inside its own execution, no approval
// required. Idempotent: cancelling an already-removed task is a no-op.
func (e *Engine) SelfCancel(taskID, reason string) Status {
	e.mu.Lock()
	t := e.tasks[taskID]
	if t == nil {
		e.mu.Unlock()
		return StatusDeleted
	}
	e.disarmLocked(t)
	e.removePendingForTaskLocked(taskID)
	delete(e.tasks, taskID)
	channel := t.Channel
	e.mu.Unlock()

	e.audit(channel, "self_cancelled", taskID, 0, reason)
	msg := fmt.Sprintf("Task %s cancelled itself.", shortID(taskID))
	if reason != "" {
		msg = fmt.Sprintf("Task %s cancelled itself: %s", shortID(taskID), reason)
	}
	e.notify(channel, msg)
	return StatusDeleted
}

// ListTasks returns the channel's tasks ordered by creation time. An empty
// channel lists everything.
func (e *Engine) ListTasks(channel string) []TaskSummary {
	e.mu.Lock()
	out := make([]TaskSummary, 0, len(e.tasks))
	for _, t := range e.tasks {
		if channel != "" && t.Channel != channel {
			continue
		}
		out = append(out, summarize(t))
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetTask returns one task's summary.
func (e *Engine) GetTask(taskID string) (TaskSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tasks[taskID]
	if t == nil {
		return TaskSummary{}, ErrNotFound
	}
	return summarize(t), nil
}

func (e *Engine) countLocked(channel string) int {
	n := 0
	for _, t := range e.tasks {
		if t.Channel == channel {
			n++
		}
	}
	return n
}

func summarize(t *Task) TaskSummary {
	return TaskSummary{
		ID:        t.ID,
		Channel:   t.Channel,
		Status:    t.Status,
		Kind:      string(t.Schedule.Kind),
		Schedule:  t.Schedule.Describe(),
		NextRun:   t.NextRun,
		Running:   t.Running,
		CreatedAt: t.CreatedAt,
	}
}

func activationPrompt(t *Task, cfg Config) string {
	payload := t.Payload
	if len(payload) > 200 {
		payload = payload[:200] + "…"
	}
	return fmt.Sprintf("New task %s: %s\nPayload: %s\nApprove or reject within %s.",
		shortID(t.ID), t.Schedule.Describe(), payload, cfg.ApprovalTimeout)
}
