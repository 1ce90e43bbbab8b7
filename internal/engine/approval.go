package engine

import (
	"context"
	"fmt"

	"gatebot/internal/agent"
	"gatebot/internal/clock"
	"gatebot/pkg/logx"
)

// pendingKind discriminates the three approval flows sharing one protocol.
type pendingKind string

const (
	pendingActivate pendingKind = "activate"
	pendingCancel   pendingKind = "cancel"
	pendingAction   pendingKind = "action"
)

// pending is one outstanding approvable: a posted prompt waiting for a
// correlated approve/reject signal or its timeout. The protocol is identical
// across kinds; only the continuations differ.
type pending struct {
	kind        pendingKind
	channel     string
	correlation string
	taskID      string
	origin      int64

	onApprove func(actor int64)
	onReject  func(actor int64, expired bool)

	timeout clock.Timer
}

func pendingKey(channel, correlation string) string {
	return channel + "\x00" + correlation
}

// beginApproval posts the prompt, registers the pending item under the
// returned correlation handle, and arms the expiry timeout. Caller must not
// hold e.mu (posting suspends).
func (e *Engine) beginApproval(ctx context.Context, p *pending, prompt string) (string, error) {
	handle, err := e.notifier.Post(ctx, p.channel, prompt)
	if err != nil {
		return "", fmt.Errorf("posting approval prompt: %w", err)
	}
	p.correlation = handle
	key := pendingKey(p.channel, handle)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.pendings[key] = p
	// The task's correlation is written here, atomically with the pending
	// entry, so a signal resolving the prompt can never observe a task whose
	// correlation lags behind (or outlives) its pending state.
	if t := e.tasks[p.taskID]; t != nil &&
		(t.Status == StatusPendingApproval || t.Status == StatusPendingCancellation) {
		t.correlation = handle
	}
	p.timeout = e.clk.AfterFunc(e.cfg.ApprovalTimeout, func() { e.expirePending(key) })
	e.mu.Unlock()
	return handle, nil
}

// HandleSignal feeds one inbound approve/reject event into the coordinator.
// It reports whether the signal resolved a pending item. Unknown correlations
// (late or duplicate signals) and self-approvals are logged and ignored.
func (e *Engine) HandleSignal(ctx context.Context, sig Signal) bool {
	_ = ctx
	key := pendingKey(sig.Channel, sig.Correlation)

	e.mu.Lock()
	p := e.pendings[key]
	if p == nil {
		e.mu.Unlock()
		e.log.Debug("signal without pending item (late or duplicate)",
			logx.String("channel", sig.Channel),
			logx.String("correlation", sig.Correlation))
		return false
	}
	if p.origin != 0 && sig.Actor == p.origin {
		e.mu.Unlock()
		e.log.Info("self-approval ignored",
			logx.String("channel", sig.Channel),
			logx.Int64("actor", sig.Actor),
			logx.String("kind", string(p.kind)))
		return false
	}
	delete(e.pendings, key)
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
	e.mu.Unlock()

	if sig.Approve {
		p.onApprove(sig.Actor)
	} else {
		p.onReject(sig.Actor, false)
	}
	return true
}

// expirePending is the timeout path. If the item already resolved the entry
// is gone and this is a no-op.
func (e *Engine) expirePending(key string) {
	e.mu.Lock()
	p := e.pendings[key]
	if p == nil {
		e.mu.Unlock()
		return
	}
	delete(e.pendings, key)
	p.timeout = nil
	e.mu.Unlock()

	e.log.Info("approval expired",
		logx.String("channel", p.channel),
		logx.String("kind", string(p.kind)),
		logx.String("task", p.taskID))
	p.onReject(0, true)
}

// removePendingForTaskLocked drops any outstanding pending tied to taskID,
// disarming its timeout. Call with e.mu held.
func (e *Engine) removePendingForTaskLocked(taskID string) {
	for key, p := range e.pendings {
		if p.taskID != taskID {
			continue
		}
		if p.timeout != nil {
			p.timeout.Stop()
			p.timeout = nil
		}
		delete(e.pendings, key)
	}
}

// RequestAction runs the approval protocol for a one-shot privileged
// operation: same prompt/timeout/signal flow as task activation, but the
// approve continuation executes fn under the channel lock instead of arming a
// schedule. Returns the action id.
func (e *Engine) RequestAction(ctx context.Context, channel string, actor int64, label string, fn ActionFunc) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.mu.Unlock()

	id := newID()
	p := &pending{
		kind:    pendingAction,
		channel: channel,
		taskID:  id,
		origin:  actor,
		onApprove: func(approver int64) {
			e.audit(channel, "action_approved", id, approver, label)
			e.runWG.Add(1)
			go e.runAction(channel, id, label, fn)
		},
		onReject: func(rejecter int64, expired bool) {
			kind := "action_rejected"
			msg := fmt.Sprintf("Action %q rejected.", label)
			if expired {
				kind = "action_expired"
				msg = fmt.Sprintf("Action %q expired without approval.", label)
			}
			e.audit(channel, kind, id, rejecter, label)
			e.notify(channel, msg)
		},
	}

	prompt := fmt.Sprintf("Approval required: %s\nApprove or reject within %s.", label, e.cfg.ApprovalTimeout)
	if _, err := e.beginApproval(ctx, p, prompt); err != nil {
		return "", err
	}
	e.audit(channel, "action_requested", id, actor, label)
	return id, nil
}

// RequestImmediate runs the approval protocol for a one-off agent invocation:
// once approved, the payload goes to the agent runtime exactly as a scheduled
// tick would, serialized on the same channel lock.
func (e *Engine) RequestImmediate(ctx context.Context, channel string, actor int64, payload string) (string, error) {
	label := payload
	if len(label) > 80 {
		label = label[:80] + "…"
	}
	return e.RequestAction(ctx, channel, actor, label, func(runCtx context.Context) error {
		_, err := e.agent.Invoke(runCtx, agent.Invocation{Channel: channel, Payload: payload})
		return err
	})
}

// runAction executes an approved one-shot operation serialized on the channel
// lock, like any scheduled execution on that channel.
func (e *Engine) runAction(channel, id, label string, fn ActionFunc) {
	defer e.runWG.Done()

	release, err := e.locks.Acquire(e.runCtx, channel)
	if err != nil {
		e.log.Warn("action abandoned (shutdown)", logx.String("action", id))
		return
	}
	defer release()

	if err := fn(e.runCtx); err != nil {
		e.log.Warn("action failed", logx.String("action", id), logx.Err(err))
		e.audit(channel, "action_failed", id, 0, err.Error())
		e.notify(channel, fmt.Sprintf("Action %q failed: %v", label, err))
		return
	}
	e.audit(channel, "action_ok", id, 0, label)
	e.notify(channel, fmt.Sprintf("Action %q completed.", label))
}
