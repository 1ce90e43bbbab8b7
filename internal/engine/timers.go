package engine

import (
	"time"

	"gatebot/internal/schedule"
	"gatebot/pkg/logx"
)

// armLocked arms the single timer for a task entering active state, per
// schedule kind, and projects NextRun. Call with e.mu held.
func (e *Engine) armLocked(t *Task) {
	id := t.ID
	now := e.clk.Now()
	switch t.Schedule.Kind {
	case schedule.KindInterval:
		t.NextRun = now.Add(t.Schedule.Every)
		t.timer = e.clk.AfterFunc(t.Schedule.Every, func() { e.onIntervalTick(id) })
	case schedule.KindCron:
		t.cronMark = now
		t.NextRun = t.Schedule.Next(now)
		t.timer = e.clk.AfterFunc(e.cfg.CronCheckPeriod, func() { e.onCronTick(id) })
	case schedule.KindOnce:
		delay := t.Schedule.At.Sub(now)
		if delay < 0 {
			// Already past due: fire on the next tick, never synchronously,
			// so the approval path returns before execution begins.
			delay = 0
		}
		t.NextRun = t.Schedule.At
		t.timer = e.clk.AfterFunc(delay, func() { e.onOnceTick(id) })
	}
}

// disarmLocked cancels whichever timer and timeout are live. The disarm path
// is shared across kinds and deletion/shutdown; it never assumes which timer
// kind is armed. Call with e.mu held.
func (e *Engine) disarmLocked(t *Task) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.timeout != nil {
		t.timeout.Stop()
		t.timeout = nil
	}
}

// fireable reports whether a tick may invoke execution for this status.
// Cancellation-pending tasks keep firing until the cancellation is confirmed.
func fireable(s Status) bool {
	return s == StatusActive || s == StatusPendingCancellation
}

func (e *Engine) onIntervalTick(id string) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || !fireable(t.Status) {
		e.mu.Unlock()
		return
	}
	// Re-arm first so a slow execution never stalls the cadence.
	t.NextRun = e.clk.Now().Add(t.Schedule.Every)
	t.timer = e.clk.AfterFunc(t.Schedule.Every, func() { e.onIntervalTick(id) })
	e.mu.Unlock()

	e.execute(id)
}

// onCronTick runs the fixed-period cron check: fire when an occurrence has
// passed since the previous check. Tracking the check mark (instead of
// window proximity) rules out both double fires and skipped fires across
// jittery wakeups.
func (e *Engine) onCronTick(id string) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || !fireable(t.Status) {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	t.timer = e.clk.AfterFunc(e.cfg.CronCheckPeriod, func() { e.onCronTick(id) })

	occ := t.Schedule.Next(t.cronMark)
	t.cronMark = now
	fire := false
	switch {
	case occ.IsZero():
		// Unparseable expression at check time; unreachable past the
		// normalizer, but it must not take the runtime down.
		e.log.Warn("cron projection failed; skipping check",
			logx.String("task", id), logx.String("expr", t.Schedule.Expr))
		t.NextRun = time.Time{}
	case !occ.After(now):
		fire = true
		t.NextRun = t.Schedule.Next(now)
	default:
		t.NextRun = occ
	}
	e.mu.Unlock()

	if fire {
		e.execute(id)
	}
}

func (e *Engine) onOnceTick(id string) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || !fireable(t.Status) {
		e.mu.Unlock()
		return
	}
	t.timer = nil // fired; retirement happens after the execution attempt
	t.NextRun = time.Time{}
	e.mu.Unlock()

	e.execute(id)
}
