package engine

import (
	"fmt"

	"gatebot/internal/agent"
	"gatebot/internal/eventbus"
	"gatebot/internal/schedule"
	"gatebot/pkg/logx"
)

// execute is the execution guard's entry point for one tick. It claims the
// task's run flag synchronously: if a previous run is still in flight the
// tick is skipped outright (logged, never queued), otherwise the invocation
// proceeds on its own goroutine.
func (e *Engine) execute(id string) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil || !fireable(t.Status) {
		e.mu.Unlock()
		return
	}
	if t.Running {
		channel := t.Channel
		e.mu.Unlock()
		e.log.Info("tick skipped (previous run still in flight)", logx.String("task", id))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{
				Type: "task.skipped",
				Time: e.clk.Now(),
				Data: TaskEvent{ID: id, Channel: channel, Detail: "overlap"},
			})
		}
		return
	}
	t.Running = true
	channel, payload := t.Channel, t.Payload
	once := t.Schedule.Kind == schedule.KindOnce
	e.mu.Unlock()

	e.runWG.Add(1)
	go e.run(id, channel, payload, once)
}

// run invokes the agent runtime under the channel lock. Cleanup always
// releases the lock and clears the run flag, even when the task was deleted
// mid-execution (self-cancellation) or the agent failed.
func (e *Engine) run(id, channel, payload string, once bool) {
	defer e.runWG.Done()

	release, err := e.locks.Acquire(e.runCtx, channel)
	if err != nil {
		// Shutdown while queued on the lock; the tick is forfeited.
		e.clearRunning(id)
		return
	}

	defer func() {
		release()
		e.clearRunning(id)
	}()

	res, err := e.agent.Invoke(e.runCtx, agent.Invocation{TaskID: id, Channel: channel, Payload: payload})
	if err != nil {
		e.log.Warn("execution failed", logx.String("task", id), logx.Err(err))
		e.audit(channel, "run_failed", id, 0, err.Error())
		e.notify(channel, fmt.Sprintf("Task %s failed: %v", shortID(id), err))
	} else {
		e.audit(channel, "run_ok", id, 0, res.Summary)
	}

	// A once task's single attempt is consumed regardless of outcome; retire
	// it unless something else (self-cancel, confirmed cancel) got there
	// first.
	if once {
		e.retireOnce(id, channel)
	}
}

func (e *Engine) clearRunning(id string) {
	e.mu.Lock()
	if t := e.tasks[id]; t != nil {
		t.Running = false
	}
	e.mu.Unlock()
}

func (e *Engine) retireOnce(id, channel string) {
	e.mu.Lock()
	t := e.tasks[id]
	if t == nil {
		e.mu.Unlock()
		return
	}
	e.disarmLocked(t)
	e.removePendingForTaskLocked(id)
	delete(e.tasks, id)
	e.mu.Unlock()

	e.audit(channel, "completed", id, 0, "one-shot retired after its single attempt")
	e.notify(channel, fmt.Sprintf("One-shot task %s completed and was removed.", shortID(id)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
