package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gatebot/internal/engine"
	"gatebot/internal/schedule"
	"gatebot/internal/transport"
	"gatebot/pkg/logx"
)

const helpText = `Commands:
/schedule cron <5-field expr> | <payload>
/schedule interval <5m|90s|1h30m|ms> | <payload>
/schedule once <in 10m | 2026-01-02 15:04 | RFC3339> | <payload>
/tasks — list this channel's tasks
/cancel <task id or prefix> — request cancellation
/runnow <payload> — run once now, after approval
/help — this text

Every new task needs approval from someone other than its creator.`

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	target := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	channel := ChannelID(target)

	cmd, rest, _ := strings.Cut(text, " ")
	// Strip the @botname suffix Telegram appends in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/schedule":
		r.cmdSchedule(ctx, target, channel, m.FromID, rest)
	case "/tasks":
		r.cmdTasks(ctx, target, channel)
	case "/cancel":
		r.cmdCancel(ctx, target, channel, m.FromID, rest)
	case "/runnow":
		r.cmdRunNow(ctx, target, channel, m.FromID, rest)
	case "/help", "/start":
		r.reply(ctx, target, helpText)
	}
}

// cmdSchedule parses "/schedule <kind> <value> | <payload>" and registers the
// task. The engine posts the approval prompt itself.
func (r *Router) cmdSchedule(ctx context.Context, target transport.ChatTarget, channel string, actor int64, rest string) {
	head, payload, hasPayload := strings.Cut(rest, "|")
	head = strings.TrimSpace(head)
	payload = strings.TrimSpace(payload)
	if head == "" || !hasPayload || payload == "" {
		r.reply(ctx, target, "Usage: /schedule <cron|interval|once> <value> | <payload>")
		return
	}
	kindStr, value, _ := strings.Cut(head, " ")
	value = strings.TrimSpace(value)

	var kind schedule.Kind
	switch kindStr {
	case "cron":
		kind = schedule.KindCron
	case "interval":
		kind = schedule.KindInterval
	case "once":
		kind = schedule.KindOnce
	default:
		r.reply(ctx, target, fmt.Sprintf("Unknown schedule kind %q (use cron, interval, or once).", kindStr))
		return
	}

	sum, err := r.eng.RegisterTask(ctx, engine.RegisterRequest{
		Channel: channel,
		Kind:    kind,
		Value:   value,
		Payload: payload,
		Actor:   actor,
	})
	if err != nil {
		r.reply(ctx, target, registerErrorText(err))
		return
	}
	r.log.Info("task registered",
		logx.String("task", sum.ID),
		logx.String("channel", channel),
		logx.String("schedule", sum.Schedule))
}

func registerErrorText(err error) string {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Invalid schedule: " + verr.Msg
	case errors.Is(err, engine.ErrCapacity):
		return "This channel already has the maximum number of tasks."
	case errors.Is(err, engine.ErrClosed):
		return "Shutting down; try again later."
	default:
		return "Could not register the task: " + err.Error()
	}
}

// cmdRunNow requests an approval-gated immediate invocation. The engine posts
// the prompt and runs the payload on the channel lock once approved.
func (r *Router) cmdRunNow(ctx context.Context, target transport.ChatTarget, channel string, actor int64, rest string) {
	payload := strings.TrimSpace(rest)
	if payload == "" {
		r.reply(ctx, target, "Usage: /runnow <payload>")
		return
	}
	id, err := r.eng.RequestImmediate(ctx, channel, actor, payload)
	if err != nil {
		r.reply(ctx, target, "Could not request the run: "+err.Error())
		return
	}
	r.log.Info("immediate run requested", logx.String("action", id), logx.String("channel", channel))
}

func (r *Router) cmdTasks(ctx context.Context, target transport.ChatTarget, channel string) {
	tasks := r.eng.ListTasks(channel)
	if len(tasks) == 0 {
		r.reply(ctx, target, "No tasks in this channel.")
		return
	}
	var b strings.Builder
	b.WriteString("Tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "• %s — %s [%s]", t.ID[:8], t.Schedule, t.Status)
		if !t.NextRun.IsZero() {
			fmt.Fprintf(&b, " next %s", t.NextRun.UTC().Format("2006-01-02 15:04:05 MST"))
		}
		if t.Running {
			b.WriteString(" (running)")
		}
		b.WriteString("\n")
	}
	r.reply(ctx, target, b.String())
}

func (r *Router) cmdCancel(ctx context.Context, target transport.ChatTarget, channel string, actor int64, rest string) {
	ref := strings.TrimSpace(rest)
	if ref == "" {
		r.reply(ctx, target, "Usage: /cancel <task id or prefix>")
		return
	}

	id, err := r.resolveTaskID(channel, ref)
	if err != nil {
		r.reply(ctx, target, err.Error())
		return
	}

	status, err := r.eng.RequestCancellation(ctx, id, actor)
	switch {
	case err == nil && status == engine.StatusDeleted:
		// Engine already notified the channel.
	case err == nil:
		// Confirmation prompt posted by the engine.
	case errors.Is(err, engine.ErrAlreadyPending):
		r.reply(ctx, target, "A cancellation prompt for that task is already open.")
	case errors.Is(err, engine.ErrNotFound):
		r.reply(ctx, target, "No such task.")
	default:
		r.reply(ctx, target, "Cancellation failed: "+err.Error())
	}
}

// resolveTaskID matches a full id or unique prefix against the channel's
// tasks.
func (r *Router) resolveTaskID(channel, ref string) (string, error) {
	var match string
	for _, t := range r.eng.ListTasks(channel) {
		if t.ID == ref {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("task prefix %q is ambiguous", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", errors.New("No such task.")
	}
	return match, nil
}
