package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"gatebot/internal/agent"
	"gatebot/internal/chanlock"
	"gatebot/internal/clock"
	"gatebot/internal/eventbus"
	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

type Config struct {
	MaxPerChannel   int           // max non-deleted tasks per channel (default 10)
	ApprovalTimeout time.Duration // prompt expiry (default 15m)
	CronCheckPeriod time.Duration // cron poll period (default 60s)
	MinInterval     time.Duration // floor for interval schedules (default 1m)
	MinDelay        time.Duration // floor for "in <dur>" one-shots (default 1m)
	Timezone        string        // IANA zone for offset-less absolute times
}

func (c Config) withDefaults() Config {
	if c.MaxPerChannel <= 0 {
		c.MaxPerChannel = 10
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 15 * time.Minute
	}
	if c.CronCheckPeriod <= 0 {
		c.CronCheckPeriod = time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Minute
	}
	if c.MinDelay <= 0 {
		c.MinDelay = time.Minute
	}
	return c
}

// Deps are the engine's collaborators. Clock and Locks get working defaults
// when nil; Store and Bus may stay nil (disabled).
type Deps struct {
	Log      logx.Logger
	Clock    clock.Clock
	Locks    *chanlock.Locks
	Agent    agent.Runtime
	Notifier Notifier
	Store    storage.Store
	Bus      eventbus.Bus
}

type Engine struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	clk clock.Clock

	locks    *chanlock.Locks
	agent    agent.Runtime
	notifier Notifier
	store    storage.Store
	bus      eventbus.Bus

	loc *time.Location

	tasks    map[string]*Task
	pendings map[string]*pending

	closed    bool
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, d Deps) *Engine {
	cfg = cfg.withDefaults()
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Locks == nil {
		d.Locks = chanlock.New()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}

	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			d.Log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		log:       d.Log,
		clk:       d.Clock,
		locks:     d.Locks,
		agent:     d.Agent,
		notifier:  d.Notifier,
		store:     d.Store,
		bus:       d.Bus,
		loc:       loc,
		tasks:     map[string]*Task{},
		pendings:  map[string]*pending{},
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Locks exposes the shared channel-lock set so interactive agent invocations
// serialize against scheduled ones.
func (e *Engine) Locks() *chanlock.Locks { return e.locks }

// Apply updates the runtime-tunable limits. Live timers keep their original
// periods; new arms pick up the new values.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	cfg.Timezone = e.cfg.Timezone // zone changes require a restart
	e.cfg = cfg
	e.mu.Unlock()
}

// Shutdown disarms every live timer and timeout, rejects further calls, and
// releases lock waiters. In-flight agent invocations see a cancelled context.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, t := range e.tasks {
		e.disarmLocked(t)
	}
	for key, p := range e.pendings {
		if p.timeout != nil {
			p.timeout.Stop()
			p.timeout = nil
		}
		delete(e.pendings, key)
	}
	e.tasks = map[string]*Task{}
	e.mu.Unlock()

	e.runCancel()

	done := make(chan struct{})
	go func() {
		e.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("shutdown grace elapsed with executions still in flight")
	}
	e.log.Info("engine stopped")
}

// audit writes a lifecycle event to the audit sink. Fire-and-forget: failures
// are logged locally and never surface to callers.
func (e *Engine) audit(channel, kind, taskID string, actor int64, detail string) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: "task." + kind,
			Time: e.clk.Now(),
			Data: TaskEvent{ID: taskID, Channel: channel, Detail: detail},
		})
	}
	if e.store == nil {
		return
	}
	entry := storage.AuditEntry{
		At:      e.clk.Now(),
		Channel: channel,
		Kind:    kind,
		TaskID:  taskID,
		ActorID: actor,
		Detail:  detail,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.Warn("audit write failed", logx.String("kind", kind), logx.Err(err))
	}
}

// notify sends a best-effort user-facing message. Failures are swallowed and
// never roll back the state transition that triggered them.
func (e *Engine) notify(channel, text string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(channel, text)
}
