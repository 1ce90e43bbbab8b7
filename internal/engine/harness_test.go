package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"gatebot/internal/agent"
	"gatebot/internal/clock"
	"gatebot/internal/schedule"
)

func kindOf(s string) schedule.Kind { return schedule.Kind(s) }

type postedPrompt struct {
	Channel string
	Text    string
	Handle  string
}

type fakeNotifier struct {
	mu      sync.Mutex
	prompts []postedPrompt
	notes   []string
	seq     int
	postErr error
}

func (f *fakeNotifier) Post(ctx context.Context, channel, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.seq++
	h := "p" + strconv.Itoa(f.seq)
	f.prompts = append(f.prompts, postedPrompt{Channel: channel, Text: text, Handle: h})
	return h, nil
}

func (f *fakeNotifier) Notify(channel, text string) {
	f.mu.Lock()
	f.notes = append(f.notes, text)
	f.mu.Unlock()
}

func (f *fakeNotifier) lastHandle(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		t.Fatal("no prompt was posted")
	}
	return f.prompts[len(f.prompts)-1].Handle
}

func (f *fakeNotifier) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeAgent records invocations. When blocking, each Invoke parks until
// proceed receives (or ctx ends), letting tests hold an execution in flight.
type fakeAgent struct {
	mu       sync.Mutex
	calls    []agent.Invocation
	err      error
	blocking bool
	started  chan struct{}
	proceed  chan struct{}
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		started: make(chan struct{}, 64),
		proceed: make(chan struct{}),
	}
}

func (f *fakeAgent) Invoke(ctx context.Context, inv agent.Invocation) (agent.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	blocking := f.blocking
	err := f.err
	f.mu.Unlock()

	f.started <- struct{}{}
	if blocking {
		select {
		case <-f.proceed:
		case <-ctx.Done():
			return agent.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return agent.Result{}, err
	}
	return agent.Result{Summary: "done"}, nil
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAgent) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("agent invocation did not start")
	}
}

type harness struct {
	clk      *clock.Manual
	eng      *Engine
	notifier *fakeNotifier
	agent    *fakeAgent
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewManual(time.Time{}),
		notifier: &fakeNotifier{},
		agent:    newFakeAgent(),
	}
	h.eng = New(cfg, Deps{
		Clock:    h.clk,
		Agent:    h.agent,
		Notifier: h.notifier,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.eng.Shutdown(ctx)
	})
	return h
}

// registerApproved registers a task and resolves its activation prompt.
// Actor 1 registers, actor 2 approves.
func (h *harness) registerApproved(t *testing.T, channel, kind, value string) TaskSummary {
	t.Helper()
	sum := h.register(t, channel, kind, value)
	h.signal(t, channel, h.notifier.lastHandle(t), 2, true)
	got, err := h.eng.GetTask(sum.ID)
	if err != nil {
		t.Fatalf("GetTask after approve: %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status after approve = %s, want active", got.Status)
	}
	return got
}

func (h *harness) register(t *testing.T, channel, kind, value string) TaskSummary {
	t.Helper()
	sum, err := h.eng.RegisterTask(context.Background(), RegisterRequest{
		Channel: channel,
		Kind:    kindOf(kind),
		Value:   value,
		Payload: "do the thing",
		Actor:   1,
	})
	if err != nil {
		t.Fatalf("RegisterTask(%s %q): %v", kind, value, err)
	}
	if sum.Status != StatusPendingApproval {
		t.Fatalf("status after register = %s, want pending_approval", sum.Status)
	}
	return sum
}

func (h *harness) signal(t *testing.T, channel, correlation string, actor int64, approve bool) bool {
	t.Helper()
	return h.eng.HandleSignal(context.Background(), Signal{
		Channel:     channel,
		Correlation: correlation,
		Actor:       actor,
		Approve:     approve,
	})
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func (h *harness) waitIdle(t *testing.T, taskID string) {
	t.Helper()
	waitUntil(t, "task "+taskID+" to go idle", func() bool {
		sum, err := h.eng.GetTask(taskID)
		if errors.Is(err, ErrNotFound) {
			return true
		}
		return err == nil && !sum.Running
	})
}
