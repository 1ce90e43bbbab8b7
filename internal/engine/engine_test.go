package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOnceTaskLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	sum := h.registerApproved(t, "100", "once", "in 2m")

	want := h.clk.Now().Add(2 * time.Minute)
	got, err := h.eng.GetTask(sum.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.NextRun.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got.NextRun, want)
	}

	h.clk.Advance(2 * time.Minute)
	h.agent.waitStarted(t)
	h.waitIdle(t, sum.ID)

	if n := h.agent.callCount(); n != 1 {
		t.Fatalf("agent calls = %d, want 1", n)
	}
	if _, err := h.eng.GetTask(sum.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("once task still present after firing: err=%v", err)
	}
}

func TestUnapprovedTaskExpiresWithoutExecuting(t *testing.T) {
	h := newHarness(t, Config{})
	sum := h.register(t, "100", "interval", "90000")

	h.clk.Advance(15 * time.Minute)

	if _, err := h.eng.GetTask(sum.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired task still present: err=%v", err)
	}
	if n := h.agent.callCount(); n != 0 {
		t.Fatalf("agent calls = %d, want 0", n)
	}
	// No timers may stay armed for the removed task.
	if p := h.clk.Pending(); p != 0 {
		t.Fatalf("pending timers = %d, want 0", p)
	}
}

func TestSameChannelExecutionsSerialized(t *testing.T) {
	h := newHarness(t, Config{})
	h.agent.blocking = true

	a := h.registerApproved(t, "7", "interval", "60000")
	b := h.registerApproved(t, "7", "interval", "60000")

	h.clk.Advance(time.Minute)
	h.agent.waitStarted(t)

	// Second execution must be queued on the channel lock, not running.
	time.Sleep(50 * time.Millisecond)
	if n := h.agent.callCount(); n != 1 {
		t.Fatalf("concurrent agent calls on one channel: %d", n)
	}

	h.agent.proceed <- struct{}{}
	h.agent.waitStarted(t)
	h.agent.proceed <- struct{}{}

	h.waitIdle(t, a.ID)
	h.waitIdle(t, b.ID)
	if n := h.agent.callCount(); n != 2 {
		t.Fatalf("agent calls = %d, want 2", n)
	}
}

func TestDifferentChannelsRunConcurrently(t *testing.T) {
	h := newHarness(t, Config{})
	h.agent.blocking = true

	h.registerApproved(t, "1", "interval", "60000")
	h.registerApproved(t, "2", "interval", "60000")

	h.clk.Advance(time.Minute)
	h.agent.waitStarted(t)
	h.agent.waitStarted(t)

	if n := h.agent.callCount(); n != 2 {
		t.Fatalf("agent calls = %d, want 2 concurrent on distinct channels", n)
	}
	h.agent.proceed <- struct{}{}
	h.agent.proceed <- struct{}{}
}

func TestCronFiresOncePerOccurrence(t *testing.T) {
	h := newHarness(t, Config{})
	sum := h.registerApproved(t, "100", "cron", "0 17 * * *")

	got, err := h.eng.GetTask(sum.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if d := got.NextRun.Sub(h.clk.Now()); d <= 0 || d > 24*time.Hour {
		t.Fatalf("NextRun %v is not within the next 24h", got.NextRun)
	}

	h.clk.Advance(17 * time.Hour)
	h.agent.waitStarted(t)
	h.waitIdle(t, sum.ID)
	if n := h.agent.callCount(); n != 1 {
		t.Fatalf("agent calls after first occurrence = %d, want 1", n)
	}

	got, err = h.eng.GetTask(sum.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if d := got.NextRun.Sub(h.clk.Now()); d <= 0 || d > 24*time.Hour {
		t.Fatalf("NextRun after fire %v is not within the next 24h", got.NextRun)
	}

	h.clk.Advance(24 * time.Hour)
	h.agent.waitStarted(t)
	h.waitIdle(t, sum.ID)
	if n := h.agent.callCount(); n != 2 {
		t.Fatalf("agent calls after second occurrence = %d, want 2", n)
	}
}

func TestOverlappingTickSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	h.agent.blocking = true

	sum := h.registerApproved(t, "100", "interval", "60000")

	h.clk.Advance(time.Minute)
	h.agent.waitStarted(t)

	// Next tick lands while the first run is still in flight: skipped, not
	// queued.
	h.clk.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if n := h.agent.callCount(); n != 1 {
		t.Fatalf("agent calls = %d, want 1 (overlap must skip)", n)
	}

	h.agent.proceed <- struct{}{}
	h.waitIdle(t, sum.ID)

	// With the run finished, the following tick executes again.
	h.clk.Advance(time.Minute)
	h.agent.waitStarted(t)
	h.agent.proceed <- struct{}{}
	h.waitIdle(t, sum.ID)
	if n := h.agent.callCount(); n != 2 {
		t.Fatalf("agent calls = %d, want 2", n)
	}
}

func TestIntervalCadenceNotStalledBySlowRun(t *testing.T) {
	h := newHarness(t, Config{})
	sum := h.registerApproved(t, "100", "interval", "60000")

	for i := 0; i < 3; i++ {
		h.clk.Advance(time.Minute)
		h.agent.waitStarted(t)
		h.waitIdle(t, sum.ID)
	}
	if n := h.agent.callCount(); n != 3 {
		t.Fatalf("agent calls = %d, want 3", n)
	}
}

func TestFailedRunKeepsTaskAlive(t *testing.T) {
	h := newHarness(t, Config{})
	h.agent.err = errors.New("boom")

	sum := h.registerApproved(t, "100", "interval", "60000")

	h.clk.Advance(time.Minute)
	h.agent.waitStarted(t)
	h.waitIdle(t, sum.ID)

	if _, err := h.eng.GetTask(sum.ID); err != nil {
		t.Fatalf("task removed after failed run: %v", err)
	}

	h.clk.Advance(time.Minute)
	h.agent.waitStarted(t)
	h.waitIdle(t, sum.ID)
	if n := h.agent.callCount(); n != 2 {
		t.Fatalf("agent calls = %d, want 2", n)
	}
}

func TestOnceTaskRetiredEvenWhenRunFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.agent.err = errors.New("boom")

	sum := h.registerApproved(t, "100", "once", "in 2m")

	h.clk.Advance(2 * time.Minute)
	h.agent.waitStarted(t)
	h.waitIdle(t, sum.ID)

	if _, err := h.eng.GetTask(sum.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("once task kept after its single (failed) attempt: err=%v", err)
	}
}

func TestChannelCapacity(t *testing.T) {
	h := newHarness(t, Config{MaxPerChannel: 2})

	h.register(t, "100", "interval", "60000")
	h.register(t, "100", "interval", "60000")

	_, err := h.eng.RegisterTask(context.Background(), RegisterRequest{
		Channel: "100", Kind: kindOf("interval"), Value: "60000", Payload: "x", Actor: 1,
	})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}

	// Other channels are unaffected.
	h.register(t, "200", "interval", "60000")
}

func TestListTasksOrderedAndFiltered(t *testing.T) {
	h := newHarness(t, Config{})

	a := h.register(t, "100", "interval", "60000")
	h.clk.Advance(time.Second)
	b := h.register(t, "100", "interval", "60000")
	h.clk.Advance(time.Second)
	h.register(t, "200", "interval", "60000")

	got := h.eng.ListTasks("100")
	if len(got) != 2 {
		t.Fatalf("ListTasks(100) = %d entries, want 2", len(got))
	}
	if got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("ListTasks not in creation order: %v then %v", got[0].ID, got[1].ID)
	}
	if all := h.eng.ListTasks(""); len(all) != 3 {
		t.Fatalf("ListTasks(\"\") = %d entries, want 3", len(all))
	}
}

func TestShutdownRejectsFurtherWork(t *testing.T) {
	h := newHarness(t, Config{})
	h.registerApproved(t, "100", "interval", "60000")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.eng.Shutdown(ctx)

	if _, err := h.eng.RegisterTask(context.Background(), RegisterRequest{
		Channel: "100", Kind: kindOf("interval"), Value: "60000", Payload: "x", Actor: 1,
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("RegisterTask after shutdown: err = %v, want ErrClosed", err)
	}
	if p := h.clk.Pending(); p != 0 {
		t.Fatalf("pending timers after shutdown = %d, want 0", p)
	}

	h.clk.Advance(time.Hour)
	if n := h.agent.callCount(); n != 0 {
		t.Fatalf("agent calls after shutdown = %d, want 0", n)
	}
}
