// Package clock abstracts timer arming so timer-driven code can be tested
// against a manual clock instead of real wall-clock waits.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a live armed timer. Stop reports whether the call prevented the
// callback from firing.
type Timer interface {
	Stop() bool
}

// Clock arms one-shot timers and reads the current time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) Stop() bool { return s.t.Stop() }

// ---- Manual clock (tests) ----

// Manual is a deterministic Clock. Time only moves when Advance is called;
// due callbacks run synchronously on the advancing goroutine, in deadline
// order. Callbacks may arm further timers.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	seq    uint64
}

type manualTimer struct {
	clk  *Manual
	at   time.Time
	seq  uint64
	fn   func()
	done bool
}

func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.seq++
	t := &manualTimer{clk: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

func (t *manualTimer) Stop() bool {
	m := t.clk
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, o := range m.timers {
		if o == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			break
		}
	}
	return true
}

// Advance moves the clock forward by d, firing every timer that becomes due,
// in deadline order. The callback runs without the clock lock held, so it may
// arm or stop timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		t := m.nextDueLocked(target)
		if t == nil {
			break
		}
		if t.at.After(m.now) {
			m.now = t.at
		}
		t.done = true
		m.removeLocked(t)
		m.mu.Unlock()
		t.fn()
		m.mu.Lock()
	}
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// Pending reports the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDueLocked(until time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.at.After(until) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, o := range m.timers {
		if o == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}
