// Package chanlock provides per-channel mutual exclusion with FIFO waiters.
//
// The lock set is an explicitly shared resource: both the scheduling engine
// and any interactive caller of the agent runtime acquire through the same
// instance, which is what serializes their executions on a channel.
package chanlock

import (
	"context"
	"sync"
)

// Locks is a keyed mutex set. At most one holder per key at a time; waiters
// are served in arrival order. The zero value is not usable; call New.
type Locks struct {
	mu sync.Mutex
	m  map[string]*lockState
}

type lockState struct {
	held    bool
	waiters []chan struct{}
}

func New() *Locks {
	return &Locks{m: map[string]*lockState{}}
}

// Acquire blocks until the lock for key is held by the caller or ctx is done.
// On success it returns a release function, which must be called exactly once
// (extra calls are no-ops).
func (l *Locks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	st := l.m[key]
	if st == nil {
		st = &lockState{}
		l.m[key] = st
	}
	if !st.held {
		st.held = true
		l.mu.Unlock()
		return l.releaseFunc(key), nil
	}
	w := make(chan struct{})
	st.waiters = append(st.waiters, w)
	l.mu.Unlock()

	select {
	case <-w:
		return l.releaseFunc(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		granted := true
		for i, o := range st.waiters {
			if o == w {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				granted = false
				break
			}
		}
		if granted {
			// The grant raced with cancellation; hand the lock on.
			l.releaseLocked(st)
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (l *Locks) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if st := l.m[key]; st != nil {
				l.releaseLocked(st)
			}
			l.mu.Unlock()
		})
	}
}

// releaseLocked passes the lock to the next waiter, or frees it.
// Call with l.mu held.
func (l *Locks) releaseLocked(st *lockState) {
	if len(st.waiters) > 0 {
		w := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(w)
		return
	}
	st.held = false
}
