package chanlock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireUncontended(t *testing.T) {
	l := New()
	release, err := l.Acquire(context.Background(), "ch")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release() // extra calls are no-ops

	release2, err := l.Acquire(context.Background(), "ch")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	release2()
}

func TestIndependentKeys(t *testing.T) {
	l := New()
	r1, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := l.Acquire(context.Background(), "b")
		if err != nil {
			t.Errorf("Acquire b: %v", err)
			return
		}
		r2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on independent key blocked")
	}
}

func TestWaitersServedInOrder(t *testing.T) {
	l := New()
	hold, err := l.Acquire(context.Background(), "ch")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	const n = 5
	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			release, err := l.Acquire(context.Background(), "ch")
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			release()
		}(i)
		// Serialize goroutine startup so arrival order is deterministic.
		<-started
		time.Sleep(10 * time.Millisecond)
	}

	hold()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("service order = %v, want FIFO", order)
		}
	}
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	l := New()
	hold, err := l.Acquire(context.Background(), "ch")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx, "ch")
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	// The lock must still work after the abandoned wait.
	hold()
	release, err := l.Acquire(context.Background(), "ch")
	if err != nil {
		t.Fatalf("Acquire after cancel: %v", err)
	}
	release()
}

func TestMutualExclusion(t *testing.T) {
	l := New()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "ch")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
}
