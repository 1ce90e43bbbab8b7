// Package notify is the best-effort notification pipeline: a bounded queue
// drained by workers behind a rate limiter. Send failures are logged and
// swallowed; a dropped notification never rolls back engine state.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gatebot/internal/transport"
	"gatebot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

type item struct {
	target transport.ChatTarget
	text   string
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter

	cfg     Config
	limiter *rate.Limiter

	queue     chan item
	accepting bool

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	sendWG    sync.WaitGroup
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	s.cfg = cfg
	// Burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan item, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop()
		}()
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish before closing the queue, so a
	// concurrent Notify never sends on a closed channel.
	enqueues := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(enqueues)
	}()
	select {
	case <-enqueues:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	}

	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Notify enqueues a best-effort message. Errors are reported but callers are
// expected to ignore them.
func (s *Service) Notify(target transport.ChatTarget, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	// Registered before releasing the mutex; Stop waits on it before close(q).
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- item{target: target, text: text}:
		return nil
	default:
		s.log.Warn("notification dropped (queue full)", logx.Int64("chat", target.ChatID))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	lim := s.limiter
	s.mu.Unlock()
	if q == nil {
		return
	}

	for it := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		if lim != nil {
			wctx := runCtx
			if wctx == nil {
				wctx = context.Background()
			}
			if err := lim.Wait(wctx); err != nil {
				return
			}
		}

		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		callCtx, cancel := context.WithTimeout(callCtx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, it.target, it.text, nil)
		cancel()
		if err != nil {
			s.log.Debug("notify send failed", logx.Err(err), logx.Int64("chat", it.target.ChatID))
		}
	}
}
