// Package router turns inbound chat updates into engine calls: slash commands
// drive registration and cancellation, inline-button callbacks resolve
// approval prompts. It also bridges the engine's notifier side back to the
// chat adapter.
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gatebot/internal/adapters/telegram"
	"gatebot/internal/engine"
	"gatebot/internal/notify"
	"gatebot/internal/transport"
	"gatebot/pkg/logx"
)

// ChannelID encodes a chat target as the engine's channel string:
// "chatID" or "chatID/threadID" for forum topics.
func ChannelID(t transport.ChatTarget) string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseChannel is the inverse of ChannelID.
func ParseChannel(s string) (transport.ChatTarget, error) {
	chatPart, threadPart, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("invalid channel %q", s)
	}
	t := transport.ChatTarget{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(threadPart)
		if err != nil {
			return transport.ChatTarget{}, fmt.Errorf("invalid channel %q", s)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// Notifier is the engine-facing side of the chat platform: prompts go out
// synchronously through the adapter (the engine needs the correlation
// handle), plain notifications go through the best-effort queue.
type Notifier struct {
	Adapter transport.Adapter
	Queue   *notify.Service
	Log     logx.Logger
}

func (n *Notifier) Post(ctx context.Context, channel, text string) (string, error) {
	target, err := ParseChannel(channel)
	if err != nil {
		return "", err
	}
	ref, err := n.Adapter.SendPrompt(ctx, target, text)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(ref.MessageID), nil
}

func (n *Notifier) Notify(channel, text string) {
	target, err := ParseChannel(channel)
	if err != nil {
		n.Log.Warn("notify skipped: bad channel", logx.String("channel", channel))
		return
	}
	_ = n.Queue.Notify(target, text)
}

type Config struct {
	// QueueSize bounds the inbound update channel between adapter and router.
	QueueSize int
}

type Router struct {
	cfg     Config
	log     logx.Logger
	adapter transport.Adapter
	eng     *engine.Engine

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, adapter transport.Adapter, eng *engine.Engine, log logx.Logger) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	return &Router{cfg: cfg, log: log, adapter: adapter, eng: eng}
}

func (r *Router) Start(ctx context.Context) error {
	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return nil
	}
	r.running = true
	rctx, cancel := context.WithCancel(ctx)
	r.runCancel = cancel
	r.runMu.Unlock()

	updates := make(chan transport.Update, r.cfg.QueueSize)
	if err := r.adapter.Start(rctx, updates); err != nil {
		cancel()
		r.runMu.Lock()
		r.running = false
		r.runCancel = nil
		r.runMu.Unlock()
		return err
	}

	r.runWG.Add(1)
	go func() {
		defer r.runWG.Done()
		for {
			select {
			case <-rctx.Done():
				return
			case up := <-updates:
				r.dispatch(rctx, up)
			}
		}
	}()
	return nil
}

func (r *Router) Stop(ctx context.Context) error {
	r.runMu.Lock()
	cancel := r.runCancel
	r.runCancel = nil
	wasRunning := r.running
	r.running = false
	r.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	err := r.adapter.Stop(ctx)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

// handleCallback resolves an approval prompt button press. The prompt message
// id is the correlation handle; the engine decides whether the signal still
// matches a pending item.
func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) {
	var approve bool
	switch cb.Data {
	case telegram.DataApprove:
		approve = true
	case telegram.DataReject:
		approve = false
	default:
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	resolved := r.eng.HandleSignal(ctx, engine.Signal{
		Channel:     ChannelID(transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}),
		Correlation: strconv.Itoa(cb.MessageID),
		Actor:       cb.FromID,
		Approve:     approve,
	})

	ack := "Recorded."
	if !resolved {
		ack = "No longer pending."
	}
	if err := r.adapter.AnswerCallback(ctx, cb.ID, ack); err != nil {
		r.log.Debug("callback answer failed", logx.Err(err))
	}
}

func (r *Router) reply(ctx context.Context, to transport.ChatTarget, text string) {
	if _, err := r.adapter.SendText(ctx, to, text, nil); err != nil {
		r.log.Debug("reply failed", logx.Err(err), logx.Int64("chat", to.ChatID))
	}
}
