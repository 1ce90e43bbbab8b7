// Package transport defines the platform-neutral chat types the engine's
// notifier side is built on. The Telegram adapter implements Adapter; the
// router turns inbound updates into engine calls.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
}

// Callback is a button press on a previously posted prompt. Data carries the
// button payload ("approve"/"reject"); the message reference identifies the
// prompt it belongs to.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPrompt posts text with an approve/reject keyboard and returns the
	// message reference used as the correlation handle.
	SendPrompt(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
