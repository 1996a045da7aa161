package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnreachable means the destination chat can no longer receive
	// messages (blocked, kicked, deactivated or not found).
	ErrUnreachable = errors.New("destination unreachable")
	// ErrMessageNotModified is returned by an edit that would not change the text.
	ErrMessageNotModified = errors.New("message not modified")
	// ErrMessageGone means the referenced message cannot be edited or deleted anymore.
	ErrMessageGone = errors.New("message no longer editable")
)

// Update is one inbound item from the platform. Only text messages are
// delivered; the channel adapter reads commands from them.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic, 0 outside topics
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
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
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Adapter is a chat bot transport. Errors are classified with the sentinel
// errors above so callers can use errors.Is without knowing the platform.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	// Ping checks that chatID is still reachable.
	Ping(ctx context.Context, chatID int64) error
}

// BotCommand is one entry of the bot's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the command
// list to the platform's menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
