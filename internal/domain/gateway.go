package domain

import (
	"context"
	"fmt"
)

// Gateway is the chat-workspace surface the dispatcher talks to. The
// concrete implementation lives in internal/gateway; tests substitute
// fakes.
type Gateway interface {
	// SendReply posts text to a channel.
	SendReply(ctx context.Context, channelID, text string) error

	// ShowTyping emits one typing signal to a channel. It expires on the
	// gateway side after a few seconds, so callers re-send it periodically
	// while work is in flight.
	ShowTyping(ctx context.Context, channelID string) error

	// History returns up to limit messages posted before beforeID
	// (everything when beforeID is empty), newest first.
	History(ctx context.Context, channelID string, limit int, beforeID string) ([]HistoryMessage, error)
}

// Completer is the completion-service surface the dispatcher talks to.
type Completer interface {
	Send(ctx context.Context, prompt string, attachments []DownloadedAttachment) (string, error)
}

// PermissionError means the bot account is missing a permission it needs
// to operate. Fatal at startup.
type PermissionError struct {
	Permission string
	Guidance   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing gateway permission %q: %s", e.Permission, e.Guidance)
}
