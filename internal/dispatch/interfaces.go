package dispatch

import (
	"context"

	"github.com/mattjoyce/majordomo/internal/flow"
	"github.com/mattjoyce/majordomo/internal/protocol"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Button is one inline keyboard button with its already-encoded callback
// data. The transport never sees service-level params; encoding happens in
// the router so a service can only address its own callbacks.
type Button struct {
	Label string
	Data  string
}

// Transport is the outbound surface of the chat platform adapter.
type Transport interface {
	// SendReply posts a message to a chat, optionally with an inline
	// keyboard. parseMode may be empty for plain text.
	SendReply(ctx context.Context, chatID, text, parseMode string, buttons [][]Button) error

	// EditMessage rewrites an existing message in place.
	EditMessage(ctx context.Context, chatID string, messageID int64, text, parseMode string) error

	// AnswerCallback acknowledges an inline-button tap so the client
	// stops its progress indicator. text may be empty.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// IsChatAdmin reports whether the user administers the chat.
	IsChatAdmin(ctx context.Context, chatID, userID string) (bool, error)
}

// FlowStore persists per-(chat, service) conversation state behind optimistic
// version guards.
type FlowStore interface {
	// Read returns the current state and version. Expired flows read as
	// absent.
	Read(ctx context.Context, chatID, serviceID string) (flow.Snapshot, bool, error)

	// ApplyDirective performs one attempt at applying a state directive.
	// It reports flow.ErrConflict when a concurrent writer won the version
	// race; the caller decides whether to re-apply.
	ApplyDirective(ctx context.Context, chatID, serviceID string, d *protocol.StateDirective) error
}
