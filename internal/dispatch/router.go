package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/majordomo/internal/artifact"
	"github.com/mattjoyce/majordomo/internal/dataset"
	"github.com/mattjoyce/majordomo/internal/journal"
	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/protocol"
	"github.com/mattjoyce/majordomo/internal/sandbox"
	"github.com/mattjoyce/majordomo/internal/snapshot"
)

// User-facing strings. unknownCommandReply covers missing, unexposed and
// admin-denied commands alike so hidden commands are indistinguishable from
// absent ones.
const (
	unknownCommandReply = "I don't know that command."
	genericErrorReply   = "Something went wrong running that. Please try again later."
	conflictRetryReply  = "That action collided with another update. Please try again."
)

// Deps are the collaborators the router drives.
type Deps struct {
	Snapshots *snapshot.Cache
	Flows     FlowStore
	Datasets  *dataset.Cache
	Artifacts *artifact.Store
	Executor  sandbox.Executor
	Transport Transport
	Journal   *journal.Journal
}

// Options are the routing-level tunables.
type Options struct {
	SandboxLimits   sandbox.Limits
	ConflictRetries int
	MaxConcurrent   int
	RatePerMinute   int
	// BotUsername strips the @botname disambiguator from command tokens.
	BotUsername string
}

// Router fans inbound events out to sandboxed service invocations.
type Router struct {
	deps   Deps
	opts   Options
	limits *chatLimits
	logger *slog.Logger
}

func New(deps Deps, opts Options) *Router {
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	return &Router{
		deps:   deps,
		opts:   opts,
		limits: newChatLimits(opts.MaxConcurrent, opts.RatePerMinute),
		logger: log.WithComponent("dispatch"),
	}
}

// HandleCommand routes one slash command. The token arrives with or without
// its leading slash and possibly with an @botname suffix.
func (r *Router) HandleCommand(ctx context.Context, chatID, token, args string, messageID int64, from *protocol.Sender) error {
	command := r.normalizeCommand(token)
	chatLogger := r.logger.With("chat_id", chatID, "command", command)

	snap, err := r.deps.Snapshots.Get(ctx, chatID)
	if err != nil {
		chatLogger.Error("snapshot unavailable", "error", err)
		return r.deps.Transport.SendReply(ctx, chatID, genericErrorReply, "", nil)
	}

	route, ok := snap.Commands[command]
	if !ok || !route.Expose {
		chatLogger.Debug("command not routed", "known", ok)
		return r.deps.Transport.SendReply(ctx, chatID, unknownCommandReply, "", nil)
	}

	if route.AdminOnly {
		admin, err := r.deps.Transport.IsChatAdmin(ctx, chatID, from.ID)
		if err != nil || !admin {
			if err != nil {
				chatLogger.Warn("admin check failed", "error", err)
			}
			r.journalDenied(ctx, chatID, route, "command:"+command)
			return r.deps.Transport.SendReply(ctx, chatID, unknownCommandReply, "", nil)
		}
	}

	event := protocol.Event{
		Type:      protocol.EventCommand,
		Command:   command,
		Args:      args,
		MessageID: messageID,
		From:      from,
	}
	return r.invoke(ctx, snap, route, event, "")
}

// HandleCallback routes one inline-button tap. Unparseable or stale callback
// data is acknowledged and dropped; old buttons outlive snapshots and flows.
func (r *Router) HandleCallback(ctx context.Context, chatID, callbackID, data string, messageID int64, from *protocol.Sender) error {
	chatLogger := r.logger.With("chat_id", chatID)

	shortID, params, err := protocol.ParseCallback(data)
	if err != nil {
		chatLogger.Warn("unparseable callback data", "error", err)
		return r.deps.Transport.AnswerCallback(ctx, callbackID, "")
	}

	snap, err := r.deps.Snapshots.Get(ctx, chatID)
	if err != nil {
		chatLogger.Error("snapshot unavailable", "error", err)
		return r.deps.Transport.AnswerCallback(ctx, callbackID, "")
	}

	route, ok := snap.Lookup(shortID)
	if !ok {
		chatLogger.Debug("callback for unknown service, dropping", "short_id", shortID)
		return r.deps.Transport.AnswerCallback(ctx, callbackID, "")
	}

	// Stop the client's progress indicator before the sandbox runs.
	if err := r.deps.Transport.AnswerCallback(ctx, callbackID, ""); err != nil {
		chatLogger.Warn("failed to answer callback", "error", err)
	}

	event := protocol.Event{
		Type:      protocol.EventCallback,
		Data:      params,
		MessageID: messageID,
		From:      from,
	}
	return r.invoke(ctx, snap, route, event, "")
}

// HandleMessage fans one plain message out to every listener, bounded by the
// chat's concurrency ceiling and rate window. Excess work is dropped.
func (r *Router) HandleMessage(ctx context.Context, chatID, text string, messageID int64, from *protocol.Sender) error {
	snap, err := r.deps.Snapshots.Get(ctx, chatID)
	if err != nil {
		r.logger.Error("snapshot unavailable", "chat_id", chatID, "error", err)
		return err
	}
	if len(snap.Listeners) == 0 {
		return nil
	}

	if !r.limits.admitRate(chatID) {
		r.logger.Debug("listener rate cap hit, dropping message", "chat_id", chatID)
		return nil
	}

	event := protocol.Event{
		Type:      protocol.EventMessage,
		Text:      text,
		MessageID: messageID,
		From:      from,
	}

	var wg sync.WaitGroup
	for _, route := range snap.Listeners {
		release, ok := r.limits.acquireSlot(chatID)
		if !ok {
			r.logger.Debug("listener concurrency ceiling hit, dropping invocation",
				"chat_id", chatID, "service", route.ServiceID)
			continue
		}
		wg.Add(1)
		go func(route snapshot.Route) {
			defer wg.Done()
			defer release()
			if err := r.invoke(ctx, snap, route, event, ""); err != nil {
				r.logger.Error("listener invocation failed",
					"chat_id", chatID, "service", route.ServiceID, "error", err)
			}
		}(route)
	}
	wg.Wait()
	return nil
}

// HandleScheduled runs one periodic route on behalf of the scheduler.
func (r *Router) HandleScheduled(ctx context.Context, chatID string, route snapshot.PeriodicRoute, firedAt time.Time) error {
	snap, err := r.deps.Snapshots.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("snapshot for scheduled run: %w", err)
	}
	event := protocol.Event{
		Type:    protocol.EventScheduled,
		FiredAt: firedAt,
	}
	return r.invoke(ctx, snap, route.Route, event, route.Schedule)
}

// normalizeCommand lowercases the token and strips the leading slash and any
// @botname suffix.
func (r *Router) normalizeCommand(token string) string {
	token = strings.TrimPrefix(strings.TrimSpace(token), "/")
	if at := strings.LastIndex(token, "@"); at >= 0 {
		suffix := token[at+1:]
		if strings.EqualFold(suffix, r.opts.BotUsername) {
			token = token[:at]
		}
	}
	return strings.ToLower(token)
}

func (r *Router) journalDenied(ctx context.Context, chatID string, route snapshot.Route, trigger string) {
	now := time.Now().UTC()
	r.deps.Journal.Record(ctx, &journal.Entry{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		ServiceID:   route.ServiceID,
		Kind:        route.Kind,
		Trigger:     trigger,
		Status:      journal.StatusDenied,
		StartedAt:   now,
		CompletedAt: now,
	})
}
