package gateway

import (
	"context"
	"strings"

	"github.com/mattjoyce/majordomo/internal/events"
	"github.com/mattjoyce/majordomo/internal/protocol"
)

// Gateway builtins are admin-only management commands handled before snapshot
// routing. They never reach a sandbox.
const (
	builtinReload = "majordomo_reload"
	builtinConfig = "majordomo_config"
)

const (
	adminOnlyReply     = "Only chat admins can use that command."
	reloadDoneReply    = "Routing configuration reloaded."
	configUsageReply   = "Usage: /majordomo_config <config-url>"
	configUpdatedReply = "Chat configuration updated."
	configDeniedReply  = "That config URL is outside the registry base path."
	builtinErrorReply  = "Something went wrong. Please try again later."
)

// handleBuiltin intercepts gateway management commands. Returns false when
// the command is not a builtin, so normal routing proceeds.
func (g *Gateway) handleBuiltin(ctx context.Context, chatID, command, args string, from *protocol.Sender) bool {
	switch normalizeBuiltin(command) {
	case builtinReload:
		g.runBuiltin(ctx, chatID, from, func(ctx context.Context) string {
			g.snapshots.Invalidate(chatID)
			g.hub.Publish(events.EventSnapshotEvicted, map[string]string{
				"chat_id": chatID,
				"reason":  "reload",
			})
			g.logger.Info("snapshot evicted via builtin", "chat_id", chatID)
			return reloadDoneReply
		})
		return true

	case builtinConfig:
		g.runBuiltin(ctx, chatID, from, func(ctx context.Context) string {
			return g.repointChat(ctx, chatID, strings.TrimSpace(args))
		})
		return true
	}
	return false
}

// runBuiltin enforces the admin check shared by every builtin, then sends
// whatever reply the action produced.
func (g *Gateway) runBuiltin(ctx context.Context, chatID string, from *protocol.Sender, action func(context.Context) string) {
	if !g.isAdmin(ctx, chatID, from) {
		g.reply(ctx, chatID, adminOnlyReply)
		return
	}
	g.reply(ctx, chatID, action(ctx))
}

// repointChat validates and records a new config URL for the chat. Only URLs
// under the registry base path are accepted.
func (g *Gateway) repointChat(ctx context.Context, chatID, configURL string) string {
	if configURL == "" {
		return configUsageReply
	}
	if !g.registry.WithinBase(configURL) {
		g.logger.Warn("rejected config URL outside registry base", "chat_id", chatID, "url", configURL)
		return configDeniedReply
	}

	if err := g.chats.Upsert(ctx, chatID, configURL); err != nil {
		g.logger.Error("failed to record chat config", "chat_id", chatID, "error", err)
		return builtinErrorReply
	}
	g.snapshots.Invalidate(chatID)
	g.hub.Publish(events.EventChatRepointed, map[string]string{
		"chat_id": chatID,
		"url":     configURL,
	})
	g.logger.Info("chat repointed", "chat_id", chatID, "url", configURL)
	return configUpdatedReply
}

func (g *Gateway) isAdmin(ctx context.Context, chatID string, from *protocol.Sender) bool {
	if from == nil || from.ID == "" {
		return false
	}
	admin, err := g.transport.IsChatAdmin(ctx, chatID, from.ID)
	if err != nil {
		g.logger.Error("admin check failed", "chat_id", chatID, "user_id", from.ID, "error", err)
		return false
	}
	return admin
}

func (g *Gateway) reply(ctx context.Context, chatID, text string) {
	if err := g.transport.SendReply(ctx, chatID, text, "", nil); err != nil {
		g.logger.Error("failed to send builtin reply", "chat_id", chatID, "error", err)
	}
}

// normalizeBuiltin lowercases the token and strips the leading slash and any
// @botname disambiguator.
func normalizeBuiltin(token string) string {
	token = strings.TrimPrefix(strings.TrimSpace(token), "/")
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token)
}
