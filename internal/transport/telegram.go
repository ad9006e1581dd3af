// Package transport adapts the Telegram Bot API to the gateway's event
// model. The adapter is deliberately thin: it classifies updates, normalizes
// identifiers to strings and hands everything to a Handler; routing policy
// lives elsewhere.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mattjoyce/majordomo/internal/dispatch"
	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/protocol"
)

// maxMessageLen is Telegram's per-message character budget, kept slightly
// under the real 4096 so chunk boundaries never clip a rune sequence badly.
const maxMessageLen = 4000

// Handler receives classified inbound events. Implementations must return
// quickly; the adapter calls them from its single update loop.
type Handler interface {
	OnCommand(ctx context.Context, chatID, command, args string, messageID int64, from *protocol.Sender)
	OnCallback(ctx context.Context, chatID, callbackID, data string, messageID int64, from *protocol.Sender)
	OnMessage(ctx context.Context, chatID, text string, messageID int64, from *protocol.Sender)
	// OnMembershipChange fires on any member join/leave, including the bot
	// itself. botRemoved is set when the bot was kicked or left.
	OnMembershipChange(ctx context.Context, chatID string, botRemoved bool)
}

// BotAPI is the slice of tgbotapi the adapter uses, extracted for tests.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	Self() tgbotapi.User
}

type botWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *botWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *botWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *botWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *botWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *botWrapper) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return w.bot.GetChatMember(config)
}

func (w *botWrapper) Self() tgbotapi.User {
	return w.bot.Self
}

// Telegram is the long-polling Telegram adapter. It implements
// dispatch.Transport on the outbound side.
type Telegram struct {
	bot    BotAPI
	logger *slog.Logger
	cancel context.CancelFunc
}

// New authenticates against the Bot API.
func New(token string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	t := NewWithBot(&botWrapper{bot: bot})
	t.logger.Info("telegram authorized", "username", bot.Self.UserName)
	return t, nil
}

// NewWithBot builds the adapter over an existing BotAPI. For tests.
func NewWithBot(bot BotAPI) *Telegram {
	return &Telegram{
		bot:    bot,
		logger: log.WithComponent("transport"),
	}
}

// BotUsername returns the authenticated bot's username, without the @.
func (t *Telegram) BotUsername() string {
	return t.bot.Self().UserName
}

// Start launches the update loop. Non-blocking; Stop ends the loop.
func (t *Telegram) Start(ctx context.Context, handler Handler) {
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, handler, update)
			case <-ctx.Done():
				return
			}
		}
	}()
	t.logger.Info("telegram polling started")
}

// Stop ends long polling.
func (t *Telegram) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.bot.StopReceivingUpdates()
	t.logger.Info("telegram stopped")
}

func (t *Telegram) handleUpdate(ctx context.Context, handler Handler, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil {
			return
		}
		chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
		handler.OnCallback(ctx, chatID, cb.ID, cb.Data,
			int64(cb.Message.MessageID), senderOf(cb.From))

	case update.MyChatMember != nil:
		mc := update.MyChatMember
		chatID := strconv.FormatInt(mc.Chat.ID, 10)
		status := mc.NewChatMember.Status
		botRemoved := status == "left" || status == "kicked"
		handler.OnMembershipChange(ctx, chatID, botRemoved)

	case update.Message != nil:
		msg := update.Message
		chatID := strconv.FormatInt(msg.Chat.ID, 10)

		if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
			handler.OnMembershipChange(ctx, chatID, false)
			return
		}
		if msg.IsCommand() {
			handler.OnCommand(ctx, chatID, msg.Command(), msg.CommandArguments(),
				int64(msg.MessageID), senderOf(msg.From))
			return
		}
		if msg.Text != "" {
			handler.OnMessage(ctx, chatID, msg.Text, int64(msg.MessageID), senderOf(msg.From))
		}
	}
}

func senderOf(u *tgbotapi.User) *protocol.Sender {
	if u == nil {
		return nil
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return &protocol.Sender{
		ID:          strconv.FormatInt(u.ID, 10),
		Username:    u.UserName,
		DisplayName: name,
	}
}

// SendReply posts text to a chat, chunked to Telegram's message budget. The
// inline keyboard, when present, is attached to the last chunk. A chunk that
// fails to send with a parse mode is retried as plain text; malformed service
// markup must not swallow the reply.
func (t *Telegram) SendReply(ctx context.Context, chatID, text, parseMode string, buttons [][]dispatch.Button) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	chunks := chunkMessage(text)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(id, chunk)
		msg.ParseMode = telegramParseMode(parseMode)
		if i == len(chunks)-1 {
			if markup := inlineKeyboard(buttons); markup != nil {
				msg.ReplyMarkup = *markup
			}
		}
		if _, err := t.bot.Send(msg); err != nil {
			if msg.ParseMode == "" {
				return fmt.Errorf("send message: %w", err)
			}
			t.logger.Warn("send failed with parse mode, retrying plain",
				"chat_id", chatID, "parse_mode", msg.ParseMode, "error", err)
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

// EditMessage rewrites a previously sent message.
func (t *Telegram) EditMessage(ctx context.Context, chatID string, messageID int64, text, parseMode string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(id, int(messageID), text)
	edit.ParseMode = telegramParseMode(parseMode)
	if _, err := t.bot.Send(edit); err != nil {
		if edit.ParseMode == "" {
			return fmt.Errorf("edit message: %w", err)
		}
		edit.ParseMode = ""
		if _, err := t.bot.Send(edit); err != nil {
			return fmt.Errorf("edit message: %w", err)
		}
	}
	return nil
}

// AnswerCallback acknowledges an inline-button tap.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if _, err := t.bot.Request(cb); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// IsChatAdmin reports whether the user is a creator or administrator of the
// chat.
func (t *Telegram) IsChatAdmin(ctx context.Context, chatID, userID string) (bool, error) {
	cid, err := parseChatID(chatID)
	if err != nil {
		return false, err
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: cid,
			UserID: uid,
		},
	})
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	return member.Status == "creator" || member.Status == "administrator", nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

func telegramParseMode(mode string) string {
	switch strings.ToLower(mode) {
	case "markdown":
		return tgbotapi.ModeMarkdown
	case "html":
		return tgbotapi.ModeHTML
	default:
		return ""
	}
}

// chunkMessage splits text on the message budget, preferring newline
// boundaries.
func chunkMessage(text string) []string {
	if len(text) <= maxMessageLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			chunk = chunk[:maxMessageLen]
			if idx := strings.LastIndex(chunk, "\n"); idx > 0 {
				chunk = chunk[:idx]
			}
		}
		chunks = append(chunks, chunk)
		text = strings.TrimPrefix(text[len(chunk):], "\n")
	}
	return chunks
}

func inlineKeyboard(buttons [][]dispatch.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		tgRow := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			tgRow = append(tgRow, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, tgRow)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
