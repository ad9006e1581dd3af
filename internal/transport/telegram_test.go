package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/majordomo/internal/dispatch"
	"github.com/mattjoyce/majordomo/internal/protocol"
)

type fakeBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	member   tgbotapi.ChatMember
	// failParseMode makes Send fail whenever the message carries a parse
	// mode, to exercise the plain-text fallback.
	failParseMode bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() { close(f.updates) }

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failParseMode {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			if m.ParseMode != "" {
				return tgbotapi.Message{}, errors.New("can't parse entities")
			}
		case tgbotapi.EditMessageTextConfig:
			if m.ParseMode != "" {
				return tgbotapi.Message{}, errors.New("can't parse entities")
			}
		}
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return f.member, nil
}

func (f *fakeBot) Self() tgbotapi.User {
	return tgbotapi.User{UserName: "majordomo_bot"}
}

func (f *fakeBot) sentMessages() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

// recordingHandler captures classified events.
type recordingHandler struct {
	mu         sync.Mutex
	commands   []string
	messages   []string
	callbacks  []string
	membership []bool
	seen       chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, 16)}
}

func (h *recordingHandler) OnCommand(_ context.Context, chatID, command, args string, _ int64, _ *protocol.Sender) {
	h.mu.Lock()
	h.commands = append(h.commands, chatID+"|"+command+"|"+args)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *recordingHandler) OnCallback(_ context.Context, chatID, callbackID, data string, _ int64, _ *protocol.Sender) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, chatID+"|"+callbackID+"|"+data)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *recordingHandler) OnMessage(_ context.Context, chatID, text string, _ int64, _ *protocol.Sender) {
	h.mu.Lock()
	h.messages = append(h.messages, chatID+"|"+text)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *recordingHandler) OnMembershipChange(_ context.Context, chatID string, botRemoved bool) {
	h.mu.Lock()
	h.membership = append(h.membership, botRemoved)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func waitEvent(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler event")
	}
}

func commandUpdate(chatID int64, text string, cmdLen int) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: 7, UserName: "alice"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func TestUpdateClassification(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)
	h := newRecordingHandler()
	tg.Start(context.Background(), h)
	defer tg.Stop()

	bot.updates <- commandUpdate(100, "/links next week", 6)
	waitEvent(t, h)

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		Chat:      &tgbotapi.Chat{ID: 100},
		From:      &tgbotapi.User{ID: 7},
		Text:      "just chatting",
	}}
	waitEvent(t, h)

	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 7},
		Data: "svc:abcd1234|page:2",
		Message: &tgbotapi.Message{
			MessageID: 3,
			Chat:      &tgbotapi.Chat{ID: 100},
		},
	}}
	waitEvent(t, h)

	bot.updates <- tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: 100},
		NewChatMember: tgbotapi.ChatMember{Status: "kicked"},
	}}
	waitEvent(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"100|links|next week"}, h.commands)
	assert.Equal(t, []string{"100|just chatting"}, h.messages)
	assert.Equal(t, []string{"100|cb-1|svc:abcd1234|page:2"}, h.callbacks)
	assert.Equal(t, []bool{true}, h.membership)
}

func TestMemberJoinIsMembershipChange(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)
	h := newRecordingHandler()
	tg.Start(context.Background(), h)
	defer tg.Stop()

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      5,
		Chat:           &tgbotapi.Chat{ID: 100},
		NewChatMembers: []tgbotapi.User{{ID: 42}},
	}}
	waitEvent(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []bool{false}, h.membership)
	assert.Empty(t, h.messages, "join service message must not reach listeners")
}

func TestSendReplyWithKeyboard(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)

	buttons := [][]dispatch.Button{{{Label: "More", Data: "svc:abcd1234|page:2"}}}
	require.NoError(t, tg.SendReply(context.Background(), "100", "hello", "markdown", buttons))

	sent := bot.sentMessages()
	require.Len(t, sent, 1)
	msg, ok := sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "More", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "svc:abcd1234|page:2", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestSendReplyChunksLongText(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)

	long := strings.Repeat("line of reasonable length\n", 400)
	buttons := [][]dispatch.Button{{{Label: "OK", Data: "svc:abcd1234"}}}
	require.NoError(t, tg.SendReply(context.Background(), "100", long, "", buttons))

	sent := bot.sentMessages()
	require.Greater(t, len(sent), 1, "long text must be split")

	for i, c := range sent {
		msg := c.(tgbotapi.MessageConfig)
		assert.LessOrEqual(t, len(msg.Text), maxMessageLen)
		if i < len(sent)-1 {
			assert.Nil(t, msg.ReplyMarkup, "keyboard belongs on the last chunk only")
		} else {
			assert.NotNil(t, msg.ReplyMarkup)
		}
	}
}

func TestSendReplyFallsBackToPlainText(t *testing.T) {
	bot := newFakeBot()
	bot.failParseMode = true
	tg := NewWithBot(bot)

	require.NoError(t, tg.SendReply(context.Background(), "100", "broken *markup", "markdown", nil))

	sent := bot.sentMessages()
	require.Len(t, sent, 1)
	msg := sent[0].(tgbotapi.MessageConfig)
	assert.Empty(t, msg.ParseMode, "retry must drop the parse mode")
	assert.Equal(t, "broken *markup", msg.Text)
}

func TestEditMessage(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)

	require.NoError(t, tg.EditMessage(context.Background(), "100", 17, "updated", ""))

	sent := bot.sentMessages()
	require.Len(t, sent, 1)
	edit, ok := sent[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 17, edit.MessageID)
	assert.Equal(t, "updated", edit.Text)
}

func TestAnswerCallback(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)

	require.NoError(t, tg.AnswerCallback(context.Background(), "cb-1", ""))
	require.Len(t, bot.requests, 1)
}

func TestIsChatAdmin(t *testing.T) {
	bot := newFakeBot()
	tg := NewWithBot(bot)

	for status, want := range map[string]bool{
		"creator":       true,
		"administrator": true,
		"member":        false,
		"left":          false,
	} {
		bot.member = tgbotapi.ChatMember{Status: status}
		got, err := tg.IsChatAdmin(context.Background(), "100", "7")
		require.NoError(t, err)
		assert.Equal(t, want, got, "status %q", status)
	}
}

func TestInvalidChatIDRejected(t *testing.T) {
	tg := NewWithBot(newFakeBot())
	err := tg.SendReply(context.Background(), "not-a-number", "hi", "", nil)
	assert.Error(t, err)
}
