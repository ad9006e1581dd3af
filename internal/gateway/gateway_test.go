package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/majordomo/internal/config"
	"github.com/mattjoyce/majordomo/internal/dispatch"
	"github.com/mattjoyce/majordomo/internal/events"
	"github.com/mattjoyce/majordomo/internal/protocol"
	"github.com/mattjoyce/majordomo/internal/sandbox"
	sandboxmocks "github.com/mattjoyce/majordomo/internal/sandbox/mocks"
	"github.com/mattjoyce/majordomo/internal/snapshot"
	"github.com/mattjoyce/majordomo/internal/storage"
	"github.com/mattjoyce/majordomo/internal/transport"
)

// fakeTransport implements Transport; replies land on a channel so tests can
// wait for the async event goroutines.
type fakeTransport struct {
	replies chan string
	admins  map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		replies: make(chan string, 16),
		admins:  make(map[string]bool),
	}
}

func (f *fakeTransport) SendReply(ctx context.Context, chatID, text, parseMode string, buttons [][]dispatch.Button) error {
	f.replies <- text
	return nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, chatID string, messageID int64, text, parseMode string) error {
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (f *fakeTransport) IsChatAdmin(ctx context.Context, chatID, userID string) (bool, error) {
	return f.admins[userID], nil
}

func (f *fakeTransport) Start(ctx context.Context, handler transport.Handler) {}
func (f *fakeTransport) Stop()                                                {}
func (f *fakeTransport) BotUsername() string                                  { return "majordomo_bot" }

func (f *fakeTransport) waitReply(t *testing.T) string {
	t.Helper()
	select {
	case text := <-f.replies:
		return text
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reply")
		return ""
	}
}

type testGateway struct {
	gw        *Gateway
	transport *fakeTransport
	executor  *sandboxmocks.MockExecutor
	db        *sql.DB
	baseURL   string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/chats/default.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "chat-1",
			"services": [{"service_ref": "services/links.json", "expose": true}]
		}`)
	})
	mux.HandleFunc("/chats/other.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "chat-1", "services": []}`)
	})
	mux.HandleFunc("/services/links.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"id": "svc.links", "kind": "single_command",
			"source": {"url": %q},
			"default_config": {"command": "/links"}
		}`, srv.URL+"/artifacts/links")
	})
	mux.HandleFunc("/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#!/bin/sh\nexit 0\n")
	})

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.BootstrapSQLite(ctx, db))

	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Registry.BaseURL = srv.URL
	cfg.Registry.DefaultChatConfig = "chats/default.json"
	cfg.Registry.Timeout = 2 * time.Second
	cfg.Registry.FetchRetries = 1

	ft := newFakeTransport()
	exec := sandboxmocks.NewMockExecutor(ctrl)

	gw, err := New(cfg, db, ft, exec)
	require.NoError(t, err)

	return &testGateway{gw: gw, transport: ft, executor: exec, db: db, baseURL: srv.URL}
}

func (tg *testGateway) waitHubEvent(t *testing.T, eventType string) events.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range tg.gw.hub.SnapshotSince(0) {
			if ev.Type == eventType {
				return ev
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for hub event %q", eventType)
	return events.Event{}
}

func sender(id string) *protocol.Sender {
	return &protocol.Sender{ID: id, Username: "user_" + id}
}

func TestBuiltinReloadRequiresAdmin(t *testing.T) {
	tg := newTestGateway(t)

	tg.gw.OnCommand(context.Background(), "chat-1", "majordomo_reload", "", 1, sender("u1"))
	assert.Equal(t, adminOnlyReply, tg.transport.waitReply(t))
}

func TestBuiltinReloadEvictsSnapshot(t *testing.T) {
	tg := newTestGateway(t)
	tg.transport.admins["u1"] = true

	tg.gw.OnCommand(context.Background(), "chat-1", "majordomo_reload", "", 1, sender("u1"))
	assert.Equal(t, reloadDoneReply, tg.transport.waitReply(t))

	ev := tg.waitHubEvent(t, events.EventSnapshotEvicted)
	assert.Contains(t, string(ev.Data), "chat-1")
}

func TestBuiltinReloadCaseAndMention(t *testing.T) {
	tg := newTestGateway(t)
	tg.transport.admins["u1"] = true

	tg.gw.OnCommand(context.Background(), "chat-1", "/MAJORDOMO_RELOAD@Majordomo_Bot", "", 1, sender("u1"))
	assert.Equal(t, reloadDoneReply, tg.transport.waitReply(t))
}

func TestBuiltinConfigRepointsChat(t *testing.T) {
	tg := newTestGateway(t)
	tg.transport.admins["u1"] = true

	url := tg.baseURL + "/chats/other.json"
	tg.gw.OnCommand(context.Background(), "chat-1", "majordomo_config", url, 1, sender("u1"))
	assert.Equal(t, configUpdatedReply, tg.transport.waitReply(t))

	got, err := snapshot.NewChatIndex(tg.db).Lookup(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, url, got)

	ev := tg.waitHubEvent(t, events.EventChatRepointed)
	assert.Contains(t, string(ev.Data), url)
}

func TestBuiltinConfigRejectsForeignURL(t *testing.T) {
	tg := newTestGateway(t)
	tg.transport.admins["u1"] = true

	tg.gw.OnCommand(context.Background(), "chat-1", "majordomo_config", "https://evil.example/cfg.json", 1, sender("u1"))
	assert.Equal(t, configDeniedReply, tg.transport.waitReply(t))

	got, err := snapshot.NewChatIndex(tg.db).Lookup(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuiltinConfigUsage(t *testing.T) {
	tg := newTestGateway(t)
	tg.transport.admins["u1"] = true

	tg.gw.OnCommand(context.Background(), "chat-1", "majordomo_config", "   ", 1, sender("u1"))
	assert.Equal(t, configUsageReply, tg.transport.waitReply(t))
}

func TestCommandRoutesThroughSandbox(t *testing.T) {
	tg := newTestGateway(t)

	tg.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, spec *sandbox.Spec) (*protocol.Result, error) {
			assert.Equal(t, "svc.links", spec.Payload.Context.ServiceID)
			return &protocol.Result{Kind: "reply", Text: "here are your links"}, nil
		})

	tg.gw.OnCommand(context.Background(), "chat-1", "links", "", 1, sender("u1"))
	assert.Equal(t, "here are your links", tg.transport.waitReply(t))

	ev := tg.waitHubEvent(t, events.EventInvocationFinished)
	assert.Contains(t, string(ev.Data), `"status":"ok"`)
}

func TestMembershipChangeInvalidatesSnapshot(t *testing.T) {
	tg := newTestGateway(t)

	tg.gw.OnMembershipChange(context.Background(), "chat-1", false)
	ev := tg.waitHubEvent(t, events.EventSnapshotEvicted)
	assert.Contains(t, string(ev.Data), "membership_change")
}

func TestBotRemovalDropsChatRegistration(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	chats := snapshot.NewChatIndex(tg.db)
	require.NoError(t, chats.Upsert(ctx, "chat-1", tg.baseURL+"/chats/other.json"))

	tg.gw.OnMembershipChange(ctx, "chat-1", true)
	tg.waitHubEvent(t, events.EventSnapshotEvicted)

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := chats.Lookup(ctx, "chat-1")
		require.NoError(t, err)
		if got == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("chat registration still present: %q", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownDrainsInflight(t *testing.T) {
	tg := newTestGateway(t)

	release := make(chan struct{})
	tg.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, spec *sandbox.Spec) (*protocol.Result, error) {
			<-release
			return &protocol.Result{Kind: "none"}, nil
		})

	tg.gw.OnCommand(context.Background(), "chat-1", "links", "", 1, sender("u1"))

	done := make(chan struct{})
	go func() {
		tg.gw.shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned before in-flight invocation finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete after drain")
	}
}

func TestNormalizeBuiltin(t *testing.T) {
	cases := map[string]string{
		"majordomo_reload":                "majordomo_reload",
		"/majordomo_reload":               "majordomo_reload",
		"/Majordomo_Config@majordomo_bot": "majordomo_config",
		" /majordomo_reload ":             "majordomo_reload",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeBuiltin(in), "input %q", in)
	}
}
