// Package gateway is the composition root: it wires the registry, snapshot
// cache, flow store, sandbox executor, dispatch router, scheduler, and ops
// API together and runs the inbound update loop. Each inbound event is
// handled on its own goroutine; shutdown stops intake first and drains
// in-flight invocations up to a deadline.
package gateway

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/majordomo/internal/api"
	"github.com/mattjoyce/majordomo/internal/artifact"
	"github.com/mattjoyce/majordomo/internal/auth"
	"github.com/mattjoyce/majordomo/internal/config"
	"github.com/mattjoyce/majordomo/internal/dataset"
	"github.com/mattjoyce/majordomo/internal/dispatch"
	"github.com/mattjoyce/majordomo/internal/events"
	"github.com/mattjoyce/majordomo/internal/flow"
	"github.com/mattjoyce/majordomo/internal/journal"
	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/protocol"
	"github.com/mattjoyce/majordomo/internal/registry"
	"github.com/mattjoyce/majordomo/internal/sandbox"
	"github.com/mattjoyce/majordomo/internal/scheduler"
	"github.com/mattjoyce/majordomo/internal/snapshot"
	"github.com/mattjoyce/majordomo/internal/transport"
)

const defaultDrainTimeout = 30 * time.Second

// Transport is the chat platform surface the gateway drives. The Telegram
// adapter satisfies it; tests inject fakes.
type Transport interface {
	dispatch.Transport
	Start(ctx context.Context, handler transport.Handler)
	Stop()
	BotUsername() string
}

// Gateway owns the running service: update loop, scheduler, ops API, and
// graceful shutdown.
type Gateway struct {
	cfg       *config.Config
	transport Transport
	registry  *registry.Client
	chats     *snapshot.ChatIndex
	snapshots *snapshot.Cache
	router    *dispatch.Router
	scheduler *scheduler.Scheduler
	hub       *events.Hub
	apiServer *api.Server
	logger    *slog.Logger

	// invCtx outlives the run context so in-flight invocations can finish
	// during drain. Canceled only after the drain deadline.
	invCtx    context.Context
	invCancel context.CancelFunc

	inflight     sync.WaitGroup
	drainTimeout time.Duration
}

// New wires all components. The caller owns the database handle; the
// transport and executor are injectable for tests.
func New(cfg *config.Config, db *sql.DB, tp Transport, exec sandbox.Executor) (*Gateway, error) {
	client, err := registry.New(cfg.Registry)
	if err != nil {
		return nil, err
	}

	chats := snapshot.NewChatIndex(db)
	builder := snapshot.NewBuilder(client, chats, cfg.Registry.DefaultChatConfig)
	snapshots := snapshot.NewCache(builder, cfg.Snapshot.TTL)
	flows := flow.NewStore(db, cfg.Flow.TTL)
	datasets := dataset.NewCache(db, client)
	artifacts := artifact.NewStore(db, cfg.ArtifactDir())
	jrnl := journal.New(db)
	hub := events.NewHub(256)

	router := dispatch.New(dispatch.Deps{
		Snapshots: snapshots,
		Flows:     flows,
		Datasets:  datasets,
		Artifacts: artifacts,
		Executor:  exec,
		Transport: tp,
		Journal:   jrnl,
	}, dispatch.Options{
		SandboxLimits: sandbox.Limits{
			DefaultTimeout: cfg.Sandbox.DefaultTimeout,
			MaxTimeout:     cfg.Sandbox.MaxTimeout,
		},
		ConflictRetries: cfg.Flow.ConflictRetries,
		MaxConcurrent:   cfg.Listeners.MaxConcurrent,
		RatePerMinute:   cfg.Listeners.RatePerMinute,
		BotUsername:     tp.BotUsername(),
	})

	g := &Gateway{
		cfg:          cfg,
		transport:    tp,
		registry:     client,
		chats:        chats,
		snapshots:    snapshots,
		router:       router,
		hub:          hub,
		logger:       log.WithComponent("gateway"),
		drainTimeout: defaultDrainTimeout,
	}
	g.invCtx, g.invCancel = context.WithCancel(context.Background())

	g.scheduler = scheduler.New(cfg.Scheduler, cfg.Journal.Retention,
		scheduledDispatch{g}, snapshots, chats, jrnl, flows)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		g.apiServer = api.New(api.Config{Listen: cfg.API.Listen, Tokens: tokens},
			snapshots, jrnl, hub, log.WithComponent("api"))
	}

	return g, nil
}

// Run starts all loops and blocks until ctx is canceled, then shuts down:
// stop intake, stop the scheduler, drain in-flight invocations up to the
// drain deadline.
func (g *Gateway) Run(ctx context.Context) error {
	g.scheduler.Start(g.invCtx)
	g.transport.Start(ctx, g)

	errCh := make(chan error, 1)
	if g.apiServer != nil {
		go func() {
			if err := g.apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		g.logger.Error("ops API failed", "error", err)
		g.shutdown()
		return err
	}

	g.shutdown()
	return nil
}

func (g *Gateway) shutdown() {
	g.logger.Info("gateway shutting down")
	g.transport.Stop()
	g.scheduler.Stop()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.logger.Info("in-flight invocations drained")
	case <-time.After(g.drainTimeout):
		g.logger.Warn("drain deadline exceeded, abandoning in-flight invocations")
	}
	g.invCancel()
}

// OnCommand routes one slash command. Gateway builtins are handled inline,
// before any snapshot lookup; everything else goes through the router.
func (g *Gateway) OnCommand(ctx context.Context, chatID, command, args string, messageID int64, from *protocol.Sender) {
	g.spawn("command:"+command, chatID, func(ctx context.Context) error {
		if g.handleBuiltin(ctx, chatID, command, args, from) {
			return nil
		}
		return g.router.HandleCommand(ctx, chatID, command, args, messageID, from)
	})
}

func (g *Gateway) OnCallback(ctx context.Context, chatID, callbackID, data string, messageID int64, from *protocol.Sender) {
	g.spawn("callback", chatID, func(ctx context.Context) error {
		return g.router.HandleCallback(ctx, chatID, callbackID, data, messageID, from)
	})
}

func (g *Gateway) OnMessage(ctx context.Context, chatID, text string, messageID int64, from *protocol.Sender) {
	g.spawn("message", chatID, func(ctx context.Context) error {
		return g.router.HandleMessage(ctx, chatID, text, messageID, from)
	})
}

// OnMembershipChange invalidates the chat snapshot so the next event sees
// fresh routing. When the bot itself was removed, the chat's registry row is
// dropped too.
func (g *Gateway) OnMembershipChange(ctx context.Context, chatID string, botRemoved bool) {
	g.spawn("membership", chatID, func(ctx context.Context) error {
		if botRemoved {
			if err := g.chats.Remove(ctx, chatID); err != nil {
				g.logger.Error("failed to drop chat registration", "chat_id", chatID, "error", err)
			}
			g.logger.Info("bot removed from chat", "chat_id", chatID)
		}
		g.snapshots.Invalidate(chatID)
		g.hub.Publish(events.EventSnapshotEvicted, map[string]string{
			"chat_id": chatID,
			"reason":  "membership_change",
		})
		return nil
	})
}

// spawn runs one inbound event on its own goroutine, tracked for drain, and
// publishes invocation lifecycle events to the ops hub.
func (g *Gateway) spawn(trigger, chatID string, fn func(context.Context) error) {
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()

		g.hub.Publish(events.EventInvocationStarted, map[string]string{
			"chat_id": chatID,
			"trigger": trigger,
		})

		status := "ok"
		if err := fn(g.invCtx); err != nil {
			status = "error"
			g.logger.Error("event handling failed", "chat_id", chatID, "trigger", trigger, "error", err)
		}

		g.hub.Publish(events.EventInvocationFinished, map[string]string{
			"chat_id": chatID,
			"trigger": trigger,
			"status":  status,
		})
	}()
}

// scheduledDispatch forwards scheduler firings to the router, publishing
// lifecycle events on the way through.
type scheduledDispatch struct {
	g *Gateway
}

func (d scheduledDispatch) HandleScheduled(ctx context.Context, chatID string, route snapshot.PeriodicRoute, firedAt time.Time) error {
	d.g.hub.Publish(events.EventScheduleFired, map[string]string{
		"chat_id":    chatID,
		"service_id": route.ServiceID,
		"schedule":   route.Schedule,
	})
	err := d.g.router.HandleScheduled(ctx, chatID, route, firedAt)
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.g.hub.Publish(events.EventInvocationFinished, map[string]string{
		"chat_id":    chatID,
		"service_id": route.ServiceID,
		"trigger":    "schedule:" + route.Schedule,
		"status":     status,
	})
	return err
}
