package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/registry"
)

// Builder assembles routing snapshots from remote config documents.
type Builder struct {
	client     *registry.Client
	chats      *ChatIndex
	defaultRef string
	logger     *slog.Logger
}

func NewBuilder(client *registry.Client, chats *ChatIndex, defaultRef string) *Builder {
	return &Builder{
		client:     client,
		chats:      chats,
		defaultRef: defaultRef,
		logger:     log.WithComponent("snapshot"),
	}
}

// Build fetches and projects one chat's routing snapshot. The chat config is
// load-bearing and its failure is fatal (a ResolutionError); individual
// service configs that fail to resolve are skipped with a warning, since
// partial availability beats taking the whole chat down.
func (b *Builder) Build(ctx context.Context, chatID string) (*Snapshot, error) {
	ref, err := b.configRef(ctx, chatID)
	if err != nil {
		return nil, err
	}

	chatCfg, err := b.client.FetchChatConfig(ctx, ref)
	if err != nil {
		return nil, err
	}

	services := b.fetchServices(ctx, chatCfg)

	snap := &Snapshot{
		ChatID:   chatID,
		BuiltAt:  time.Now().UTC(),
		Locale:   chatCfg.Locale,
		Timezone: chatCfg.Timezone,
		Commands: make(map[string]Route),
		ShortIDs: make(map[string]string),
	}

	for _, binding := range chatCfg.Services {
		svc, ok := services[binding.ServiceRef]
		if !ok {
			continue
		}
		route := b.buildRoute(svc, binding.Overrides)
		route.Expose = binding.Expose
		route.AdminOnly = binding.AdminOnly

		command := commandToken(route.Config)
		if command == "" {
			b.logger.Warn("service binding has no command token, skipping",
				"chat_id", chatID, "service", svc.ID)
			continue
		}
		if prev, exists := snap.Commands[command]; exists {
			b.logger.Warn("duplicate command token, later binding wins",
				"chat_id", chatID, "command", command,
				"replaced", prev.ServiceID, "service", svc.ID)
		}
		snap.Commands[command] = route
		b.registerShortID(snap, route)
	}

	for _, binding := range chatCfg.Listeners {
		if !binding.Enabled {
			continue
		}
		svc, ok := services[binding.ServiceRef]
		if !ok {
			continue
		}
		route := b.buildRoute(svc, binding.Overrides)
		snap.Listeners = append(snap.Listeners, route)
		b.registerShortID(snap, route)
	}

	for _, binding := range chatCfg.Periodic {
		svc, ok := services[binding.ServiceRef]
		if !ok {
			continue
		}
		route := b.buildRoute(svc, binding.Overrides)
		snap.Periodic = append(snap.Periodic, PeriodicRoute{
			Route:    route,
			Schedule: binding.Schedule,
		})
		b.registerShortID(snap, route)
	}

	return snap, nil
}

// configRef resolves the chat's active config reference: per-chat override
// when present, else the gateway default.
func (b *Builder) configRef(ctx context.Context, chatID string) (string, error) {
	override, err := b.chats.Lookup(ctx, chatID)
	if err != nil {
		return "", err
	}
	if override != "" {
		return override, nil
	}
	if b.defaultRef == "" {
		return "", fmt.Errorf("chat %s has no config url and no default is set", chatID)
	}
	return b.defaultRef, nil
}

// fetchServices resolves every distinct service ref in parallel. Failed refs
// are logged and omitted from the result.
func (b *Builder) fetchServices(ctx context.Context, cfg *registry.ChatConfig) map[string]*registry.ServiceConfig {
	refs := make(map[string]struct{})
	for _, s := range cfg.Services {
		refs[s.ServiceRef] = struct{}{}
	}
	for _, l := range cfg.Listeners {
		refs[l.ServiceRef] = struct{}{}
	}
	for _, p := range cfg.Periodic {
		refs[p.ServiceRef] = struct{}{}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		services = make(map[string]*registry.ServiceConfig, len(refs))
	)
	for ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			svc, err := b.client.FetchServiceConfig(ctx, ref)
			if err != nil {
				b.logger.Warn("service config unavailable, skipping binding",
					"chat_id", cfg.ID, "ref", ref, "error", err)
				return
			}
			mu.Lock()
			services[ref] = svc
			mu.Unlock()
		}(ref)
	}
	wg.Wait()
	return services
}

func (b *Builder) buildRoute(svc *registry.ServiceConfig, overrides map[string]any) Route {
	merged := registry.MergeConfig(svc.DefaultConfig, overrides)
	return Route{
		ServiceID:    svc.ID,
		ShortID:      ShortServiceID(svc.ID),
		Kind:         svc.Kind,
		Capabilities: svc.Capabilities,
		Config:       merged,
		Datasets:     registry.DatasetRefs(merged),
		Source:       svc.Source,
	}
}

func (b *Builder) registerShortID(snap *Snapshot, route Route) {
	if prev, exists := snap.ShortIDs[route.ShortID]; exists && prev != route.ServiceID {
		b.logger.Warn("short id collision, later binding wins",
			"chat_id", snap.ChatID, "short_id", route.ShortID,
			"replaced", prev, "service", route.ServiceID)
	}
	snap.ShortIDs[route.ShortID] = route.ServiceID
}

// commandToken extracts the lowercase trigger token from a merged config.
func commandToken(cfg map[string]any) string {
	raw, ok := cfg["command"].(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
}
