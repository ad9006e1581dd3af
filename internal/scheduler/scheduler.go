// Package scheduler fires periodic service invocations from per-chat cron
// schedules. One minute-aligned ticker drives everything; missed ticks are
// lost, never queued or replayed.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/majordomo/internal/config"
	"github.com/mattjoyce/majordomo/internal/flow"
	"github.com/mattjoyce/majordomo/internal/journal"
	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/snapshot"
)

// maintenanceEvery is the tick interval between journal and flow-state
// pruning passes; at a one-minute tick this is once a day.
const maintenanceEvery = 1440

type pairKey struct {
	chatID    string
	serviceID string
}

type failureState struct {
	count int
	until time.Time
}

// Scheduler evaluates every known chat's periodic entries once per tick and
// dispatches the due ones. Per (chat, service) pair at most one invocation is
// in flight; a tick that finds the previous run still going is skipped.
type Scheduler struct {
	cfg        config.SchedulerConfig
	retention  time.Duration
	dispatcher Dispatcher
	snapshots  SnapshotSource
	chats      ChatLister
	journal    *journal.Journal
	flows      *flow.Store
	logger     *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[pairKey]bool
	failures map[pairKey]*failureState
	ticks    int
}

func New(cfg config.SchedulerConfig, retention time.Duration, d Dispatcher, snaps SnapshotSource, chats ChatLister, jrnl *journal.Journal, flows *flow.Store) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		retention:  retention,
		dispatcher: d,
		snapshots:  snaps,
		chats:      chats,
		journal:    jrnl,
		flows:      flows,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
		inflight:   make(map[pairKey]bool),
		failures:   make(map[pairKey]*failureState),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "tick", s.cfg.Tick)
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop ends the tick loop and waits for in-flight dispatches to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one scheduling pass.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, chatID := range s.knownChats(ctx) {
		snap, err := s.snapshots.Get(ctx, chatID)
		if err != nil {
			s.logger.Warn("snapshot unavailable at tick, skipping chat",
				"chat_id", chatID, "error", err)
			continue
		}
		for _, route := range snap.Periodic {
			s.consider(ctx, snap, route, now)
		}
	}

	s.mu.Lock()
	s.ticks++
	runMaintenance := s.ticks%maintenanceEvery == 0
	s.mu.Unlock()
	if runMaintenance {
		s.maintain(ctx)
	}
}

// knownChats unions persistent registry rows with chats holding a live
// snapshot, deduplicated.
func (s *Scheduler) knownChats(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string

	persisted, err := s.chats.List(ctx)
	if err != nil {
		s.logger.Error("failed to list registered chats", "error", err)
	}
	for _, id := range append(persisted, s.snapshots.Known()...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) consider(ctx context.Context, snap *snapshot.Snapshot, route snapshot.PeriodicRoute, now time.Time) {
	loc := s.location(route, snap)
	isDue, err := due(route.Schedule, loc, now)
	if err != nil {
		s.logger.Error("invalid cron schedule",
			"chat_id", snap.ChatID, "service", route.ServiceID,
			"schedule", route.Schedule, "error", err)
		return
	}
	if !isDue {
		return
	}

	key := pairKey{chatID: snap.ChatID, serviceID: route.ServiceID}

	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		s.logger.Warn("previous run still in flight, skipping tick",
			"chat_id", snap.ChatID, "service", route.ServiceID)
		return
	}
	if f := s.failures[key]; f != nil && now.Before(f.until) {
		s.mu.Unlock()
		s.logger.Debug("backing off after failures",
			"chat_id", snap.ChatID, "service", route.ServiceID,
			"failures", f.count, "until", f.until)
		return
	}
	s.inflight[key] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		}()

		if !s.jitterSleep() {
			return
		}
		err := s.dispatcher.HandleScheduled(ctx, snap.ChatID, route, now)
		s.recordOutcome(key, now, err)
	}()
}

// jitterSleep waits a bounded random delay so chats sharing a schedule
// do not all fire in the same instant. Returns false when stopped mid-sleep.
func (s *Scheduler) jitterSleep() bool {
	if s.cfg.JitterMax <= 0 {
		return true
	}
	delay := time.Duration(rand.Int63n(int64(s.cfg.JitterMax)))
	select {
	case <-time.After(delay):
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *Scheduler) recordOutcome(key pairKey, now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, key)
		return
	}

	f := s.failures[key]
	if f == nil {
		f = &failureState{}
		s.failures[key] = f
	}
	f.count++

	backoff := s.cfg.BackoffBase << (f.count - 1)
	if backoff <= 0 || backoff > s.cfg.BackoffMax {
		backoff = s.cfg.BackoffMax
	}
	f.until = now.Add(backoff)

	s.logger.Warn("scheduled run failed, backing off",
		"chat_id", key.chatID, "service", key.serviceID,
		"failures", f.count, "backoff", backoff, "error", err)
}

// location resolves the timezone a schedule is evaluated in: per-entry config
// wins, then the chat's timezone, then UTC.
func (s *Scheduler) location(route snapshot.PeriodicRoute, snap *snapshot.Snapshot) *time.Location {
	for _, name := range []string{configTimezone(route.Config), snap.Timezone} {
		if name == "" {
			continue
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			s.logger.Warn("invalid timezone, falling back",
				"chat_id", snap.ChatID, "service", route.ServiceID,
				"timezone", name, "error", err)
			continue
		}
		return loc
	}
	return time.UTC
}

func configTimezone(cfg map[string]any) string {
	tz, _ := cfg["timezone"].(string)
	return tz
}

func (s *Scheduler) maintain(ctx context.Context) {
	if s.journal != nil && s.retention > 0 {
		if _, err := s.journal.Prune(ctx, s.retention); err != nil {
			s.logger.Error("journal prune failed", "error", err)
		}
	}
	if s.flows != nil {
		if n, err := s.flows.PruneExpired(ctx); err != nil {
			s.logger.Error("flow state prune failed", "error", err)
		} else if n > 0 {
			s.logger.Info("pruned expired flow state", "count", n)
		}
	}
}
