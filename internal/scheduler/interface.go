package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/majordomo/internal/snapshot"
)

//go:generate mockgen -source=interface.go -destination=mocks/mock_interface.go -package=mocks

// Dispatcher runs one periodic route to completion.
type Dispatcher interface {
	HandleScheduled(ctx context.Context, chatID string, route snapshot.PeriodicRoute, firedAt time.Time) error
}

// SnapshotSource provides per-chat routing snapshots and the set of chats
// currently holding one.
type SnapshotSource interface {
	Get(ctx context.Context, chatID string) (*snapshot.Snapshot, error)
	Known() []string
}

// ChatLister enumerates chats with persistent registry rows.
type ChatLister interface {
	List(ctx context.Context) ([]string, error)
}
