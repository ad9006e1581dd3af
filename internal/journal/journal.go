// Package journal records one row per sandbox invocation for operator
// inspection. Rows are append-only and pruned by age; nothing in the routing
// path ever reads them.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/majordomo/internal/log"
)

// Invocation statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusTimeout  = "timeout"
	StatusProtocol = "protocol"
	StatusDenied   = "denied"
	StatusConflict = "conflict"
)

// Entry is one invocation record.
type Entry struct {
	ID          string
	ChatID      string
	ServiceID   string
	Kind        string
	Trigger     string
	Status      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is derived, not stored by the caller.
func (e *Entry) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: log.WithComponent("journal")}
}

// Record appends one entry. Journal writes are best-effort from the caller's
// perspective; a failed insert is logged, never propagated into the event
// path.
func (j *Journal) Record(ctx context.Context, e *Entry) {
	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO invocation_log
		   (id, chat_id, service_id, kind, trigger, status, error,
		    started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChatID, e.ServiceID, e.Kind, e.Trigger, e.Status, errText,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.CompletedAt.UTC().Format(time.RFC3339Nano),
		e.Duration().Milliseconds())
	if err != nil {
		j.logger.Error("failed to record invocation", "invocation_id", e.ID, "error", err)
	}
}

// Recent returns the newest entries for a chat, most recent first. An empty
// chatID returns entries across all chats.
func (j *Journal) Recent(ctx context.Context, chatID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, chat_id, service_id, kind, trigger, status,
	                 COALESCE(error, ''), started_at, completed_at
	          FROM invocation_log`
	args := []any{}
	if chatID != "" {
		query += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, completed string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.ServiceID, &e.Kind, &e.Trigger,
			&e.Status, &e.Error, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and reports how many
// were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM invocation_log WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune journal rows affected: %w", err)
	}
	if n > 0 {
		j.logger.Info("pruned journal entries", "count", n, "retention", retention)
	}
	return n, nil
}
