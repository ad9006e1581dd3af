package flow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const DefaultMaxStateBytes = 1 << 20 // 1 MiB

// ErrConflict reports that a guarded write lost the version race. The caller
// decides whether to re-read and retry.
var ErrConflict = errors.New("flow state version conflict")

// Snapshot is one consistent read of a flow's state.
type Snapshot struct {
	State   json.RawMessage
	Version int64
}

// Store persists per-(chat, service) conversation state with optimistic
// version guarding. Every write is a single conditional SQL statement, so
// concurrent writers against one key serialize on the version check and
// exactly one can win per version.
type Store struct {
	db       *sql.DB
	maxBytes int
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(db *sql.DB, ttl time.Duration) *Store {
	return &Store{
		db:       db,
		maxBytes: DefaultMaxStateBytes,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Read returns the current state and version for (chat, service).
// Expired rows read as absent.
func (s *Store) Read(ctx context.Context, chatID, serviceID string) (Snapshot, bool, error) {
	if chatID == "" || serviceID == "" {
		return Snapshot{}, false, fmt.Errorf("chat id and service id are required")
	}

	var (
		raw       string
		version   int64
		expiresAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT state, version, expires_at FROM flow_state WHERE chat_id = ? AND service_id = ?;",
		chatID, serviceID).Scan(&raw, &version, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read flow state: %w", err)
	}

	if expired(expiresAt, s.now()) {
		return Snapshot{}, false, nil
	}

	if !json.Valid([]byte(raw)) {
		return Snapshot{}, false, fmt.Errorf("stored flow state is invalid JSON for chat=%q service=%q", chatID, serviceID)
	}
	return Snapshot{State: json.RawMessage(raw), Version: version}, true, nil
}

// WriteGuarded stores next only if the current version still equals expected.
// expected 0 means "no live row exists"; a fresh row starts at version 1.
// On mismatch the write is rejected with ErrConflict and nothing changes.
func (s *Store) WriteGuarded(ctx context.Context, chatID, serviceID string, expected int64, next json.RawMessage) error {
	if chatID == "" || serviceID == "" {
		return fmt.Errorf("chat id and service id are required")
	}
	if expected < 0 {
		return fmt.Errorf("expected version must not be negative")
	}

	obj, err := decodeObjectOrEmpty(next)
	if err != nil {
		return fmt.Errorf("decode next state: %w", err)
	}
	blob, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal next state: %w", err)
	}
	if len(blob) > s.maxBytes {
		return fmt.Errorf("flow state exceeds max size (%d bytes)", s.maxBytes)
	}

	now := s.now().UTC()
	updatedAt := now.Format(time.RFC3339Nano)
	expiresAt := now.Add(s.ttl).Format(time.RFC3339Nano)
	nowStr := now.Format(time.RFC3339Nano)

	if expected == 0 {
		// Fresh flow: insert, or take over a row whose expiry has passed.
		// A live row means someone else created the flow first.
		res, err := s.db.ExecContext(ctx, `
INSERT INTO flow_state(chat_id, service_id, state, version, updated_at, expires_at)
VALUES(?, ?, ?, 1, ?, ?)
ON CONFLICT(chat_id, service_id) DO UPDATE SET
  state = excluded.state,
  version = 1,
  updated_at = excluded.updated_at,
  expires_at = excluded.expires_at
WHERE flow_state.expires_at IS NOT NULL AND flow_state.expires_at <= ?;
`, chatID, serviceID, string(blob), updatedAt, expiresAt, nowStr)
		if err != nil {
			return fmt.Errorf("insert flow state: %w", err)
		}
		return requireOneRow(res)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE flow_state SET
  state = ?,
  version = version + 1,
  updated_at = ?,
  expires_at = ?
WHERE chat_id = ? AND service_id = ? AND version = ?
  AND (expires_at IS NULL OR expires_at > ?);
`, string(blob), updatedAt, expiresAt, chatID, serviceID, expected, nowStr)
	if err != nil {
		return fmt.Errorf("update flow state: %w", err)
	}
	return requireOneRow(res)
}

// Clear deletes the flow outright. Clearing an absent flow is not an error.
func (s *Store) Clear(ctx context.Context, chatID, serviceID string) error {
	if chatID == "" || serviceID == "" {
		return fmt.Errorf("chat id and service id are required")
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM flow_state WHERE chat_id = ? AND service_id = ?;", chatID, serviceID)
	if err != nil {
		return fmt.Errorf("clear flow state: %w", err)
	}
	return nil
}

// PruneExpired removes rows whose expiry has passed. Reads already treat
// them as absent; this is housekeeping.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM flow_state WHERE expires_at IS NOT NULL AND expires_at <= ?;",
		s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune flow state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune flow state: %w", err)
	}
	return n, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func expired(expiresAt sql.NullString, now time.Time) bool {
	if !expiresAt.Valid || expiresAt.String == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
	if err != nil {
		// Unparseable expiry is treated as expired rather than immortal.
		return true
	}
	return !t.After(now)
}

func decodeObjectOrEmpty(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
