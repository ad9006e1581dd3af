package flow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/majordomo/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "flow.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, 30*time.Minute)
}

func TestReadMissingReturnsAbsent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, found, err := s.Read(context.Background(), "c1", "svc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Fatalf("expected absent row")
	}
}

func TestWriteGuardedFreshRowStartsAtVersionOne(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{"step":1}`)); err != nil {
		t.Fatalf("WriteGuarded: %v", err)
	}

	snap, found, err := s.Read(ctx, "c1", "svc")
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	if snap.Version != 1 {
		t.Fatalf("expected version 1, got %d", snap.Version)
	}
}

func TestWriteGuardedStaleVersionNeverMutates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{"step":1}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.WriteGuarded(ctx, "c1", "svc", 1, json.RawMessage(`{"step":2}`)); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// A writer still holding version 1 must be rejected without any effect.
	err := s.WriteGuarded(ctx, "c1", "svc", 1, json.RawMessage(`{"step":"stale"}`))
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	snap, _, err := s.Read(ctx, "c1", "svc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Version != 2 {
		t.Fatalf("expected version 2 after rejected write, got %d", snap.Version)
	}
	var state map[string]any
	if err := json.Unmarshal(snap.State, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state["step"] != float64(2) {
		t.Fatalf("state mutated by stale write: %v", state)
	}
}

func TestWriteGuardedTwoWritersOneWinner(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WriteGuarded(ctx, "c1", "svc", 1, json.RawMessage(`{"winner":true}`))
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch err {
		case nil:
			wins++
		case ErrConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}
}

func TestExpiredRowReadsAsAbsentAndIsReclaimable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{"old":true}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Move the clock past the TTL.
	s.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	_, found, err := s.Read(ctx, "c1", "svc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Fatalf("expired row should read as absent")
	}

	// A fresh flow (expected 0) may take over the expired row.
	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{"new":true}`)); err != nil {
		t.Fatalf("take over expired row: %v", err)
	}
	snap, found, err := s.Read(ctx, "c1", "svc")
	if err != nil || !found {
		t.Fatalf("Read after takeover: found=%v err=%v", found, err)
	}
	if snap.Version != 1 {
		t.Fatalf("takeover should restart at version 1, got %d", snap.Version)
	}
}

func TestTimestampsStoredAsRFC3339Nano(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2026, 5, 4, 12, 30, 15, 123456789, time.UTC)
	s.now = func() time.Time { return fixed }

	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("WriteGuarded: %v", err)
	}

	var updatedAt, expiresAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT updated_at, expires_at FROM flow_state WHERE chat_id = 'c1' AND service_id = 'svc';").
		Scan(&updatedAt, &expiresAt)
	if err != nil {
		t.Fatalf("scan row: %v", err)
	}
	if want := fixed.Format(time.RFC3339Nano); updatedAt != want {
		t.Fatalf("updated_at = %q, want %q", updatedAt, want)
	}
	if want := fixed.Add(30 * time.Minute).Format(time.RFC3339Nano); expiresAt != want {
		t.Fatalf("expires_at = %q, want %q", expiresAt, want)
	}
}

func TestClearDeletesRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteGuarded(ctx, "c1", "svc", 0, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Clear(ctx, "c1", "svc"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, found, err := s.Read(ctx, "c1", "svc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Fatalf("row should be gone after Clear")
	}
	// Clearing again is not an error.
	if err := s.Clear(ctx, "c1", "svc"); err != nil {
		t.Fatalf("Clear (absent): %v", err)
	}
}

func TestStateSizeLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	big := make([]byte, DefaultMaxStateBytes+100_000)
	for i := range big {
		big[i] = 'a'
	}
	next := json.RawMessage(`{"blob":"` + string(big) + `"}`)
	if err := s.WriteGuarded(context.Background(), "c1", "svc", 0, next); err == nil {
		t.Fatalf("expected size limit error, got nil")
	}
}
