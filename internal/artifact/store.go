package artifact

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/registry"
)

// maxArtifactBytes caps how large a downloaded service artifact may be.
const maxArtifactBytes = 64 << 20 // 64 MiB

// Store resolves a service's declared source to a local executable artifact.
// Artifacts are immutable: once indexed, a source is never refetched. URL
// sources are downloaded on first use; package and repo sources must be
// provisioned into the artifact directory out-of-band and are only looked up.
type Store struct {
	db     *sql.DB
	dir    string
	httpc  *http.Client
	logger *slog.Logger

	mu sync.Mutex // serializes first-time downloads
}

func NewStore(db *sql.DB, dir string) *Store {
	return &Store{
		db:     db,
		dir:    dir,
		httpc:  &http.Client{Timeout: 60 * time.Second},
		logger: log.WithComponent("artifact"),
	}
}

// Resolve returns the local executable path for a source, downloading and
// indexing it first if needed.
func (s *Store) Resolve(ctx context.Context, src registry.Source) (string, error) {
	key := sourceKey(src)
	if key == "" {
		return "", fmt.Errorf("artifact source declares no location")
	}

	if path, ok, err := s.lookup(ctx, key); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	if src.URL == "" {
		// package/repo artifacts arrive via provisioning, not download.
		return "", fmt.Errorf("artifact %q is not provisioned", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another invocation may have finished the download while we waited.
	if path, ok, err := s.lookup(ctx, key); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	return s.download(ctx, key, src)
}

// Provision registers a locally present artifact for a package or repo
// source. Used by out-of-band provisioning and by tests.
func (s *Store) Provision(ctx context.Context, src registry.Source, localPath string) error {
	key := sourceKey(src)
	if key == "" {
		return fmt.Errorf("artifact source declares no location")
	}
	hash, err := hashFile(localPath)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	if src.ContentHash != "" && hash != src.ContentHash {
		return fmt.Errorf("artifact %q content hash mismatch: want %s, got %s", key, src.ContentHash, hash)
	}
	return s.index(ctx, key, localPath, hash)
}

func (s *Store) lookup(ctx context.Context, key string) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		"SELECT local_path FROM artifact_index WHERE source_url = ?;", key).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup artifact: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		// Index row survived but the file did not; drop the row and refetch.
		s.logger.Warn("indexed artifact missing on disk", "source", key, "path", path)
		if _, derr := s.db.ExecContext(ctx, "DELETE FROM artifact_index WHERE source_url = ?;", key); derr != nil {
			return "", false, fmt.Errorf("drop stale artifact row: %w", derr)
		}
		return "", false, nil
	}
	return path, true, nil
}

func (s *Store) download(ctx context.Context, key string, src registry.Source) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch artifact: server returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if len(data) > maxArtifactBytes {
		return "", fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)
	}

	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if src.ContentHash != "" && hash != src.ContentHash {
		return "", fmt.Errorf("artifact %q content hash mismatch: want %s, got %s", key, src.ContentHash, hash)
	}

	path := filepath.Join(s.dir, hash)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o755); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}

	if err := s.index(ctx, key, path, hash); err != nil {
		return "", err
	}
	s.logger.Info("artifact resolved", "source", key, "hash", hash)
	return path, nil
}

func (s *Store) index(ctx context.Context, key, path, hash string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO artifact_index(source_url, local_path, content_hash, fetched_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(source_url) DO UPDATE SET
  local_path = excluded.local_path,
  content_hash = excluded.content_hash,
  fetched_at = excluded.fetched_at;
`, key, path, hash, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index artifact: %w", err)
	}
	return nil
}

// sourceKey is the artifact_index key for a source. URL sources key by the
// URL itself; package and repo sources key by their pinned reference.
func sourceKey(src registry.Source) string {
	switch {
	case src.URL != "":
		return src.URL
	case src.Package != "":
		return "package:" + src.Package + "@" + src.Version
	case src.Repo != "":
		return "repo:" + src.Repo + "@" + src.Commit
	default:
		return ""
	}
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
