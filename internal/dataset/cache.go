package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/registry"
)

// DefaultTTLSeconds applies when a dataset reference declares no TTL.
const DefaultTTLSeconds = 300

// FetchError reports that a dataset could not be fetched and no previously
// validated copy exists to fall back on.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch dataset %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports that a fetched document failed schema validation.
// The cache is never mutated by an invalid document.
type ValidationError struct {
	URL    string
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dataset %s failed %s validation: %v", e.URL, e.Schema, e.Err)
}
func (e *ValidationError) Unwrap() error { return e.Err }

// Fetcher is the slice of the registry client the cache needs.
type Fetcher interface {
	FetchDataset(ctx context.Context, url, etag string) (body []byte, etagOut string, notModified bool, err error)
}

// Cache is the TTL-cached, schema-gated dataset store. Rows are guarded
// per URL; unrelated datasets never contend.
type Cache struct {
	db      *sql.DB
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCache(db *sql.DB, fetcher Fetcher) *Cache {
	return &Cache{
		db:      db,
		fetcher: fetcher,
		logger:  log.WithComponent("dataset"),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Resolve returns the validated document for every declared reference,
// keyed by the reference key. Any single unusable dataset fails the whole
// resolution: a service never runs with a partial dataset set.
func (c *Cache) Resolve(ctx context.Context, refs []registry.DatasetRef) (map[string]json.RawMessage, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(refs))
	for _, ref := range refs {
		doc, err := c.resolveOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[ref.Key] = doc
	}
	return out, nil
}

func (c *Cache) resolveOne(ctx context.Context, ref registry.DatasetRef) (json.RawMessage, error) {
	lock := c.urlLock(ref.URL)
	lock.Lock()
	defer lock.Unlock()

	row, found, err := c.read(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	ttl := ref.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultTTLSeconds
	}

	if found && row.schema == ref.Schema && c.now().Before(row.fetchedAt.Add(time.Duration(ttl)*time.Second)) {
		return row.document, nil
	}

	// The validator tag is only usable when the cached row was validated
	// under the same schema; otherwise a 304 would smuggle an unvalidated
	// shape through.
	var etag string
	if found && row.schema == ref.Schema {
		etag = row.validatorTag
	}

	body, newETag, notModified, err := c.fetcher.FetchDataset(ctx, ref.URL, etag)
	if err != nil {
		if found && row.schema == ref.Schema {
			// Stale-but-valid beats failing the invocation.
			c.logger.Warn("dataset fetch failed, serving stale copy", "url", ref.URL, "error", err)
			return row.document, nil
		}
		return nil, &FetchError{URL: ref.URL, Err: err}
	}

	if notModified && found {
		if err := c.touch(ctx, ref.URL); err != nil {
			return nil, err
		}
		return row.document, nil
	}

	if err := Validate(ref.Schema, body); err != nil {
		// The previously validated row, if any, stays untouched.
		return nil, &ValidationError{URL: ref.URL, Schema: ref.Schema, Err: err}
	}

	if err := c.store(ctx, ref, body, newETag, ttl); err != nil {
		return nil, err
	}
	return body, nil
}

type cacheRow struct {
	schema       string
	document     json.RawMessage
	validatorTag string
	fetchedAt    time.Time
}

func (c *Cache) read(ctx context.Context, url string) (cacheRow, bool, error) {
	var (
		row       cacheRow
		doc       string
		tag       sql.NullString
		fetchedAt string
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT schema, document, validator_tag, fetched_at FROM dataset_cache WHERE url = ?;",
		url).Scan(&row.schema, &doc, &tag, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cacheRow{}, false, nil
	}
	if err != nil {
		return cacheRow{}, false, fmt.Errorf("read dataset cache: %w", err)
	}
	row.document = json.RawMessage(doc)
	if tag.Valid {
		row.validatorTag = tag.String
	}
	if t, err := time.Parse(time.RFC3339Nano, fetchedAt); err == nil {
		row.fetchedAt = t
	}
	return row, true, nil
}

func (c *Cache) store(ctx context.Context, ref registry.DatasetRef, doc []byte, etag string, ttl int) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO dataset_cache(url, schema, document, validator_tag, fetched_at, ttl_seconds)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
  schema = excluded.schema,
  document = excluded.document,
  validator_tag = excluded.validator_tag,
  fetched_at = excluded.fetched_at,
  ttl_seconds = excluded.ttl_seconds;
`, ref.URL, ref.Schema, string(doc), nullable(etag), c.now().UTC().Format(time.RFC3339Nano), ttl)
	if err != nil {
		return fmt.Errorf("store dataset: %w", err)
	}
	return nil
}

func (c *Cache) touch(ctx context.Context, url string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE dataset_cache SET fetched_at = ? WHERE url = ?;",
		c.now().UTC().Format(time.RFC3339Nano), url)
	if err != nil {
		return fmt.Errorf("refresh dataset freshness: %w", err)
	}
	return nil
}

func (c *Cache) urlLock(url string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[url]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[url] = lock
	}
	return lock
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
