package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/majordomo/internal/config"
	"github.com/mattjoyce/majordomo/internal/log"
)

// maxDocumentBytes caps how much of a remote document we are willing to read.
const maxDocumentBytes = 4 << 20 // 4 MiB

// ResolutionError reports that a config document could not be fetched or
// failed structural validation.
type ResolutionError struct {
	Ref string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve config %q: %v", e.Ref, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Client is a read-only HTTP client for the remote config store. Fetched
// documents are immutable, so successful parses are held in a small TTL
// cache and structural validation is memoized by content hash.
type Client struct {
	base    *url.URL
	httpc   *http.Client
	retries int
	docTTL  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	chats     map[string]cachedDoc[*ChatConfig]
	services  map[string]cachedDoc[*ServiceConfig]
	validated map[[32]byte]error
}

type cachedDoc[T any] struct {
	doc       T
	fetchedAt time.Time
}

// New builds a Client from the gateway's registry configuration.
func New(cfg config.RegistryConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("registry base url must be http(s), got %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &Client{
		base:      base,
		httpc:     &http.Client{Timeout: cfg.Timeout},
		retries:   cfg.FetchRetries,
		docTTL:    cfg.DocumentTTL,
		logger:    log.WithComponent("registry"),
		now:       time.Now,
		chats:     make(map[string]cachedDoc[*ChatConfig]),
		services:  make(map[string]cachedDoc[*ServiceConfig]),
		validated: make(map[[32]byte]error),
	}, nil
}

// ResolveRef turns a document reference into an absolute URL. Absolute
// references are returned as-is; relative ones are joined onto the base.
func (c *Client) ResolveRef(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// WithinBase reports whether an absolute URL lives under the registry's
// base path. Chat config overrides pointing anywhere else are rejected.
func (c *Client) WithinBase(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return false
	}
	if u.Scheme != c.base.Scheme || u.Host != c.base.Host {
		return false
	}
	return strings.HasPrefix(u.Path, c.base.Path)
}

// FetchChatConfig fetches, parses and validates a chat config document.
func (c *Client) FetchChatConfig(ctx context.Context, ref string) (*ChatConfig, error) {
	docURL := c.ResolveRef(ref)

	c.mu.Lock()
	if entry, ok := c.chats[docURL]; ok && c.now().Sub(entry.fetchedAt) < c.docTTL {
		c.mu.Unlock()
		return entry.doc, nil
	}
	c.mu.Unlock()

	body, _, err := c.fetch(ctx, docURL, "")
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}
	if err := c.checkValidated(body, func() error {
		_, perr := ParseChatConfig(body)
		return perr
	}); err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}
	cfg, err := ParseChatConfig(body)
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}

	c.mu.Lock()
	c.chats[docURL] = cachedDoc[*ChatConfig]{doc: cfg, fetchedAt: c.now()}
	c.mu.Unlock()
	return cfg, nil
}

// FetchServiceConfig fetches, parses and validates a service config document.
func (c *Client) FetchServiceConfig(ctx context.Context, ref string) (*ServiceConfig, error) {
	docURL := c.ResolveRef(ref)

	c.mu.Lock()
	if entry, ok := c.services[docURL]; ok && c.now().Sub(entry.fetchedAt) < c.docTTL {
		c.mu.Unlock()
		return entry.doc, nil
	}
	c.mu.Unlock()

	body, _, err := c.fetch(ctx, docURL, "")
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}
	if err := c.checkValidated(body, func() error {
		_, perr := ParseServiceConfig(body)
		return perr
	}); err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}
	cfg, err := ParseServiceConfig(body)
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}

	c.mu.Lock()
	c.services[docURL] = cachedDoc[*ServiceConfig]{doc: cfg, fetchedAt: c.now()}
	c.mu.Unlock()
	return cfg, nil
}

// FetchDataset fetches raw dataset bytes. When etag is non-empty it is sent
// as If-None-Match; a 304 is reported via notModified with a nil body.
func (c *Client) FetchDataset(ctx context.Context, docURL, etag string) (body []byte, newETag string, notModified bool, err error) {
	body, resp, err := c.fetch(ctx, docURL, etag)
	if err != nil {
		return nil, "", false, err
	}
	if resp != nil && resp.StatusCode == http.StatusNotModified {
		return nil, etag, true, nil
	}
	if resp != nil {
		newETag = resp.Header.Get("ETag")
	}
	return body, newETag, false, nil
}

// checkValidated memoizes structural validation by content hash, so an
// unchanged document revalidates with a map lookup.
func (c *Client) checkValidated(body []byte, validate func() error) error {
	key := blake3.Sum256(body)
	c.mu.Lock()
	cached, ok := c.validated[key]
	c.mu.Unlock()
	if ok {
		return cached
	}
	err := validate()
	c.mu.Lock()
	c.validated[key] = err
	c.mu.Unlock()
	return err
}

// fetch performs a GET with bounded retry on transient failures (network
// errors and 5xx). Backoff doubles from 250ms up to 2s per attempt.
func (c *Client) fetch(ctx context.Context, docURL, etag string) ([]byte, *http.Response, error) {
	var lastErr error
	backoff := 250 * time.Millisecond

	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 2*time.Second {
				backoff *= 2
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("fetch attempt failed", "url", docURL, "attempt", attempt, "error", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotModified:
			_ = resp.Body.Close()
			return nil, resp, nil
		case resp.StatusCode == http.StatusOK:
			body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
			_ = resp.Body.Close()
			if rerr != nil {
				lastErr = fmt.Errorf("read body: %w", rerr)
				continue
			}
			if len(body) > maxDocumentBytes {
				return nil, nil, fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)
			}
			return body, resp, nil
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			c.logger.Warn("fetch attempt failed", "url", docURL, "attempt", attempt, "status", resp.StatusCode)
			continue
		default:
			// 4xx is not transient; do not retry.
			_ = resp.Body.Close()
			return nil, nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}
	}

	return nil, nil, fmt.Errorf("fetch %s after %d attempts: %w", docURL, c.retries, lastErr)
}
