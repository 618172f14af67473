// Package robots caches per-domain robots.txt permission with a fixed TTL,
// in-flight de-duplication, and batched disk persistence. Lookups fail open:
// a site with a broken or unreachable robots.txt is treated as allowed.
package robots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	defaultTTL          = 24 * time.Hour
	defaultStuckTimeout = 30 * time.Second
	defaultFlushEvery   = 25
)

// Entry is one cached permission decision.
type Entry struct {
	Allowed   bool      `json:"allowed"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache answers "may we scrape this domain?" with TTL-bounded caching.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	inflight map[string]*inflightFetch
	dirty    int

	client     *http.Client
	userAgent  string
	ttl        time.Duration
	stuckAfter time.Duration
	flushEvery int
	cachePath  string
	logger     *zap.Logger

	// urlFor builds the robots.txt URL for a domain; swapped in tests.
	urlFor func(domain string) string
}

type inflightFetch struct {
	done    chan struct{}
	started time.Time
}

// Config controls cache behavior; zero values select defaults.
type Config struct {
	UserAgent    string
	TTL          time.Duration
	StuckTimeout time.Duration
	FlushEvery   int
	CachePath    string
	HTTPTimeout  time.Duration
}

// NewCache builds a Cache and loads any persisted entries from disk.
func NewCache(cfg Config, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = defaultStuckTimeout
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	c := &Cache{
		entries:    make(map[string]Entry),
		inflight:   make(map[string]*inflightFetch),
		client:     &http.Client{Timeout: cfg.HTTPTimeout},
		userAgent:  cfg.UserAgent,
		ttl:        cfg.TTL,
		stuckAfter: cfg.StuckTimeout,
		flushEvery: cfg.FlushEvery,
		cachePath:  cfg.CachePath,
		logger:     logger,
		urlFor: func(domain string) string {
			return fmt.Sprintf("https://%s/robots.txt", domain)
		},
	}
	c.load()
	return c
}

// Allowed reports whether scraping the domain's root is permitted.
// Concurrent lookups for the same domain share one fetch; a fetch stuck
// past the configured timeout is abandoned and a fresh one proceeds.
func (c *Cache) Allowed(ctx context.Context, domain string) bool {
	for {
		c.mu.Lock()
		if entry, ok := c.entries[domain]; ok && time.Since(entry.FetchedAt) < c.ttl {
			c.mu.Unlock()
			return entry.Allowed
		}
		fl, fetching := c.inflight[domain]
		if fetching && time.Since(fl.started) > c.stuckAfter {
			// Stuck marker: let this caller take over the fetch.
			fetching = false
		}
		if !fetching {
			fl = &inflightFetch{done: make(chan struct{}), started: time.Now()}
			c.inflight[domain] = fl
			c.mu.Unlock()
			allowed := c.fetch(ctx, domain)
			c.store(domain, allowed, fl)
			return allowed
		}
		c.mu.Unlock()

		select {
		case <-fl.done:
			// Loop to re-read the refreshed entry.
		case <-ctx.Done():
			return true
		case <-time.After(c.stuckAfter):
			// Waited out the marker; retry and take over.
		}
	}
}

func (c *Cache) store(domain string, allowed bool, fl *inflightFetch) {
	c.mu.Lock()
	c.entries[domain] = Entry{Allowed: allowed, FetchedAt: time.Now()}
	if c.inflight[domain] == fl {
		delete(c.inflight, domain)
	}
	c.dirty++
	shouldFlush := c.dirty >= c.flushEvery
	if shouldFlush {
		c.dirty = 0
	}
	snapshot := c.snapshotLocked(shouldFlush)
	c.mu.Unlock()

	close(fl.done)
	if shouldFlush {
		c.persist(snapshot)
	}
}

// fetch retrieves and evaluates robots.txt. Every failure mode returns true:
// a misconfigured site must not block the pipeline.
func (c *Cache) fetch(ctx context.Context, domain string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urlFor(domain), nil)
	if err != nil {
		return true
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots fetch failed; allowing",
			zap.String("domain", domain), zap.Error(err))
		return true
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Debug("robots parse failed; allowing",
			zap.String("domain", domain), zap.Error(err))
		return true
	}
	group := data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	return group.Test("/")
}

// Close flushes dirty entries to disk. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	snapshot := c.snapshotLocked(c.dirty > 0 || c.cachePath != "")
	c.dirty = 0
	c.mu.Unlock()
	c.persist(snapshot)
}

func (c *Cache) snapshotLocked(wanted bool) map[string]Entry {
	if !wanted || c.cachePath == "" {
		return nil
	}
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *Cache) load() {
	if c.cachePath == "" {
		return
	}
	raw, err := os.ReadFile(c.cachePath)
	if err != nil {
		return
	}
	var persisted map[string]Entry
	if err := json.Unmarshal(raw, &persisted); err != nil {
		c.logger.Warn("robots cache unreadable; starting empty",
			zap.String("path", c.cachePath), zap.Error(err))
		return
	}
	for domain, entry := range persisted {
		if time.Since(entry.FetchedAt) < c.ttl {
			c.entries[domain] = entry
		}
	}
}

// persist writes the whole map with temp-file-then-rename so a crash or a
// concurrent reader never sees a torn file.
func (c *Cache) persist(snapshot map[string]Entry) {
	if snapshot == nil || c.cachePath == "" {
		return
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		c.logger.Warn("marshal robots cache", zap.Error(err))
		return
	}
	dir := filepath.Dir(c.cachePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		c.logger.Warn("create robots cache dir", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(dir, "robots-*.json")
	if err != nil {
		c.logger.Warn("create robots cache temp file", zap.Error(err))
		return
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()           //nolint:errcheck // best effort cleanup
		os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		c.logger.Warn("write robots cache", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		return
	}
	if err := os.Rename(tmp.Name(), c.cachePath); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		c.logger.Warn("rename robots cache", zap.Error(err))
	}
}
