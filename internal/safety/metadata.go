package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// fallbackMetadataIPs is the static set of known cloud-metadata endpoints.
// It is always part of the live set, whether or not remote refresh succeeds.
var fallbackMetadataIPs = []string{
	"169.254.169.254",
	"169.254.170.2",
	"100.100.100.200",
	"169.254.169.249",
	"169.254.169.250",
	"169.254.0.1",
}

var ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// MetadataSet maintains the set of dangerous cloud-metadata IPs, optionally
// refreshed from remote SSRF target lists and cached to disk with a TTL.
type MetadataSet struct {
	mu        sync.RWMutex
	ips       map[string]struct{}
	fetchedAt time.Time

	sources   []string
	cachePath string
	ttl       time.Duration
	client    *http.Client
	logger    *zap.Logger
}

type metadataCacheFile struct {
	IPs       []string  `json:"ips"`
	FetchedAt time.Time `json:"fetched_at"`
}

// MetadataConfig controls remote refresh and disk caching.
type MetadataConfig struct {
	Sources   []string
	CachePath string
	TTL       time.Duration
}

// NewMetadataSet builds a set seeded with the static fallback IPs and, if a
// cache path is configured, any still-fresh entries persisted on disk.
func NewMetadataSet(cfg MetadataConfig, logger *zap.Logger) *MetadataSet {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	m := &MetadataSet{
		ips:       make(map[string]struct{}, len(fallbackMetadataIPs)),
		sources:   cfg.Sources,
		cachePath: cfg.CachePath,
		ttl:       cfg.TTL,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
	for _, ip := range fallbackMetadataIPs {
		m.ips[ip] = struct{}{}
	}
	m.loadCache()
	return m
}

// Contains reports whether ip is a known cloud-metadata endpoint.
func (m *MetadataSet) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ips[ip.String()]
	return ok
}

// Refresh fetches the configured source lists and merges every well-formed
// IPv4 address found into the set. Failures leave the current set intact;
// the static fallback entries are never evicted.
func (m *MetadataSet) Refresh(ctx context.Context) error {
	m.mu.RLock()
	fresh := time.Since(m.fetchedAt) < m.ttl
	m.mu.RUnlock()
	if fresh || len(m.sources) == 0 {
		return nil
	}

	merged := make(map[string]struct{})
	var lastErr error
	for _, src := range m.sources {
		ips, err := m.fetchSource(ctx, src)
		if err != nil {
			m.logger.Warn("metadata source fetch failed",
				zap.String("source", src), zap.Error(err))
			lastErr = err
			continue
		}
		for ip := range ips {
			merged[ip] = struct{}{}
		}
	}
	if len(merged) == 0 {
		if lastErr != nil {
			return fmt.Errorf("refresh metadata ips: %w", lastErr)
		}
		return nil
	}

	m.mu.Lock()
	for _, ip := range fallbackMetadataIPs {
		merged[ip] = struct{}{}
	}
	m.ips = merged
	m.fetchedAt = time.Now()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	return nil
}

func (m *MetadataSet) fetchSource(ctx context.Context, src string) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("new metadata request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata list: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata list status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read metadata list: %w", err)
	}

	found := make(map[string]struct{})
	for _, candidate := range ipPattern.FindAllString(string(body), -1) {
		if parsed := net.ParseIP(candidate); parsed != nil {
			found[parsed.String()] = struct{}{}
		}
	}
	return found, nil
}

func (m *MetadataSet) snapshotLocked() metadataCacheFile {
	out := metadataCacheFile{FetchedAt: m.fetchedAt}
	for ip := range m.ips {
		out.IPs = append(out.IPs, ip)
	}
	return out
}

func (m *MetadataSet) loadCache() {
	if m.cachePath == "" {
		return
	}
	raw, err := os.ReadFile(m.cachePath)
	if err != nil {
		return
	}
	var cached metadataCacheFile
	if err := json.Unmarshal(raw, &cached); err != nil {
		m.logger.Warn("metadata cache unreadable; ignoring",
			zap.String("path", m.cachePath), zap.Error(err))
		return
	}
	if time.Since(cached.FetchedAt) > m.ttl {
		return
	}
	for _, ip := range cached.IPs {
		if parsed := net.ParseIP(ip); parsed != nil {
			m.ips[parsed.String()] = struct{}{}
		}
	}
	m.fetchedAt = cached.FetchedAt
}

// persist writes the cache file with a temp-file-then-rename so concurrent
// readers never observe a torn write.
func (m *MetadataSet) persist(snapshot metadataCacheFile) {
	if m.cachePath == "" {
		return
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		m.logger.Warn("marshal metadata cache", zap.Error(err))
		return
	}
	dir := filepath.Dir(m.cachePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		m.logger.Warn("create metadata cache dir", zap.Error(err))
		return
	}
	tmp, err := os.CreateTemp(dir, "metadata-*.json")
	if err != nil {
		m.logger.Warn("create metadata cache temp file", zap.Error(err))
		return
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()           //nolint:errcheck // best effort cleanup
		os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		m.logger.Warn("write metadata cache", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		m.logger.Warn("close metadata cache temp file", zap.Error(err))
		return
	}
	if err := os.Rename(tmp.Name(), m.cachePath); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best effort cleanup
		m.logger.Warn("rename metadata cache", zap.Error(err))
	}
}
