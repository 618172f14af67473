// Package memory provides an in-memory domain record store. It backs tests
// and small one-shot runs where standing up Postgres is not worth it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// Store keeps domain records in a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	records map[string]*pipeline.DomainRecord
	now     func() time.Time
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		records: map[string]*pipeline.DomainRecord{},
		now:     time.Now,
	}
}

// IsDomainScraped implements pipeline.Store.
func (s *Store) IsDomainScraped(_ context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[domain]
	return ok && rec.Scraped(), nil
}

// IsDomainClassified implements pipeline.Store.
func (s *Store) IsDomainClassified(_ context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[domain]
	return ok && rec.Classified(), nil
}

// GetDomainData returns a copy of the record, or nil when absent.
func (s *Store) GetDomainData(_ context.Context, domain string) (*pipeline.DomainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[domain]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

// StoreScrapeResults implements pipeline.Store. Failed fetches store empty
// text so the row still counts as scraped.
func (s *Store) StoreScrapeResults(_ context.Context, domain, text string, scrapeErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(domain)
	now := s.now().UTC()
	rec.ScrapedText = &text
	rec.ScrapeError = scrapeErr
	rec.LastScraped = &now
	return nil
}

// StoreClassificationResults implements pipeline.Store.
func (s *Store) StoreClassificationResults(_ context.Context, result pipeline.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(result.Domain)
	at := result.LastClassified.UTC()
	rec.Category = &result.Category
	rec.Subcategory = &result.Subcategory
	rec.Confidence = &result.Confidence
	rec.Explanation = &result.Explanation
	rec.Source = &result.Source
	rec.LastClassified = &at
	rec.ClassifierError = nil
	if result.Error != nil {
		msg := result.Error.Error()
		rec.ClassifierError = &msg
	}
	return nil
}

// GetUnclassifiedDomains implements pipeline.Store.
func (s *Store) GetUnclassifiedDomains(_ context.Context, limit int) ([]string, error) {
	return s.list(limit, func(rec *pipeline.DomainRecord) bool {
		return rec.Scraped() && !rec.Classified()
	}), nil
}

// RetryFailedDomains implements pipeline.Store.
func (s *Store) RetryFailedDomains(_ context.Context, limit int) ([]string, error) {
	return s.list(limit, func(rec *pipeline.DomainRecord) bool {
		return rec.ClassifierError != nil
	}), nil
}

// GetLowConfidenceDomains implements pipeline.Store.
func (s *Store) GetLowConfidenceDomains(_ context.Context, threshold, limit int) ([]string, error) {
	return s.list(limit, func(rec *pipeline.DomainRecord) bool {
		return rec.Classified() && rec.Confidence != nil && *rec.Confidence < threshold
	}), nil
}

// FlagForReview implements pipeline.Store.
func (s *Store) FlagForReview(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[domain]
	if !ok {
		return &pipeline.DomainError{Kind: pipeline.KindDomainNotFound, Message: domain}
	}
	rec.FlaggedForReview = true
	return nil
}

// Stats implements pipeline.Store.
func (s *Store) Stats(context.Context) (pipeline.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats pipeline.Stats
	for _, rec := range s.records {
		stats.TotalDomains++
		if rec.Scraped() {
			stats.ScrapedDomains++
			if !rec.Classified() {
				stats.PendingClassification++
			}
		}
		if rec.Classified() {
			stats.ClassifiedDomains++
		}
		if rec.FlaggedForReview {
			stats.FlaggedForReview++
		}
	}
	return stats, nil
}

// Close implements pipeline.Store.
func (s *Store) Close() {}

func (s *Store) record(domain string) *pipeline.DomainRecord {
	rec, ok := s.records[domain]
	if !ok {
		rec = &pipeline.DomainRecord{Domain: domain}
		s.records[domain] = rec
	}
	return rec
}

func (s *Store) list(limit int, keep func(*pipeline.DomainRecord) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var domains []string
	for dom, rec := range s.records {
		if keep(rec) {
			domains = append(domains, dom)
		}
	}
	sort.Strings(domains)
	if limit > 0 && len(domains) > limit {
		domains = domains[:limit]
	}
	return domains
}
