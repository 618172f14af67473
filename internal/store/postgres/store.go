// Package postgres provides the Postgres-backed domain record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// Config controls the Postgres connection pool for domain rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists domain records in the domains table.
type Store struct {
	pool dbPool
	now  func() time.Time
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// IsDomainScraped reports whether a scrape attempt has been recorded. A row
// counts as scraped whenever scraped_text is non-null, including the empty
// string written for failed fetches.
func (s *Store) IsDomainScraped(ctx context.Context, domain string) (bool, error) {
	var scraped bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM domains WHERE domain = $1 AND scraped_text IS NOT NULL)`,
		domain,
	).Scan(&scraped)
	if err != nil {
		return false, fmt.Errorf("query scraped state for %s: %w", domain, err)
	}
	return scraped, nil
}

// IsDomainClassified reports whether the domain carries a category.
func (s *Store) IsDomainClassified(ctx context.Context, domain string) (bool, error) {
	var classified bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM domains WHERE domain = $1 AND category IS NOT NULL)`,
		domain,
	).Scan(&classified)
	if err != nil {
		return false, fmt.Errorf("query classified state for %s: %w", domain, err)
	}
	return classified, nil
}

// GetDomainData loads the full record for a domain, or nil when absent.
func (s *Store) GetDomainData(ctx context.Context, domain string) (*pipeline.DomainRecord, error) {
	var rec pipeline.DomainRecord
	err := s.pool.QueryRow(ctx, `
SELECT domain, scraped_text, scrape_error, last_scraped,
       category, subcategory, confidence, explanation, source,
       classifier_error, last_classified, flagged_for_review
FROM domains WHERE domain = $1`,
		domain,
	).Scan(
		&rec.Domain, &rec.ScrapedText, &rec.ScrapeError, &rec.LastScraped,
		&rec.Category, &rec.Subcategory, &rec.Confidence, &rec.Explanation, &rec.Source,
		&rec.ClassifierError, &rec.LastClassified, &rec.FlaggedForReview,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record for %s: %w", domain, err)
	}
	return &rec, nil
}

// StoreScrapeResults upserts the fetch outcome for a domain. Failures write
// an empty text so the row still counts as scraped.
func (s *Store) StoreScrapeResults(ctx context.Context, domain, text string, scrapeErr *string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO domains (domain, scraped_text, scrape_error, last_scraped)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE SET
	scraped_text = EXCLUDED.scraped_text,
	scrape_error = EXCLUDED.scrape_error,
	last_scraped = EXCLUDED.last_scraped`,
		domain, text, scrapeErr, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store scrape results for %s: %w", domain, err)
	}
	return nil
}

// StoreClassificationResults upserts the classification outcome.
func (s *Store) StoreClassificationResults(ctx context.Context, result pipeline.ClassificationResult) error {
	var classifierErr *string
	if result.Error != nil {
		msg := result.Error.Error()
		classifierErr = &msg
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO domains (domain, category, subcategory, confidence, explanation, source, classifier_error, last_classified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (domain) DO UPDATE SET
	category = EXCLUDED.category,
	subcategory = EXCLUDED.subcategory,
	confidence = EXCLUDED.confidence,
	explanation = EXCLUDED.explanation,
	source = EXCLUDED.source,
	classifier_error = EXCLUDED.classifier_error,
	last_classified = EXCLUDED.last_classified`,
		result.Domain, result.Category, result.Subcategory, result.Confidence,
		result.Explanation, result.Source, classifierErr, result.LastClassified.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store classification results for %s: %w", result.Domain, err)
	}
	return nil
}

// GetUnclassifiedDomains lists scraped domains that have no category yet.
func (s *Store) GetUnclassifiedDomains(ctx context.Context, limit int) ([]string, error) {
	return s.listDomains(ctx, `
SELECT domain FROM domains
WHERE scraped_text IS NOT NULL AND category IS NULL
ORDER BY domain LIMIT $1`, limit)
}

// RetryFailedDomains lists domains whose classification recorded an error.
func (s *Store) RetryFailedDomains(ctx context.Context, limit int) ([]string, error) {
	return s.listDomains(ctx, `
SELECT domain FROM domains
WHERE classifier_error IS NOT NULL
ORDER BY domain LIMIT $1`, limit)
}

// GetLowConfidenceDomains lists classified domains below the confidence
// threshold.
func (s *Store) GetLowConfidenceDomains(ctx context.Context, threshold, limit int) ([]string, error) {
	return s.listDomains(ctx, `
SELECT domain FROM domains
WHERE category IS NOT NULL AND confidence < $1
ORDER BY domain LIMIT $2`, threshold, limit)
}

func (s *Store) listDomains(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan domain row: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain rows: %w", err)
	}
	return domains, nil
}

// FlagForReview marks a domain for manual triage.
func (s *Store) FlagForReview(ctx context.Context, domain string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE domains SET flagged_for_review = TRUE WHERE domain = $1`, domain)
	if err != nil {
		return fmt.Errorf("flag %s for review: %w", domain, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("flag %s for review: no such domain", domain)
	}
	return nil
}

// Stats summarizes pipeline progress.
func (s *Store) Stats(ctx context.Context) (pipeline.Stats, error) {
	var stats pipeline.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE scraped_text IS NOT NULL),
	COUNT(*) FILTER (WHERE category IS NOT NULL),
	COUNT(*) FILTER (WHERE scraped_text IS NOT NULL AND category IS NULL),
	COUNT(*) FILTER (WHERE flagged_for_review)
FROM domains`,
	).Scan(
		&stats.TotalDomains,
		&stats.ScrapedDomains,
		&stats.ClassifiedDomains,
		&stats.PendingClassification,
		&stats.FlaggedForReview,
	)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}
