package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestIsDomainScraped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM domains WHERE domain = \$1 AND scraped_text IS NOT NULL\)`).
		WithArgs("example.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	scraped, err := store.IsDomainScraped(context.Background(), "example.com")
	require.NoError(t, err)
	require.True(t, scraped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreScrapeResultsUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	scrapeErr := "unsafe_target: resolves to private address"
	mock.ExpectExec(`INSERT INTO domains \(domain, scraped_text, scrape_error, last_scraped\)`).
		WithArgs("internal.example.com", "", &scrapeErr, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.StoreScrapeResults(context.Background(), "internal.example.com", "", &scrapeErr)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDomainDataAbsentRowIsNil(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT domain, scraped_text, scrape_error, last_scraped`).
		WithArgs("missing.example.com").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.GetDomainData(context.Background(), "missing.example.com")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDomainDataScansRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	text := "Acme Widgets precision industrial widgets"
	category := "tech"
	confidence := 8
	scrapedAt := time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT domain, scraped_text, scrape_error, last_scraped`).
		WithArgs("example.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"domain", "scraped_text", "scrape_error", "last_scraped",
			"category", "subcategory", "confidence", "explanation", "source",
			"classifier_error", "last_classified", "flagged_for_review",
		}).AddRow(
			"example.com", &text, (*string)(nil), &scrapedAt,
			&category, (*string)(nil), &confidence, (*string)(nil), (*string)(nil),
			(*string)(nil), (*time.Time)(nil), false,
		))

	rec, err := store.GetDomainData(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Scraped())
	require.True(t, rec.Classified())
	require.Equal(t, text, *rec.ScrapedText)
	require.Equal(t, 8, *rec.Confidence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreClassificationResults(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := pipeline.ClassificationResult{
		Domain:         "example.com",
		Category:       "tech",
		Subcategory:    "software",
		Confidence:     8,
		Explanation:    "developer documentation",
		Source:         "content",
		LastClassified: at,
	}

	mock.ExpectExec(`INSERT INTO domains \(domain, category, subcategory, confidence, explanation, source, classifier_error, last_classified\)`).
		WithArgs("example.com", "tech", "software", 8, "developer documentation", "content", (*string)(nil), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreClassificationResults(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreClassificationResultsWithError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := pipeline.ClassificationResult{
		Domain:         "broken.example.com",
		Category:       "unknown",
		Subcategory:    "unknown",
		Source:         "fallback",
		Error:          pipeline.NewDomainError(pipeline.KindBackendFailure, "connection refused"),
		LastClassified: at,
	}
	wantErr := "backend_failure: connection refused"

	mock.ExpectExec(`INSERT INTO domains`).
		WithArgs("broken.example.com", "unknown", "unknown", 0, "", "fallback", &wantErr, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreClassificationResults(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnclassifiedDomains(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE scraped_text IS NOT NULL AND category IS NULL`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"domain"}).
			AddRow("a.example.com").
			AddRow("b.example.com"))

	domains, err := store.GetUnclassifiedDomains(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, domains)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLowConfidenceDomains(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE category IS NOT NULL AND confidence < \$1`).
		WithArgs(5, 100).
		WillReturnRows(pgxmock.NewRows([]string{"domain"}).AddRow("iffy.example.com"))

	domains, err := store.GetLowConfidenceDomains(context.Background(), 5, 100)
	require.NoError(t, err)
	require.Equal(t, []string{"iffy.example.com"}, domains)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlagForReviewUnknownDomain(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE domains SET flagged_for_review = TRUE`).
		WithArgs("ghost.example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.FlagForReview(context.Background(), "ghost.example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no such domain")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`COUNT\(\*\) FILTER \(WHERE scraped_text IS NOT NULL\)`).
		WillReturnRows(pgxmock.NewRows([]string{"total", "scraped", "classified", "pending", "flagged"}).
			AddRow(int64(100), int64(80), int64(60), int64(20), int64(3)))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100), stats.TotalDomains)
	require.Equal(t, int64(80), stats.ScrapedDomains)
	require.Equal(t, int64(60), stats.ClassifiedDomains)
	require.Equal(t, int64(20), stats.PendingClassification)
	require.Equal(t, int64(3), stats.FlaggedForReview)
	require.NoError(t, mock.ExpectationsWereMet())
}
