package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

func TestScrapeLifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	scraped, err := s.IsDomainScraped(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, scraped)

	require.NoError(t, s.StoreScrapeResults(ctx, "example.com", "Acme Widgets industrial catalog", nil))

	scraped, err = s.IsDomainScraped(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, scraped)

	rec, err := s.GetDomainData(ctx, "example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "Acme Widgets industrial catalog", *rec.ScrapedText)
	require.Nil(t, rec.ScrapeError)
	require.NotNil(t, rec.LastScraped)
}

func TestFailedScrapeStillCountsAsScraped(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	msg := "unsafe_target: resolves to loopback address"
	require.NoError(t, s.StoreScrapeResults(ctx, "internal.example.com", "", &msg))

	scraped, err := s.IsDomainScraped(ctx, "internal.example.com")
	require.NoError(t, err)
	require.True(t, scraped, "a recorded failure is still a scrape attempt")

	rec, err := s.GetDomainData(ctx, "internal.example.com")
	require.NoError(t, err)
	require.Equal(t, msg, *rec.ScrapeError)
}

func TestClassificationLifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.StoreScrapeResults(ctx, "example.com", "some scraped text about widgets", nil))

	unclassified, err := s.GetUnclassifiedDomains(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"example.com"}, unclassified)

	require.NoError(t, s.StoreClassificationResults(ctx, pipeline.ClassificationResult{
		Domain:         "example.com",
		Category:       "tech",
		Subcategory:    "software",
		Confidence:     3,
		Source:         "content",
		LastClassified: time.Now(),
	}))

	classified, err := s.IsDomainClassified(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, classified)

	unclassified, err = s.GetUnclassifiedDomains(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, unclassified)

	lowConf, err := s.GetLowConfidenceDomains(ctx, 5, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"example.com"}, lowConf)
}

func TestRetryFailedDomains(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.StoreScrapeResults(ctx, "broken.example.com", "text", nil))
	require.NoError(t, s.StoreClassificationResults(ctx, pipeline.ClassificationResult{
		Domain:         "broken.example.com",
		Category:       "unknown",
		Error:          pipeline.NewDomainError(pipeline.KindBackendFailure, "timeout"),
		LastClassified: time.Now(),
	}))

	failed, err := s.RetryFailedDomains(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"broken.example.com"}, failed)

	// A clean re-classification clears the error marker.
	require.NoError(t, s.StoreClassificationResults(ctx, pipeline.ClassificationResult{
		Domain:         "broken.example.com",
		Category:       "tech",
		Confidence:     7,
		LastClassified: time.Now(),
	}))
	failed, err = s.RetryFailedDomains(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestFlagForReviewAndStats(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.Error(t, s.FlagForReview(ctx, "ghost.example.com"))

	require.NoError(t, s.StoreScrapeResults(ctx, "a.example.com", "text a", nil))
	require.NoError(t, s.StoreScrapeResults(ctx, "b.example.com", "text b", nil))
	require.NoError(t, s.StoreClassificationResults(ctx, pipeline.ClassificationResult{
		Domain: "a.example.com", Category: "news", Confidence: 8, LastClassified: time.Now(),
	}))
	require.NoError(t, s.FlagForReview(ctx, "b.example.com"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalDomains)
	require.Equal(t, int64(2), stats.ScrapedDomains)
	require.Equal(t, int64(1), stats.ClassifiedDomains)
	require.Equal(t, int64(1), stats.PendingClassification)
	require.Equal(t, int64(1), stats.FlaggedForReview)
}

func TestListLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, dom := range []string{"c.example.com", "a.example.com", "b.example.com"} {
		require.NoError(t, s.StoreScrapeResults(ctx, dom, "text", nil))
	}

	domains, err := s.GetUnclassifiedDomains(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, domains, "ordered and limited")
}
