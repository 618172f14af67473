package pipeline

import (
	"context"
	"time"
)

// Store persists domain records. Implementations must be safe for concurrent
// use; per-domain writes are upserts so a completed domain is only ever
// overwritten by an explicit forced retry.
type Store interface {
	IsDomainScraped(ctx context.Context, domain string) (bool, error)
	IsDomainClassified(ctx context.Context, domain string) (bool, error)
	GetDomainData(ctx context.Context, domain string) (*DomainRecord, error)
	StoreScrapeResults(ctx context.Context, domain, text string, scrapeErr *string) error
	StoreClassificationResults(ctx context.Context, result ClassificationResult) error
	GetUnclassifiedDomains(ctx context.Context, limit int) ([]string, error)
	RetryFailedDomains(ctx context.Context, limit int) ([]string, error)
	GetLowConfidenceDomains(ctx context.Context, threshold, limit int) ([]string, error)
	FlagForReview(ctx context.Context, domain string) error
	Stats(ctx context.Context) (Stats, error)
	Close()
}

// Backend invokes the text-classification endpoint. Classify retries on
// transport and status errors only; a well-formed "unknown" answer is a
// valid response, not a retryable failure.
type Backend interface {
	Classify(ctx context.Context, prompt string, retries int) (string, error)
}

// Source yields an ordered ranked domain list, up to limit entries.
type Source interface {
	Load(ctx context.Context, limit int) ([]RankedDomain, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall-clock time.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
