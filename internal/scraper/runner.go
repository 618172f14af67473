package scraper

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/metrics"
	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// DomainFetcher fetches a single domain; *Fetcher is the production
// implementation.
type DomainFetcher interface {
	Fetch(ctx context.Context, domain string) pipeline.ScrapeResult
}

// Summary aggregates one run's outcomes for operator reporting.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}

// Runner fans domains out to a bounded set of fetch workers. Cancelling the
// context stops scheduling new domains; fetches already in flight drain to
// completion before Run returns.
type Runner struct {
	fetcher     DomainFetcher
	concurrency int
	logger      *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(fetcher DomainFetcher, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{fetcher: fetcher, concurrency: concurrency, logger: logger}
}

// Run processes domains and returns the aggregate summary.
func (r *Runner) Run(ctx context.Context, domains []string) Summary {
	jobs := make(chan string)
	results := make(chan pipeline.ScrapeResult, len(domains))

	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// In-flight fetches finish on their own terms after a
			// shutdown signal; only scheduling stops.
			drainCtx := context.WithoutCancel(ctx)
			for dom := range jobs {
				metrics.IncActiveWorkers()
				results <- r.fetcher.Fetch(drainCtx, dom)
				metrics.DecActiveWorkers()
			}
		}()
	}

dispatch:
	for _, dom := range domains {
		select {
		case jobs <- dom:
		case <-ctx.Done():
			r.logger.Info("shutdown requested, draining in-flight fetches")
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var summary Summary
	for result := range results {
		summary.Total++
		switch {
		case result.Skipped:
			summary.Skipped++
		case result.Error != nil:
			summary.Failed++
		default:
			summary.Succeeded++
		}
	}
	r.logger.Info("fetch run complete",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary
}
