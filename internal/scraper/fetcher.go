// Package scraper drives the per-domain content fetch: syntax validation,
// SSRF screening, pacing, robots permission, protocol fallback, redirect
// vetting, and text extraction. Every terminal outcome is persisted before
// the fetch returns, and failures travel as result data, never as errors
// crossing domain boundaries.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/browser"
	"github.com/webtaxon/webtaxon/internal/domain"
	"github.com/webtaxon/webtaxon/internal/metrics"
	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// protocols tried in order; a failure on one falls through to the next.
var protocols = []string{"https", "http"}

// SafetyChecker screens fetch targets for SSRF exposure.
type SafetyChecker interface {
	Check(ctx context.Context, domain string) error
	CheckURL(ctx context.Context, rawURL string) error
}

// Permissions answers robots.txt lookups.
type Permissions interface {
	Allowed(ctx context.Context, domain string) bool
}

// Pacer spaces requests per domain and sizes navigation timeouts.
type Pacer interface {
	Wait(ctx context.Context, domain string) error
	Observe(domain string, responseTime time.Duration, failed bool)
	Timeout(domain string) time.Duration
	Record(domain string, responseTime time.Duration)
}

// Navigator is one checked-out fetch session.
type Navigator interface {
	Navigate(ctx context.Context, url string, timeout time.Duration, onRedirect browser.RedirectFunc) (*browser.Page, error)
	Release()
}

// SessionPool hands out fetch sessions with bounded concurrency.
type SessionPool interface {
	Acquire(ctx context.Context) (Navigator, error)
}

// PoolAdapter adapts *browser.Pool to the SessionPool interface.
type PoolAdapter struct {
	Pool *browser.Pool
}

// Acquire implements SessionPool.
func (a PoolAdapter) Acquire(ctx context.Context) (Navigator, error) {
	return a.Pool.Acquire(ctx)
}

// Config tunes fetch behavior.
type Config struct {
	MaxRedirects  int
	MaxBodyBytes  int
	MaxParagraphs int
	RetryAttempts int
}

// Fetcher executes the fetch state machine for single domains.
type Fetcher struct {
	cfg    Config
	store  pipeline.Store
	guard  SafetyChecker
	robots Permissions
	pacer  Pacer
	pool   SessionPool
	logger *zap.Logger

	// sleep is swapped in tests to make backoff deterministic.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher.
func New(
	cfg Config,
	store pipeline.Store,
	guard SafetyChecker,
	robots Permissions,
	pacer Pacer,
	pool SessionPool,
	logger *zap.Logger,
) *Fetcher {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxParagraphs <= 0 {
		cfg.MaxParagraphs = 3
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	return &Fetcher{
		cfg:    cfg,
		store:  store,
		guard:  guard,
		robots: robots,
		pacer:  pacer,
		pool:   pool,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Fetch runs the whole per-domain operation and returns its outcome. The
// result is persisted before returning, success and failure alike, so the
// record exists for audit even when the fetch never left the process.
func (f *Fetcher) Fetch(ctx context.Context, raw string) pipeline.ScrapeResult {
	dom := domain.Normalize(raw)
	if err := domain.Validate(dom); err != nil {
		return f.finish(ctx, failure(dom, err))
	}

	scraped, err := f.store.IsDomainScraped(ctx, dom)
	if err != nil {
		f.logger.Warn("scraped-state lookup failed, treating as unscraped",
			zap.String("domain", dom), zap.Error(err))
	}
	if scraped {
		metrics.ObserveScrape("skipped", 0)
		return pipeline.ScrapeResult{Domain: dom, Skipped: true}
	}

	if err := f.pacer.Wait(ctx, dom); err != nil {
		return f.finish(ctx, failure(dom, pipeline.NewDomainError(
			pipeline.KindProtocolTimeout, "rate limit wait aborted: %v", err)))
	}

	if err := f.guard.Check(ctx, dom); err != nil {
		return f.finish(ctx, failure(dom, err))
	}

	if !f.robots.Allowed(ctx, dom) {
		return f.finish(ctx, failure(dom, pipeline.NewDomainError(
			pipeline.KindRobotsDisallowed, "robots.txt disallows fetching %s", dom)))
	}

	// Infrastructure faults retry with exponential backoff; business
	// failures already captured in a result do not.
	var result pipeline.ScrapeResult
	for attempt := 0; ; attempt++ {
		var infraErr error
		result, infraErr = f.tryProtocols(ctx, dom)
		if infraErr == nil {
			break
		}
		if attempt >= f.cfg.RetryAttempts {
			result = failure(dom, pipeline.NewDomainError(
				pipeline.KindBothProtocolsFailed, "fetch failed after %d attempts: %v", attempt+1, infraErr))
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		f.logger.Warn("fetch attempt failed, backing off",
			zap.String("domain", dom),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(infraErr))
		if err := f.sleep(ctx, backoff); err != nil {
			result = failure(dom, pipeline.NewDomainError(
				pipeline.KindBothProtocolsFailed, "fetch aborted during backoff: %v", infraErr))
			break
		}
	}
	return f.finish(ctx, result)
}

// tryProtocols walks https then http. A clean per-domain failure comes back
// as a result; a non-nil error means infrastructure trouble worth retrying.
func (f *Fetcher) tryProtocols(ctx context.Context, dom string) (pipeline.ScrapeResult, error) {
	var protocolErrors []string
	for _, proto := range protocols {
		result, err := f.fetchOnce(ctx, dom, proto)
		if err != nil {
			var infra *infraError
			if errors.As(err, &infra) {
				return pipeline.ScrapeResult{}, infra.err
			}
			if kind := pipeline.KindOf(err); kind == pipeline.KindUnsafeTarget {
				// An unsafe redirect target aborts the whole fetch.
				var de *pipeline.DomainError
				errors.As(err, &de)
				return failure(dom, de), nil
			}
			f.logger.Debug("protocol attempt failed",
				zap.String("domain", dom),
				zap.String("protocol", proto),
				zap.Error(err))
			protocolErrors = append(protocolErrors, fmt.Sprintf("%s: %v", proto, err))
			continue
		}
		return result, nil
	}
	return failure(dom, pipeline.NewDomainError(
		pipeline.KindBothProtocolsFailed, "%s", joinErrors(protocolErrors))), nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, dom, proto string) (pipeline.ScrapeResult, error) {
	session, err := f.pool.Acquire(ctx)
	if err != nil {
		return pipeline.ScrapeResult{}, &infraError{err: fmt.Errorf("acquire fetch session: %w", err)}
	}
	defer session.Release()

	redirects := 0
	onRedirect := func(target string) error {
		redirects++
		if redirects > f.cfg.MaxRedirects {
			return pipeline.NewDomainError(pipeline.KindTooManyRedirects,
				"redirect chain exceeded %d hops", f.cfg.MaxRedirects)
		}
		if err := f.guard.CheckURL(ctx, target); err != nil {
			return err
		}
		return nil
	}

	url := proto + "://" + dom
	timeout := f.pacer.Timeout(dom)
	page, err := session.Navigate(ctx, url, timeout, onRedirect)
	if err != nil {
		f.pacer.Observe(dom, 0, true)
		if de := asDomainError(err); de != nil {
			return pipeline.ScrapeResult{}, de
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return pipeline.ScrapeResult{}, pipeline.NewDomainError(
				pipeline.KindProtocolTimeout, "navigation exceeded %s", timeout)
		}
		return pipeline.ScrapeResult{}, err
	}

	if len(page.HTML) > f.cfg.MaxBodyBytes {
		f.pacer.Observe(dom, page.Duration, true)
		return pipeline.ScrapeResult{}, pipeline.NewDomainError(
			pipeline.KindOversizedResponse, "response body %d bytes exceeds %d", len(page.HTML), f.cfg.MaxBodyBytes)
	}
	if signal := blockedContent(page.HTML); signal != "" {
		f.pacer.Observe(dom, page.Duration, true)
		return pipeline.ScrapeResult{}, pipeline.NewDomainError(
			pipeline.KindBlockedContent, "page matched blocking signal %q", signal)
	}

	text, err := extractText(page.HTML, f.cfg.MaxParagraphs)
	if err != nil {
		f.pacer.Observe(dom, page.Duration, true)
		return pipeline.ScrapeResult{}, pipeline.NewDomainError(
			pipeline.KindExtractionFailure, "extract text: %v", err)
	}
	if text == "" {
		f.pacer.Observe(dom, page.Duration, true)
		return pipeline.ScrapeResult{}, pipeline.NewDomainError(
			pipeline.KindExtractionFailure, "no extractable text on %s", page.FinalURL)
	}

	f.pacer.Observe(dom, page.Duration, false)
	f.pacer.Record(dom, page.Duration)
	return pipeline.ScrapeResult{
		Domain:       dom,
		Text:         text,
		ResponseTime: page.Duration,
		FinalURL:     page.FinalURL,
	}, nil
}

// finish persists the terminal outcome and emits metrics. Storage trouble
// is attached to an otherwise-successful result so it is never silent.
func (f *Fetcher) finish(ctx context.Context, result pipeline.ScrapeResult) pipeline.ScrapeResult {
	var scrapeErr *string
	if result.Error != nil {
		msg := result.Error.Error()
		scrapeErr = &msg
	}
	if err := f.store.StoreScrapeResults(ctx, result.Domain, result.Text, scrapeErr); err != nil {
		f.logger.Error("persist scrape result",
			zap.String("domain", result.Domain), zap.Error(err))
		if result.Error == nil {
			result.Error = pipeline.NewDomainError(
				pipeline.KindStorageFailure, "persist scrape result: %v", err)
		}
	}

	outcome := "success"
	if result.Error != nil {
		outcome = string(result.Error.Kind)
		f.logger.Info("fetch failed",
			zap.String("domain", result.Domain),
			zap.String("kind", string(result.Error.Kind)),
			zap.String("error", result.Error.Message))
	} else {
		f.logger.Info("fetch succeeded",
			zap.String("domain", result.Domain),
			zap.String("final_url", result.FinalURL),
			zap.Duration("response_time", result.ResponseTime))
	}
	metrics.ObserveScrape(outcome, result.ResponseTime)
	return result
}

func failure(dom string, err error) pipeline.ScrapeResult {
	de := asDomainError(err)
	if de == nil {
		de = pipeline.NewDomainError(pipeline.KindExtractionFailure, "%v", err)
	}
	return pipeline.ScrapeResult{Domain: dom, Error: de}
}

// infraError marks failures of the fetch machinery itself, as opposed to
// per-protocol outcomes; only these trigger the outer retry loop.
type infraError struct{ err error }

func (e *infraError) Error() string { return e.err.Error() }
func (e *infraError) Unwrap() error { return e.err }

func asDomainError(err error) *pipeline.DomainError {
	var de *pipeline.DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

func joinErrors(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
