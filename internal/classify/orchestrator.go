// Package classify batches domains through the classification backend.
// Scraped content drives a JSON-format prompt; missing, errored, or noisy
// content falls back to domain-name-only classification. A batch of N
// domains always yields N results, with per-domain failures captured as
// data on the result rather than aborting siblings.
package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/domain"
	"github.com/webtaxon/webtaxon/internal/metrics"
	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// Classification sources recorded on results.
const (
	SourceContent  = "content"
	SourceFallback = "fallback"
	SourceSkipped  = "skipped"
)

// Config tunes batching and backend retry behavior.
type Config struct {
	BatchSize     int
	MaxConcurrent int
	BatchPause    time.Duration
	Retries       int
}

// Orchestrator labels domains using scraped content and the backend.
type Orchestrator struct {
	cfg     Config
	store   pipeline.Store
	backend pipeline.Backend
	clock   pipeline.Clock
	logger  *zap.Logger

	// sleep is swapped in tests to skip inter-batch pauses.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Orchestrator.
func New(cfg Config, store pipeline.Store, backend pipeline.Backend, clock pipeline.Clock, logger *zap.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		backend: backend,
		clock:   clock,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// LabelDomain classifies one domain. Unless force is set, an already
// classified domain is skipped. Every non-skip outcome is persisted.
func (o *Orchestrator) LabelDomain(ctx context.Context, raw string, force bool) pipeline.ClassificationResult {
	dom := domain.Normalize(raw)

	if !force {
		classified, err := o.store.IsDomainClassified(ctx, dom)
		if err != nil {
			o.logger.Warn("classified-state lookup failed, treating as unclassified",
				zap.String("domain", dom), zap.Error(err))
		}
		if classified {
			o.logger.Debug("domain already classified, skipping", zap.String("domain", dom))
			return pipeline.ClassificationResult{
				Domain: dom,
				Source: SourceSkipped,
			}
		}
	}

	record, err := o.store.GetDomainData(ctx, dom)
	if err != nil {
		return o.finish(ctx, errorResult(dom, o.clock.Now(),
			pipeline.NewDomainError(pipeline.KindStorageFailure, "load domain record: %v", err)))
	}
	if record == nil || !record.Scraped() {
		return o.finish(ctx, errorResult(dom, o.clock.Now(),
			pipeline.NewDomainError(pipeline.KindDomainNotFound, "domain not found or not scraped")))
	}

	text := *record.ScrapedText
	scrapeFailed := record.ScrapeError != nil && *record.ScrapeError != ""

	var (
		prompt string
		source string
	)
	if scrapeFailed || uselessText(text) {
		prompt = fallbackPrompt(dom)
		source = SourceFallback
	} else {
		prompt = contentPrompt(dom, text)
		source = SourceContent
	}

	result := pipeline.ClassificationResult{
		Domain:         dom,
		Source:         source,
		LastClassified: o.clock.Now(),
	}

	rawResponse, err := o.backend.Classify(ctx, prompt, o.cfg.Retries)
	if err != nil {
		result.Category = "unknown"
		result.Subcategory = "unknown"
		result.Error = pipeline.NewDomainError(pipeline.KindBackendFailure, "%v", err)
		return o.finish(ctx, result)
	}

	parsed, ok := parseLabeling(rawResponse)
	result.Category = parsed.Category
	result.Subcategory = parsed.Subcategory
	result.Confidence = parsed.Confidence
	result.Explanation = parsed.Explanation
	if !ok {
		result.Error = pipeline.NewDomainError(pipeline.KindParseFailure,
			"backend response had no recognizable labeling")
	}
	return o.finish(ctx, result)
}

// LabelBatches processes domains in fixed-size batches with bounded
// concurrency inside each batch. The whole batch completes before the next
// starts, with a short pause between batches.
func (o *Orchestrator) LabelBatches(ctx context.Context, domains []string, force bool) []pipeline.ClassificationResult {
	runID := uuid.NewString()
	totalBatches := (len(domains) + o.cfg.BatchSize - 1) / o.cfg.BatchSize
	o.logger.Info("starting classification run",
		zap.String("run_id", runID),
		zap.Int("domains", len(domains)),
		zap.Int("batches", totalBatches),
		zap.Int("batch_size", o.cfg.BatchSize),
		zap.Int("max_concurrent", o.cfg.MaxConcurrent),
	)

	results := make([]pipeline.ClassificationResult, len(domains))
	for start := 0; start < len(domains); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(domains) {
			end = len(domains)
		}
		o.runBatch(ctx, domains[start:end], results[start:end], force)
		o.logger.Info("batch complete",
			zap.String("run_id", runID),
			zap.Int("batch", start/o.cfg.BatchSize+1),
			zap.Int("total_batches", totalBatches),
		)

		if end < len(domains) && o.cfg.BatchPause > 0 {
			if err := o.sleep(ctx, o.cfg.BatchPause); err != nil {
				o.logger.Info("classification run interrupted",
					zap.String("run_id", runID), zap.Error(err))
				for i := end; i < len(domains); i++ {
					results[i] = errorResult(domain.Normalize(domains[i]), o.clock.Now(),
						pipeline.NewDomainError(pipeline.KindBackendFailure, "run interrupted: %v", err))
				}
				break
			}
		}
	}
	o.summarize(runID, results)
	return results
}

func (o *Orchestrator) runBatch(ctx context.Context, domains []string, results []pipeline.ClassificationResult, force bool) {
	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	done := make(chan struct{})
	for i, dom := range domains {
		go func(i int, dom string) {
			defer func() {
				// One domain's panic becomes its error result, never
				// the batch's.
				if r := recover(); r != nil {
					results[i] = errorResult(domain.Normalize(dom), o.clock.Now(),
						pipeline.NewDomainError(pipeline.KindBackendFailure, "classification panicked: %v", r))
				}
				<-sem
				done <- struct{}{}
			}()
			sem <- struct{}{}
			results[i] = o.LabelDomain(ctx, dom, force)
		}(i, dom)
	}
	for range domains {
		<-done
	}
}

// ClassifyUnclassified labels up to limit domains that have scrape records
// but no category yet.
func (o *Orchestrator) ClassifyUnclassified(ctx context.Context, limit int) ([]pipeline.ClassificationResult, error) {
	domains, err := o.store.GetUnclassifiedDomains(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclassified domains: %w", err)
	}
	if len(domains) == 0 {
		o.logger.Info("no unclassified domains found")
		return nil, nil
	}
	return o.LabelBatches(ctx, domains, false), nil
}

// RetryFailed re-classifies domains whose previous classification failed
// outright, forcing past the already-labeled check.
func (o *Orchestrator) RetryFailed(ctx context.Context, limit int) ([]pipeline.ClassificationResult, error) {
	domains, err := o.store.RetryFailedDomains(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed domains: %w", err)
	}
	if len(domains) == 0 {
		o.logger.Info("no failed classifications to retry")
		return nil, nil
	}
	return o.LabelBatches(ctx, domains, true), nil
}

// RetryLowConfidence re-classifies domains labeled below the confidence
// threshold.
func (o *Orchestrator) RetryLowConfidence(ctx context.Context, threshold, limit int) ([]pipeline.ClassificationResult, error) {
	domains, err := o.store.GetLowConfidenceDomains(ctx, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list low-confidence domains: %w", err)
	}
	if len(domains) == 0 {
		o.logger.Info("no low-confidence classifications to retry",
			zap.Int("threshold", threshold))
		return nil, nil
	}
	return o.LabelBatches(ctx, domains, true), nil
}

// finish persists the result and emits metrics. Skips are never persisted.
func (o *Orchestrator) finish(ctx context.Context, result pipeline.ClassificationResult) pipeline.ClassificationResult {
	if err := o.store.StoreClassificationResults(ctx, result); err != nil {
		o.logger.Error("persist classification result",
			zap.String("domain", result.Domain), zap.Error(err))
		if result.Error == nil {
			result.Error = pipeline.NewDomainError(pipeline.KindStorageFailure,
				"persist classification result: %v", err)
		}
	}

	if result.Error != nil {
		o.logger.Info("classification failed",
			zap.String("domain", result.Domain),
			zap.String("kind", string(result.Error.Kind)),
			zap.String("error", result.Error.Message))
	} else {
		o.logger.Info("classified domain",
			zap.String("domain", result.Domain),
			zap.String("category", result.Category),
			zap.String("subcategory", result.Subcategory),
			zap.Int("confidence", result.Confidence),
			zap.String("source", result.Source))
	}
	metrics.ObserveClassification(result.Source, result.Category)
	return result
}

func (o *Orchestrator) summarize(runID string, results []pipeline.ClassificationResult) {
	byCategory := map[string]int{}
	errored, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Error != nil:
			errored++
		case r.Source == SourceSkipped:
			skipped++
		default:
			byCategory[r.Category]++
		}
	}
	o.logger.Info("classification run complete",
		zap.String("run_id", runID),
		zap.Int("total", len(results)),
		zap.Int("errored", errored),
		zap.Int("skipped", skipped),
		zap.Any("categories", byCategory),
	)
}

func errorResult(dom string, now time.Time, err *pipeline.DomainError) pipeline.ClassificationResult {
	return pipeline.ClassificationResult{
		Domain:         dom,
		Category:       "unknown",
		Subcategory:    "unknown",
		Error:          err,
		LastClassified: now,
	}
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
