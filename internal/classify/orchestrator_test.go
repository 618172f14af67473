package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

type fakeStore struct {
	pipeline.Store

	mu           sync.Mutex
	records      map[string]*pipeline.DomainRecord
	classified   map[string]bool
	stored       []pipeline.ClassificationResult
	unclassified []string
	failed       []string
	lowConf      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    map[string]*pipeline.DomainRecord{},
		classified: map[string]bool{},
	}
}

func (s *fakeStore) withScraped(domain, text string, scrapeErr *string) *fakeStore {
	s.records[domain] = &pipeline.DomainRecord{
		Domain:      domain,
		ScrapedText: &text,
		ScrapeError: scrapeErr,
	}
	return s
}

func (s *fakeStore) IsDomainClassified(_ context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classified[domain], nil
}

func (s *fakeStore) GetDomainData(_ context.Context, domain string) (*pipeline.DomainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[domain], nil
}

func (s *fakeStore) StoreClassificationResults(_ context.Context, result pipeline.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classified[result.Domain] = true
	s.stored = append(s.stored, result)
	return nil
}

func (s *fakeStore) GetUnclassifiedDomains(context.Context, int) ([]string, error) {
	return s.unclassified, nil
}

func (s *fakeStore) RetryFailedDomains(context.Context, int) ([]string, error) {
	return s.failed, nil
}

func (s *fakeStore) GetLowConfidenceDomains(context.Context, int, int) ([]string, error) {
	return s.lowConf, nil
}

func (s *fakeStore) storedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

// fakeBackend records prompts and replays scripted completions.
type fakeBackend struct {
	mu      sync.Mutex
	respond func(prompt string) (string, error)
	prompts []string
}

func (b *fakeBackend) Classify(_ context.Context, prompt string, _ int) (string, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	respond := b.respond
	b.mu.Unlock()
	return respond(prompt)
}

func (b *fakeBackend) lastPrompt(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.prompts)
	return b.prompts[len(b.prompts)-1]
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func jsonAnswer(category string, confidence int) string {
	return fmt.Sprintf(`{"category": %q, "subcategory": "software", "confidence": %d, "explanation": "clear signals"}`, category, confidence)
}

func newOrchestrator(store *fakeStore, backend pipeline.Backend) *Orchestrator {
	o := New(Config{BatchSize: 20, MaxConcurrent: 10, BatchPause: time.Second, Retries: 1},
		store, backend, fixedClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

const richText = "Acme Widgets Industrial widgets and fasteners for manufacturers worldwide " +
	"with precision engineering and a century of production experience behind every order."

func TestLabelDomainContentPath(t *testing.T) {
	t.Parallel()

	store := newFakeStore().withScraped("example.com", richText, nil)
	backend := &fakeBackend{respond: func(string) (string, error) { return jsonAnswer("tech", 8), nil }}
	o := newOrchestrator(store, backend)

	result := o.LabelDomain(context.Background(), "https://www.Example.com", false)
	require.Nil(t, result.Error)
	require.Equal(t, "example.com", result.Domain)
	require.Equal(t, "tech", result.Category)
	require.Equal(t, "software", result.Subcategory)
	require.Equal(t, 8, result.Confidence)
	require.Equal(t, SourceContent, result.Source)
	require.Contains(t, backend.lastPrompt(t), richText)
	require.Equal(t, 1, store.storedCount())
}

func TestLabelDomainFallbackRouting(t *testing.T) {
	t.Parallel()

	scrapeErr := "unsafe_target: resolves to private address"
	cases := []struct {
		name      string
		text      string
		scrapeErr *string
	}{
		{"scrape recorded an error", richText, &scrapeErr},
		{"text too short", "tiny", nil},
		{"too few tokens", "onlyfourwordshere of text content", nil},
		{"two noise signals", "Error 404 not found. The page you requested is missing from this server entirely.", nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := newFakeStore().withScraped("example.com", tc.text, tc.scrapeErr)
			backend := &fakeBackend{respond: func(string) (string, error) {
				return "category: tech\nsubcategory: software\nconfidence: 6\nexplanation: name suggests tech", nil
			}}
			o := newOrchestrator(store, backend)

			result := o.LabelDomain(context.Background(), "example.com", false)
			require.Nil(t, result.Error)
			require.Equal(t, SourceFallback, result.Source)
			require.Equal(t, "tech", result.Category)
			require.Equal(t, 6, result.Confidence)
			prompt := backend.lastPrompt(t)
			require.Contains(t, prompt, "based on its domain name")
			require.NotContains(t, prompt, "WEBSITE TEXT")
		})
	}
}

func TestLabelDomainSingleNoiseSignalStaysOnContentPath(t *testing.T) {
	t.Parallel()

	text := "Cloudflare protects this documentation portal for developers building APIs " +
		"and deploying edge applications across our global network infrastructure."
	store := newFakeStore().withScraped("example.com", text, nil)
	backend := &fakeBackend{respond: func(string) (string, error) { return jsonAnswer("cloud", 7), nil }}
	o := newOrchestrator(store, backend)

	result := o.LabelDomain(context.Background(), "example.com", false)
	require.Equal(t, SourceContent, result.Source)
}

func TestLabelDomainNotScraped(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	backend := &fakeBackend{respond: func(string) (string, error) {
		t.Fatal("backend must not be called for unscraped domains")
		return "", nil
	}}
	o := newOrchestrator(store, backend)

	result := o.LabelDomain(context.Background(), "missing.example.com", false)
	require.NotNil(t, result.Error)
	require.Equal(t, pipeline.KindDomainNotFound, result.Error.Kind)
	require.Equal(t, 1, store.storedCount(), "the failure is persisted for audit")
}

func TestLabelDomainSkipsAlreadyClassified(t *testing.T) {
	t.Parallel()

	store := newFakeStore().withScraped("example.com", richText, nil)
	store.classified["example.com"] = true
	calls := 0
	backend := &fakeBackend{respond: func(string) (string, error) {
		calls++
		return jsonAnswer("tech", 9), nil
	}}
	o := newOrchestrator(store, backend)

	skipped := o.LabelDomain(context.Background(), "example.com", false)
	require.Equal(t, SourceSkipped, skipped.Source)
	require.Zero(t, calls)
	require.Zero(t, store.storedCount(), "skips are not persisted")

	forced := o.LabelDomain(context.Background(), "example.com", true)
	require.Equal(t, "tech", forced.Category)
	require.Equal(t, 1, calls)
}

func TestLabelDomainMalformedResponsesNeverEscape(t *testing.T) {
	t.Parallel()

	responses := []string{
		"",
		"complete nonsense with no structure",
		`{"category": }`,
		"{}",
	}
	for i, resp := range responses {
		resp := resp
		t.Run(fmt.Sprintf("response_%d", i), func(t *testing.T) {
			t.Parallel()
			store := newFakeStore().withScraped("example.com", richText, nil)
			backend := &fakeBackend{respond: func(string) (string, error) { return resp, nil }}
			o := newOrchestrator(store, backend)

			result := o.LabelDomain(context.Background(), "example.com", false)
			require.Equal(t, "unknown", result.Category)
			require.Zero(t, result.Confidence)
			require.NotNil(t, result.Error)
			require.Equal(t, pipeline.KindParseFailure, result.Error.Kind)
		})
	}
}

func TestLabelDomainBackendFailureBecomesResult(t *testing.T) {
	t.Parallel()

	store := newFakeStore().withScraped("example.com", richText, nil)
	backend := &fakeBackend{respond: func(string) (string, error) {
		return "", errors.New("connection refused")
	}}
	o := newOrchestrator(store, backend)

	result := o.LabelDomain(context.Background(), "example.com", false)
	require.NotNil(t, result.Error)
	require.Equal(t, pipeline.KindBackendFailure, result.Error.Kind)
	require.Equal(t, "unknown", result.Category)
	require.Equal(t, 1, store.storedCount())
}

func TestLabelBatchesTwentyDomainsThreeTransportFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	domains := make([]string, 20)
	for i := range domains {
		domains[i] = fmt.Sprintf("site%02d.example.com", i)
		store.withScraped(domains[i], richText, nil)
	}

	backend := &fakeBackend{respond: func(prompt string) (string, error) {
		for _, unlucky := range []string{"site03", "site09", "site17"} {
			if strings.Contains(prompt, unlucky) {
				return "", errors.New("backend transport error")
			}
		}
		return jsonAnswer("news", 7), nil
	}}
	o := newOrchestrator(store, backend)

	results := o.LabelBatches(context.Background(), domains, false)
	require.Len(t, results, 20)

	errored := 0
	for _, r := range results {
		if r.Error != nil {
			require.Equal(t, pipeline.KindBackendFailure, r.Error.Kind)
			errored++
		} else {
			require.Equal(t, "news", r.Category)
		}
	}
	require.Equal(t, 3, errored)
	require.Equal(t, 20, store.storedCount())
}

func TestLabelBatchesPausesBetweenBatches(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	domains := make([]string, 5)
	for i := range domains {
		domains[i] = fmt.Sprintf("batch%d.example.com", i)
		store.withScraped(domains[i], richText, nil)
	}

	backend := &fakeBackend{respond: func(string) (string, error) { return jsonAnswer("tech", 5), nil }}
	o := New(Config{BatchSize: 2, MaxConcurrent: 2, BatchPause: time.Second},
		store, backend, fixedClock{at: time.Now()}, zap.NewNop())

	var pauses []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	results := o.LabelBatches(context.Background(), domains, false)
	require.Len(t, results, 5)
	require.Equal(t, []time.Duration{time.Second, time.Second}, pauses, "a pause between each of the 3 batches, none after the last")
}

func TestRetryFailedForcesReclassification(t *testing.T) {
	t.Parallel()

	store := newFakeStore().withScraped("broken.example.com", richText, nil)
	store.classified["broken.example.com"] = true
	store.failed = []string{"broken.example.com"}

	backend := &fakeBackend{respond: func(string) (string, error) { return jsonAnswer("finance", 8), nil }}
	o := newOrchestrator(store, backend)

	results, err := o.RetryFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "finance", results[0].Category)
	require.NotEqual(t, SourceSkipped, results[0].Source)
}

func TestRetryLowConfidenceEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	o := newOrchestrator(store, &fakeBackend{respond: func(string) (string, error) { return "", nil }})

	results, err := o.RetryLowConfidence(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Nil(t, results)
}
