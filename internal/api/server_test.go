package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/pipeline"
	"github.com/webtaxon/webtaxon/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	srv := httptest.NewServer(NewServer(store, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsExposed(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	require.NoError(t, store.StoreScrapeResults(context.Background(), "example.com", "text", nil))

	resp := get(t, srv.URL+"/v1/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats pipeline.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, int64(1), stats.TotalDomains)
	require.Equal(t, int64(1), stats.ScrapedDomains)
}

func TestGetDomain(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.StoreScrapeResults(ctx, "example.com", "Acme Widgets catalog", nil))
	require.NoError(t, store.StoreClassificationResults(ctx, pipeline.ClassificationResult{
		Domain:         "example.com",
		Category:       "tech",
		Subcategory:    "software",
		Confidence:     8,
		Source:         "content",
		LastClassified: time.Now(),
	}))

	resp := get(t, srv.URL+"/v1/domains/example.com")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body domainResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "example.com", body.Domain)
	require.True(t, body.Scraped)
	require.True(t, body.Classified)
	require.Equal(t, "tech", *body.Category)
	require.Equal(t, 8, *body.Confidence)
}

func TestGetDomainNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/v1/domains/missing.example.com")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetDomainInvalid(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/v1/domains/notadomain")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlagDomain(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	require.NoError(t, store.StoreScrapeResults(context.Background(), "odd.example.com", "", nil))

	resp, err := http.Post(srv.URL+"/v1/domains/odd.example.com/flag", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec, err := store.GetDomainData(context.Background(), "odd.example.com")
	require.NoError(t, err)
	require.True(t, rec.FlaggedForReview)
}
