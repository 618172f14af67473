package browser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// httpEngine implements the engine contract on a plain HTTP client via a
// Colly collector. It never executes scripts, so pages that assemble their
// content client-side come back thinner than the headless engine's.
type httpEngine struct {
	baseCollector *colly.Collector
	transport     http.RoundTripper
	logger        *zap.Logger
}

func newHTTPEngine(logger *zap.Logger) (engine, error) {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &httpEngine{
		baseCollector: c,
		transport:     transport,
		logger:        logger,
	}, nil
}

func (e *httpEngine) close() {
	if t, ok := e.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (e *httpEngine) navigate(
	ctx context.Context,
	rawURL string,
	timeout time.Duration,
	id identity,
	onRedirect RedirectFunc,
) (*Page, error) {
	collector := e.baseCollector.Clone()
	collector.UserAgent = id.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(timeout)

	// Redirect hops go through the hook before the client follows them.
	collector.SetRedirectHandler(func(req *http.Request, _ []*http.Request) error {
		if onRedirect == nil {
			return nil
		}
		if err := onRedirect(req.URL.String()); err != nil {
			return err
		}
		return nil
	})

	var (
		page     *Page
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", id.Locale)
	})
	collector.OnResponse(func(r *colly.Response) {
		page = &Page{
			HTML:       string(r.Body),
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode != 0 {
			page = &Page{
				FinalURL:   r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Duration:   time.Since(start),
			}
		}
	})

	if err := runVisit(ctx, collector, rawURL); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("http fetch failed: %w", fetchErr)
	}
	if page == nil {
		return nil, fmt.Errorf("http fetch returned no response for %s", rawURL)
	}
	return page, nil
}

func runVisit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("http fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("http visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
