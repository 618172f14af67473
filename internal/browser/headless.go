package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// headlessEngine runs a shared Chrome exec allocator; each navigation gets a
// fresh tab context so cookies and storage never survive a checkout.
type headlessEngine struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	closeOnce   sync.Once
}

func newHeadlessEngine(logger *zap.Logger) (engine, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &headlessEngine{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

func (e *headlessEngine) close() {
	e.closeOnce.Do(e.allocCancel)
}

func (e *headlessEngine) navigate(
	ctx context.Context,
	rawURL string,
	timeout time.Duration,
	id identity,
	onRedirect RedirectFunc,
) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(e.allocCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	watch := newNavigationWatch(rawURL, onRedirect, cancelTask)
	chromedp.ListenTarget(taskCtx, watch.handleEvent)

	var html string
	actions := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(id.UserAgent),
		emulation.SetDeviceMetricsOverride(int64(id.Width), int64(id.Height), 1, false),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}

	start := time.Now()
	err := chromedp.Run(taskCtx, actions)
	duration := time.Since(start)

	// A redirect-hook veto cancels the task context; surface the veto, not
	// the resulting context error.
	if hookErr := watch.hookError(); hookErr != nil {
		return nil, hookErr
	}
	if err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	status, finalURL := watch.outcome()
	if status == 0 {
		status = 200
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return &Page{
		HTML:       html,
		FinalURL:   finalURL,
		StatusCode: status,
		Duration:   duration,
	}, nil
}

// navigationWatch tracks document responses for one navigation: redirect
// hops are vetted through the hook, and the last document response wins.
type navigationWatch struct {
	mu         sync.Mutex
	currentURL string
	status     int
	finalURL   string
	hookErr    error
	onRedirect RedirectFunc
	abort      context.CancelFunc
}

func newNavigationWatch(startURL string, onRedirect RedirectFunc, abort context.CancelFunc) *navigationWatch {
	return &navigationWatch{
		currentURL: startURL,
		onRedirect: onRedirect,
		abort:      abort,
	}
}

func (w *navigationWatch) handleEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hookErr != nil {
		return
	}

	status := int(resp.Response.Status)
	if status >= 300 && status < 400 {
		location := headerValue(resp.Response.Headers, "location")
		if location == "" {
			return
		}
		target := resolveRedirect(w.currentURL, location)
		if w.onRedirect != nil {
			if err := w.onRedirect(target); err != nil {
				w.hookErr = err
				w.abort()
				return
			}
		}
		w.currentURL = target
		return
	}

	w.status = status
	w.finalURL = resp.Response.URL
}

func (w *navigationWatch) hookError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hookErr
}

func (w *navigationWatch) outcome() (int, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.finalURL
}

func headerValue(headers network.Headers, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// resolveRedirect absolutizes a Location header against the current URL.
func resolveRedirect(current, location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	base, err := url.Parse(current)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
