// Package backend talks to an Ollama-compatible text-generation endpoint.
// The client paces requests, retries transport and status failures with a
// short pause, and hands raw completions back to the caller for parsing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webtaxon/webtaxon/internal/metrics"
)

// retryPause spaces consecutive attempts against a struggling backend.
const retryPause = 500 * time.Millisecond

// Config points the client at a generation endpoint.
type Config struct {
	Endpoint       string
	Model          string
	Timeout        time.Duration
	RequestsPerSec float64
}

// Client is a pipeline.Backend over HTTP.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	// pause is swapped in tests to skip real sleeps between retries.
	pause func(ctx context.Context, d time.Duration) error
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewClient builds a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		pause:   pauseCtx,
	}
}

// Classify sends prompt to the backend and returns the raw completion.
// Transport errors and non-200 statuses are retried up to retries extra
// times; a well-formed completion is returned as-is, whatever it says.
func (c *Client) Classify(ctx context.Context, prompt string, retries int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			metrics.ObserveBackendRetry()
			if err := c.pause(ctx, retryPause); err != nil {
				return "", fmt.Errorf("backend retry aborted: %w", err)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("backend rate limit wait: %w", err)
		}

		completion, err := c.generate(ctx, prompt)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		c.logger.Warn("backend call failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", retries+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("backend failed after %d tries: %w", retries+1, lastErr)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

func pauseCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
