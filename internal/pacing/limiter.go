// Package pacing spaces out per-domain requests and sizes fetch timeouts
// from observed response times. Delays are advisory pacing signals, not hard
// admission control.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter enforces a minimum inter-request delay per domain plus randomized
// jitter, so traffic to any one site never looks bursty.
type Limiter struct {
	mu          sync.Mutex
	lastRequest map[string]time.Time
	penalty     map[string]time.Duration

	minDelay  time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	slowAfter time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	rand  *rand.Rand
}

// LimiterConfig carries the pacing knobs; zero values select defaults.
type LimiterConfig struct {
	MinDelay  time.Duration // default 5s
	JitterMin time.Duration // default 1.5s
	JitterMax time.Duration // default 3.5s
	SlowAfter time.Duration // default 8s
}

// NewLimiter builds a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 5 * time.Second
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = 1500 * time.Millisecond
	}
	if cfg.JitterMax <= cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin + 2*time.Second
	}
	if cfg.SlowAfter <= 0 {
		cfg.SlowAfter = 8 * time.Second
	}
	return &Limiter{
		lastRequest: make(map[string]time.Time),
		penalty:     make(map[string]time.Duration),
		minDelay:    cfg.MinDelay,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
		slowAfter:   cfg.SlowAfter,
		sleep:       sleepCtx,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the domain's pacing window has elapsed, honoring ctx.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	l.mu.Lock()
	now := time.Now()
	var remaining time.Duration
	if last, ok := l.lastRequest[domain]; ok {
		if elapsed := now.Sub(last); elapsed < l.minDelay {
			remaining = l.minDelay - elapsed
		}
	}
	jitter := l.jitterMin + time.Duration(l.rand.Int63n(int64(l.jitterMax-l.jitterMin)))
	if extra, ok := l.penalty[domain]; ok {
		jitter += extra
		delete(l.penalty, domain)
	}
	l.mu.Unlock()

	if err := l.sleep(ctx, remaining+jitter); err != nil {
		return err
	}

	l.mu.Lock()
	l.lastRequest[domain] = time.Now()
	l.mu.Unlock()
	return nil
}

// Observe feeds the outcome of a fetch back into the pacing state: errored
// requests roughly double the next jitter, and successful-but-slow responses
// grow it by half.
func (l *Limiter) Observe(domain string, responseTime time.Duration, failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case failed:
		l.penalty[domain] = l.jitterMax
	case responseTime > l.slowAfter:
		l.penalty[domain] = l.jitterMax / 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
