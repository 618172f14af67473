package scraper

import (
	"context"
	"time"

	"github.com/webtaxon/webtaxon/internal/pacing"
)

// Pacing bundles the rate limiter and the adaptive timeout manager behind
// the Pacer interface.
type Pacing struct {
	Limiter  *pacing.Limiter
	Timeouts *pacing.TimeoutManager
}

// Wait implements Pacer.
func (p Pacing) Wait(ctx context.Context, domain string) error {
	return p.Limiter.Wait(ctx, domain)
}

// Observe implements Pacer.
func (p Pacing) Observe(domain string, responseTime time.Duration, failed bool) {
	p.Limiter.Observe(domain, responseTime, failed)
}

// Timeout implements Pacer.
func (p Pacing) Timeout(domain string) time.Duration {
	return p.Timeouts.Timeout(domain)
}

// Record implements Pacer.
func (p Pacing) Record(domain string, responseTime time.Duration) {
	p.Timeouts.Record(domain, responseTime)
}
