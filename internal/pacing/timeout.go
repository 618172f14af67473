package pacing

import (
	"sync"
	"time"
)

// TimeoutManager derives per-domain navigation timeouts from a running
// average of successful response times: clamp(avg*3, base, max).
type TimeoutManager struct {
	mu      sync.Mutex
	avg     map[string]time.Duration
	samples map[string]int

	base time.Duration
	max  time.Duration
}

// TimeoutConfig bounds the derived timeout; zero values select defaults.
type TimeoutConfig struct {
	Base time.Duration // default 15s
	Max  time.Duration // default 30s
}

// NewTimeoutManager builds a TimeoutManager.
func NewTimeoutManager(cfg TimeoutConfig) *TimeoutManager {
	if cfg.Base <= 0 {
		cfg.Base = 15 * time.Second
	}
	if cfg.Max <= cfg.Base {
		cfg.Max = 2 * cfg.Base
	}
	return &TimeoutManager{
		avg:     make(map[string]time.Duration),
		samples: make(map[string]int),
		base:    cfg.Base,
		max:     cfg.Max,
	}
}

// Timeout returns the navigation timeout for domain. Domains without history
// get the base timeout.
func (m *TimeoutManager) Timeout(domain string) time.Duration {
	m.mu.Lock()
	avg, ok := m.avg[domain]
	m.mu.Unlock()
	if !ok {
		return m.base
	}
	derived := avg * 3
	if derived < m.base {
		return m.base
	}
	if derived > m.max {
		return m.max
	}
	return derived
}

// Record updates the running average after a successful fetch. Errored
// fetches are not recorded so one hung request cannot inflate the window.
func (m *TimeoutManager) Record(domain string, responseTime time.Duration) {
	if responseTime <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.samples[domain]
	m.avg[domain] = (m.avg[domain]*time.Duration(n) + responseTime) / time.Duration(n+1)
	m.samples[domain] = n + 1
}
