// Package browser maintains a bounded pool of reusable fetch sessions.
// A session is either a tab context on a shared headless Chrome engine or a
// pooled HTTP collector; both present the same Navigate surface. Checkout
// blocks until a slot frees, checkin is unconditional, and every checkout
// carries a fresh browsing identity so state never leaks between domains.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/metrics"
)

// Mode selects the session engine backing the pool.
type Mode string

// Supported pool modes.
const (
	ModeHeadless Mode = "headless"
	ModeHTTP     Mode = "http"
)

// Page is what a navigation returns: the rendered document plus metadata.
type Page struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Duration   time.Duration
}

// RedirectFunc is invoked once per redirect hop with the absolute target
// URL. Returning an error aborts the navigation with that error.
type RedirectFunc func(target string) error

// engine is the mode-specific machinery shared by all sessions of a pool.
type engine interface {
	navigate(ctx context.Context, url string, timeout time.Duration, id identity, onRedirect RedirectFunc) (*Page, error)
	close()
}

// Config sizes the pool.
type Config struct {
	Mode      Mode
	Size      int
	UserAgent string // reserved identity override; empty uses the rotation
}

// Pool is a fixed-size pool of fetch sessions, lazily initialized on first
// acquire.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	slots chan struct{}

	mu      sync.Mutex
	eng     engine
	rng     *rand.Rand
	initErr error
	started bool
	closed  bool

	// newEngine builds the mode-specific engine; swapped in tests.
	newEngine func(cfg Config, logger *zap.Logger) (engine, error)
}

// NewPool builds an uninitialized pool. The underlying engine (and, in
// headless mode, the Chrome process) is not started until the first Acquire.
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be > 0")
	}
	if cfg.Mode != ModeHeadless && cfg.Mode != ModeHTTP {
		return nil, fmt.Errorf("unknown pool mode %q", cfg.Mode)
	}
	slots := make(chan struct{}, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		slots <- struct{}{}
	}
	return &Pool{
		cfg:       cfg,
		logger:    logger,
		slots:     slots,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		newEngine: buildEngine,
	}, nil
}

// Acquire blocks until a session slot is available. The returned session
// must be released exactly once; Release is safe on every exit path and
// tolerates double calls.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if err := p.init(); err != nil {
		return nil, err
	}

	start := time.Now()
	select {
	case <-p.slots:
		metrics.ObservePoolWait(time.Since(start))
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for fetch session: %w", ctx.Err())
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots <- struct{}{}
		return nil, fmt.Errorf("pool is closed")
	}
	id := newIdentity(p.rng)
	if p.cfg.UserAgent != "" {
		id.UserAgent = p.cfg.UserAgent
	}
	eng := p.eng
	p.mu.Unlock()

	return &Session{pool: p, eng: eng, id: id}, nil
}

func (p *Pool) init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pool is closed")
	}
	if p.started {
		return p.initErr
	}
	p.started = true
	eng, err := p.newEngine(p.cfg, p.logger)
	if err != nil {
		p.initErr = fmt.Errorf("initialize %s engine: %w", p.cfg.Mode, err)
		return p.initErr
	}
	p.eng = eng
	p.logger.Info("fetch session pool initialized",
		zap.String("mode", string(p.cfg.Mode)),
		zap.Int("size", p.cfg.Size),
	)
	return nil
}

// Close shuts the engine down. It is idempotent and safe to call even when
// initialization never ran or partially failed.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.eng != nil {
		p.eng.close()
		p.eng = nil
	}
}

// Session is one checked-out fetch slot with its own browsing identity.
type Session struct {
	pool    *Pool
	eng     engine
	id      identity
	release sync.Once
}

// Navigate loads url and returns the rendered page. onRedirect, when
// non-nil, is consulted for every redirect hop before it is followed.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration, onRedirect RedirectFunc) (*Page, error) {
	return s.eng.navigate(ctx, url, timeout, s.id, onRedirect)
}

// UserAgent exposes the identity chosen for this checkout.
func (s *Session) UserAgent() string { return s.id.UserAgent }

// Release returns the slot to the pool. Double release is a no-op.
func (s *Session) Release() {
	s.release.Do(func() {
		s.pool.slots <- struct{}{}
	})
}

func buildEngine(cfg Config, logger *zap.Logger) (engine, error) {
	switch cfg.Mode {
	case ModeHeadless:
		return newHeadlessEngine(logger)
	case ModeHTTP:
		return newHTTPEngine(logger)
	default:
		return nil, fmt.Errorf("unknown pool mode %q", cfg.Mode)
	}
}
