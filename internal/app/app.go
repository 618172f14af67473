// Package app initializes and holds long-lived pipeline services, acting as
// a dependency injection container. It is the central point for service
// construction and fails fast when any critical dependency cannot start.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/api"
	"github.com/webtaxon/webtaxon/internal/backend"
	"github.com/webtaxon/webtaxon/internal/browser"
	"github.com/webtaxon/webtaxon/internal/classify"
	"github.com/webtaxon/webtaxon/internal/config"
	"github.com/webtaxon/webtaxon/internal/logging"
	"github.com/webtaxon/webtaxon/internal/pacing"
	"github.com/webtaxon/webtaxon/internal/pipeline"
	"github.com/webtaxon/webtaxon/internal/robots"
	"github.com/webtaxon/webtaxon/internal/safety"
	"github.com/webtaxon/webtaxon/internal/scraper"
	"github.com/webtaxon/webtaxon/internal/source"
	"github.com/webtaxon/webtaxon/internal/store/memory"
	"github.com/webtaxon/webtaxon/internal/store/postgres"
)

// App holds all shared, long-lived services of the pipeline.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Store        pipeline.Store
	Backend      pipeline.Backend
	Source       pipeline.Source
	Guard        *safety.Guard
	Metadata     *safety.MetadataSet
	Robots       *robots.Cache
	Pool         *browser.Pool
	Fetcher      *scraper.Fetcher
	Runner       *scraper.Runner
	Orchestrator *classify.Orchestrator
	API          *api.Server
}

// New builds the full service graph from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("initializing pipeline services")

	st, err := buildStore(ctx, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	metadata := safety.NewMetadataSet(safety.MetadataConfig{
		Sources:   cfg.Safety.MetadataSources,
		CachePath: cfg.Safety.MetadataCachePath,
		TTL:       time.Duration(cfg.Safety.MetadataTTLHours) * time.Hour,
	}, logger)
	if err := metadata.Refresh(ctx); err != nil {
		// The static fallback set still protects the fetcher.
		logger.Warn("cloud-metadata refresh failed, using fallback set", zap.Error(err))
	}
	guard := safety.NewGuard(net.DefaultResolver, metadata, logger)

	limiter := pacing.NewLimiter(pacing.LimiterConfig{
		MinDelay:  cfg.Pacing.MinDelay(),
		JitterMin: time.Duration(cfg.Pacing.JitterMinMs) * time.Millisecond,
		JitterMax: time.Duration(cfg.Pacing.JitterMaxMs) * time.Millisecond,
		SlowAfter: time.Duration(cfg.Pacing.SlowAfterSeconds) * time.Second,
	})
	timeouts := pacing.NewTimeoutManager(pacing.TimeoutConfig{
		Base: time.Duration(cfg.Pacing.TimeoutBaseSec) * time.Second,
		Max:  time.Duration(cfg.Pacing.TimeoutMaxSec) * time.Second,
	})

	robotsCache := robots.NewCache(robots.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		TTL:          cfg.Robots.RobotsTTL(),
		StuckTimeout: time.Duration(cfg.Robots.StuckTimeoutSec) * time.Second,
		FlushEvery:   cfg.Robots.FlushEvery,
		CachePath:    cfg.Robots.CachePath,
		HTTPTimeout:  time.Duration(cfg.Robots.FetchTimeoutSec) * time.Second,
	}, logger)

	pool, err := browser.NewPool(browser.Config{
		Mode: browser.Mode(cfg.Pool.Mode),
		Size: cfg.Pool.Size,
	}, logger)
	if err != nil {
		robotsCache.Close()
		st.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("initialize fetch session pool: %w", err)
	}

	fetcher := scraper.New(
		scraper.Config{
			MaxRedirects:  cfg.Scraper.MaxRedirects,
			MaxBodyBytes:  cfg.Scraper.MaxBodyBytes,
			MaxParagraphs: cfg.Scraper.MaxParagraphs,
			RetryAttempts: cfg.Scraper.RetryAttempts,
		},
		st,
		guard,
		robotsCache,
		scraper.Pacing{Limiter: limiter, Timeouts: timeouts},
		scraper.PoolAdapter{Pool: pool},
		logger,
	)
	runner := scraper.NewRunner(fetcher, cfg.Scraper.Concurrency, logger)

	backendClient := backend.NewClient(backend.Config{
		Endpoint:       cfg.Backend.Endpoint,
		Model:          cfg.Backend.Model,
		Timeout:        time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		RequestsPerSec: cfg.Backend.RequestsPerSec,
	}, logger)

	orchestrator := classify.New(classify.Config{
		BatchSize:     cfg.Classify.BatchSize,
		MaxConcurrent: cfg.Classify.MaxConcurrent,
		BatchPause:    time.Duration(cfg.Classify.BatchPauseSec) * time.Second,
		Retries:       cfg.Classify.Retries,
	}, st, backendClient, pipeline.SystemClock{}, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Backend:      backendClient,
		Source:       source.NewCSV(cfg.Source.Path, logger),
		Guard:        guard,
		Metadata:     metadata,
		Robots:       robotsCache,
		Pool:         pool,
		Fetcher:      fetcher,
		Runner:       runner,
		Orchestrator: orchestrator,
		API:          api.NewServer(st, logger),
	}, nil
}

// Close shuts services down in reverse dependency order. It is safe to call
// once during process exit.
func (a *App) Close() {
	a.Logger.Info("shutting down pipeline services")
	a.Pool.Close()
	a.Robots.Close()
	a.Store.Close()
	_ = a.Logger.Sync()
}

func buildStore(ctx context.Context, cfg config.Config) (pipeline.Store, error) {
	switch cfg.Store.Provider {
	case "postgres":
		st, err := postgres.New(ctx, postgres.Config{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return st, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store.provider %q", cfg.Store.Provider)
	}
}
