package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  endpoint: http://localhost:11434/api/generate
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Scraper.MaxRedirects)
	require.Equal(t, 1_000_000, cfg.Scraper.MaxBodyBytes)
	require.Equal(t, 20, cfg.Classify.BatchSize)
	require.Equal(t, 10, cfg.Classify.MaxConcurrent)
	require.Equal(t, 5, cfg.Pacing.MinDelaySeconds)
	require.Equal(t, 24, cfg.Robots.TTLHours)
	require.Equal(t, "headless", cfg.Pool.Mode)
	require.Equal(t, "memory", cfg.Store.Provider)
}

func TestLoadFailsWithoutBackendEndpoint(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend.endpoint")
}

func TestLoadFailsOnPostgresWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
backend:
  endpoint: http://localhost:11434/api/generate
store:
  provider: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "store.dsn")
}

func TestLoadRejectsUnknownPoolMode(t *testing.T) {
	path := writeConfig(t, `
backend:
  endpoint: http://localhost:11434/api/generate
pool:
  mode: carrier-pigeon
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pool.mode")
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
backend:
  endpoint: http://classifier:11434/api/generate
  model: mixtral
scraper:
  concurrency: 8
  max_redirects: 2
store:
  provider: postgres
  dsn: postgres://taxon:secret@db:5432/webtaxon
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mixtral", cfg.Backend.Model)
	require.Equal(t, 8, cfg.Scraper.Concurrency)
	require.Equal(t, 2, cfg.Scraper.MaxRedirects)
	require.Equal(t, "postgres", cfg.Store.Provider)
}
