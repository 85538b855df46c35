package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Pipeline.Workers)
	require.Equal(t, 256, cfg.Pipeline.MaxBatchEvents)
	require.Equal(t, 2*time.Second, cfg.BatchWait())
	require.InDelta(t, 0.02, cfg.Suppression.MinProgressDelta, 1e-9)
	require.Equal(t, 10, cfg.Suppression.MinTimeSpentSeconds)
	require.Equal(t, "memory", cfg.Store.Provider)
	require.True(t, cfg.Sweeper.Enabled)
	require.Equal(t, 30*24*time.Hour, cfg.Retention())
	require.Equal(t, 24*time.Hour, cfg.SweepInterval())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server:
  port: 9000
pipeline:
  workers: 8
  max_batch_events: 64
  batch_wait_ms: 500
suppression:
  min_progress_delta: 0.05
  min_time_spent_seconds: 20
store:
  provider: postgres
  dsn: postgres://localhost:5432/progress
sweeper:
  retention_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 8, cfg.Pipeline.Workers)
	require.Equal(t, 64, cfg.Pipeline.MaxBatchEvents)
	require.Equal(t, 500*time.Millisecond, cfg.BatchWait())
	require.InDelta(t, 0.05, cfg.Suppression.MinProgressDelta, 1e-9)
	require.Equal(t, "postgres", cfg.Store.Provider)
	require.Equal(t, 14*24*time.Hour, cfg.Retention())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROGRESS_SERVER_PORT", "9191")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.Workers = 0 },
			wantErr: "pipeline.workers",
		},
		{
			name:    "progress delta out of range",
			mutate:  func(c *Config) { c.Suppression.MinProgressDelta = 1.5 },
			wantErr: "min_progress_delta",
		},
		{
			name: "postgres store without dsn",
			mutate: func(c *Config) {
				c.Store.Provider = "postgres"
				c.Store.DSN = ""
			},
			wantErr: "store.dsn",
		},
		{
			name: "sweeper without retention",
			mutate: func(c *Config) {
				c.Sweeper.Enabled = true
				c.Sweeper.RetentionDays = 0
			},
			wantErr: "retention_days",
		},
		{
			name: "auth without key",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.APIKey = ""
			},
			wantErr: "auth.api_key",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCatalogDSNFallsBackToStore(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.Store.DSN = "postgres://store"
	require.Equal(t, "postgres://store", cfg.CatalogDSN())

	cfg.Catalog.DSN = "postgres://catalog"
	require.Equal(t, "postgres://catalog", cfg.CatalogDSN())
}
