package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New("edge-feed")

	assert.Equal(t, "edge-feed", cfg.Name)
	assert.Positive(t, cfg.Performance.Workers)
	assert.Equal(t, 4096, cfg.Performance.BufferSize)
	assert.Equal(t, "csv", cfg.Ingest.Format)
	assert.Equal(t, "none", cfg.Emit.Compression)
	assert.Equal(t, 48, cfg.Scoring.Window)
	assert.Equal(t, 3.0, cfg.Scoring.Threshold)
	assert.NoError(t, cfg.Validate())
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"zero workers", func(c *Config) { c.Performance.Workers = 0 }},
		{"bad ingest format", func(c *Config) { c.Ingest.Format = "xml" }},
		{"bad emit format", func(c *Config) { c.Emit.Format = "parquet" }},
		{"window too small", func(c *Config) { c.Scoring.Window = 1 }},
		{"min samples too small", func(c *Config) { c.Scoring.MinSamples = 1 }},
		{"zero threshold", func(c *Config) { c.Scoring.Threshold = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New("test")
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("STRATA_TEST_INPUT", "/data/raw.csv")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `name: edge-feed
ingest:
  path: ${STRATA_TEST_INPUT}
  format: csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := New("default")
	require.NoError(t, Load(path, cfg))
	assert.Equal(t, "edge-feed", cfg.Name)
	assert.Equal(t, "/data/raw.csv", cfg.Ingest.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Performance.BatchSize)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := New("roundtrip")
	cfg.Emit.Compression = "zstd"
	cfg.Scoring.Window = 12
	require.NoError(t, Save(path, cfg))

	loaded := New("other")
	require.NoError(t, Load(path, loaded))
	assert.Equal(t, cfg, loaded)
}

func TestGetWorkersFallsBackToCPUs(t *testing.T) {
	p := PerformanceConfig{Workers: 0}
	assert.Positive(t, p.GetWorkers())

	p.Workers = 3
	assert.Equal(t, 3, p.GetWorkers())
}
