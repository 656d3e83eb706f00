// Package config provides the unified configuration for Strata pipeline runs.
// A single Config structure covers ingestion, registry persistence, emission
// and observability so every command loads configuration the same way.
package config

import (
	"fmt"
	"runtime"
)

// Config is the pipeline run configuration.
type Config struct {
	// Name identifies the pipeline instance in logs and metrics.
	Name string `yaml:"name" json:"name"`

	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Registry      RegistryConfig      `yaml:"registry" json:"registry"`
	Ingest        IngestConfig        `yaml:"ingest" json:"ingest"`
	Emit          EmitConfig          `yaml:"emit" json:"emit"`
	Scoring       ScoringConfig       `yaml:"scoring" json:"scoring"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PerformanceConfig controls throughput and resource usage.
type PerformanceConfig struct {
	// Workers is the number of parallel row validation workers.
	Workers int `yaml:"workers" json:"workers"`
	// BufferSize is the channel buffer between pipeline stages.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// BatchSize is how many rows a buffering sink holds between flushes.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// RegistryConfig controls schema registry persistence.
type RegistryConfig struct {
	// SnapshotPath is where the registry state is exported after a run.
	// Empty disables persistence.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
	// ContractPath optionally points at a YAML contract file registered on
	// startup instead of the built-in baseline.
	ContractPath string `yaml:"contract_path" json:"contract_path"`
}

// IngestConfig describes the raw_minute input.
type IngestConfig struct {
	// Path is the input file.
	Path string `yaml:"path" json:"path"`
	// Format is "csv" or "jsonl".
	Format string `yaml:"format" json:"format"`
	// SchemaVersion pins validation to a historical version; 0 means current.
	SchemaVersion int `yaml:"schema_version" json:"schema_version"`
}

// EmitConfig describes the per-layer outputs.
type EmitConfig struct {
	// Dir is the output directory; one file per layer.
	Dir string `yaml:"dir" json:"dir"`
	// Format is "csv" or "jsonl".
	Format string `yaml:"format" json:"format"`
	// Compression is one of none, gzip, snappy, lz4, zstd, s2.
	Compression string `yaml:"compression" json:"compression"`
	// CompressionLevel maps onto the algorithm's levels (1-9).
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
	// ParquetScores additionally writes scores_zscore as a Parquet file.
	ParquetScores bool `yaml:"parquet_scores" json:"parquet_scores"`
}

// ScoringConfig controls the z-score stage.
type ScoringConfig struct {
	// Window is the number of trailing buckets kept per key and metric.
	Window int `yaml:"window" json:"window"`
	// MinSamples is the number of prior observations required before a
	// score is emitted.
	MinSamples int `yaml:"min_samples" json:"min_samples"`
	// Threshold is the |z| at or above which a score is flagged anomalous.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// ObservabilityConfig controls logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `yaml:"log_level" json:"log_level"`
	LogFormat         string  `yaml:"log_format" json:"log_format"` // json or console
	EnableMetrics     bool    `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// New returns a Config with production-ready defaults.
func New(name string) *Config {
	return &Config{
		Name: name,
		Performance: PerformanceConfig{
			Workers:    runtime.NumCPU(),
			BufferSize: 4096,
			BatchSize:  1000,
		},
		Ingest: IngestConfig{
			Format: "csv",
		},
		Emit: EmitConfig{
			Format:           "csv",
			Compression:      "none",
			CompressionLevel: 5,
		},
		Scoring: ScoringConfig{
			Window:     48,
			MinSamples: 6,
			Threshold:  3.0,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			EnableMetrics:     true,
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate checks required fields and value ranges. Commands call this after
// loading configuration to catch errors early.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Performance.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Performance.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if c.Performance.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	switch c.Ingest.Format {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("ingest format %q is not supported", c.Ingest.Format)
	}
	switch c.Emit.Format {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("emit format %q is not supported", c.Emit.Format)
	}
	if c.Scoring.Window <= 1 {
		return fmt.Errorf("scoring window must be greater than 1")
	}
	if c.Scoring.MinSamples < 2 {
		return fmt.Errorf("scoring min_samples must be at least 2")
	}
	if c.Scoring.Threshold <= 0 {
		return fmt.Errorf("scoring threshold must be positive")
	}
	return nil
}

// GetWorkers returns the worker count, defaulting to the CPU count.
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}
