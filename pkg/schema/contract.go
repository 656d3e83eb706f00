// Package schema implements the frozen telemetry schema contract: an
// append-only registry of per-layer schema versions, an additive-only
// evolver, and a side-effect-free row validator.
package schema

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/strata/pkg/models"
)

// Baseline returns version 1 of the contract for the given layer: the ordered
// column list both sides of the contract agreed to freeze. Columns are never
// reordered; new columns are appended.
func Baseline(layer models.Layer) []models.ColumnSpec {
	switch layer {
	case models.LayerRawMinute:
		return rawMinuteColumns()
	case models.LayerBuckets5m:
		return buckets5mColumns()
	case models.LayerFeatures5m:
		return features5mColumns()
	case models.LayerScoresZScore:
		return scoresZScoreColumns()
	}
	return nil
}

// RegisterBaseline registers version 1 of every layer into the registry.
// Registering over an already-seeded registry is a no-op per layer thanks to
// fingerprint deduplication.
func RegisterBaseline(ctx context.Context, registry *Registry) error {
	for _, layer := range models.Layers() {
		if _, err := registry.Register(ctx, layer, Baseline(layer)); err != nil {
			return fmt.Errorf("baseline for %s: %w", layer, err)
		}
	}
	return nil
}

func rawMinuteColumns() []models.ColumnSpec {
	return []models.ColumnSpec{
		// Provenance
		{Name: "seed", Type: models.TypeInt, Required: true, Description: "generator seed for reproducibility"},

		// Slice dimensions
		{Name: "ts", Type: models.TypeTimestamp, Required: true, Description: "minute floor, UTC"},
		{Name: "partner", Type: models.TypeString, Required: true},
		{Name: "service", Type: models.TypeString, Required: true, Description: "live|vod|dvr|eas|live_ott|app_backend"},
		{Name: "region", Type: models.TypeString, Required: true},
		{Name: "pop", Type: models.TypeString, Required: true},
		{Name: "host", Type: models.TypeString, Required: true},
		{Name: "content_type", Type: models.TypeString, Required: true, Description: "manifest|segment|api"},
		{Name: "ua_family", Type: models.TypeString, Required: true, Description: "stb|mobile|web|smart_tv|console"},

		// Core metrics
		{Name: "requests", Type: models.TypeInt, Required: true},
		{Name: "bytes_sent", Type: models.TypeInt, Required: true},
		{Name: "p50_ms", Type: models.TypeFloat, Required: true},
		{Name: "p95_ms", Type: models.TypeFloat, Required: true},
		{Name: "p99_ms", Type: models.TypeFloat, Required: true},
		{Name: "cache_hit_rate", Type: models.TypeFloat, Required: true},

		// Status buckets; the four must sum to requests
		{Name: "http_2xx_count", Type: models.TypeInt, Required: true},
		{Name: "http_3xx_count", Type: models.TypeInt, Required: true},
		{Name: "http_4xx_count", Type: models.TypeInt, Required: true},
		{Name: "http_5xx_count", Type: models.TypeInt, Required: true},

		// Detailed 5xx breakdown, subset of http_5xx_count
		{Name: "status_500", Type: models.TypeInt, Required: true},
		{Name: "status_502", Type: models.TypeInt, Required: true},
		{Name: "status_503", Type: models.TypeInt, Required: true},
		{Name: "status_504", Type: models.TypeInt, Required: true},

		// Other signals
		{Name: "crc_errors", Type: models.TypeInt, Required: true},

		// Per-event feeds tag individual requests instead of carrying a rate
		{Name: "cache_status", Type: models.TypeString, Required: false, Description: "hit|miss, per-event feeds only"},
	}
}

func buckets5mColumns() []models.ColumnSpec {
	return []models.ColumnSpec{
		{Name: "bucket_ts", Type: models.TypeTimestamp, Required: true, Description: "five-minute window start, UTC"},
		{Name: "partner", Type: models.TypeString, Required: true},
		{Name: "service", Type: models.TypeString, Required: true},
		{Name: "region", Type: models.TypeString, Required: true},
		{Name: "pop", Type: models.TypeString, Required: true},
		{Name: "requests", Type: models.TypeInt, Required: true},
		{Name: "bytes_sent", Type: models.TypeInt, Required: true},
		{Name: "cache_hit_count", Type: models.TypeInt, Required: true},
		{Name: "http_4xx_count", Type: models.TypeInt, Required: true},
		{Name: "http_5xx_count", Type: models.TypeInt, Required: true},
		{Name: "crc_errors", Type: models.TypeInt, Required: true},
		{Name: "slice_count", Type: models.TypeInt, Required: true, Description: "raw rows folded into this bucket"},
		{Name: "p95_ms_avg", Type: models.TypeFloat, Required: true, Description: "request-weighted mean of p95_ms"},
		{Name: "p99_ms_max", Type: models.TypeFloat, Required: true},
	}
}

func features5mColumns() []models.ColumnSpec {
	return []models.ColumnSpec{
		{Name: "bucket_ts", Type: models.TypeTimestamp, Required: true},
		{Name: "partner", Type: models.TypeString, Required: true},
		{Name: "service", Type: models.TypeString, Required: true},
		{Name: "region", Type: models.TypeString, Required: true},
		{Name: "pop", Type: models.TypeString, Required: true},
		{Name: "error_rate", Type: models.TypeFloat, Required: true, Description: "(http_4xx_count + http_5xx_count) / requests"},
		{Name: "cache_hit_ratio", Type: models.TypeFloat, Required: true, Description: "cache_hit_count / requests"},
		{Name: "crc_error_rate", Type: models.TypeFloat, Required: true, Description: "crc_errors / requests"},
		{Name: "p95_ms_avg", Type: models.TypeFloat, Required: true},
		{Name: "bytes_per_request", Type: models.TypeFloat, Required: true},
		{Name: "requests_per_slice", Type: models.TypeFloat, Required: true},
	}
}

func scoresZScoreColumns() []models.ColumnSpec {
	return []models.ColumnSpec{
		{Name: "bucket_ts", Type: models.TypeTimestamp, Required: true},
		{Name: "partner", Type: models.TypeString, Required: true},
		{Name: "service", Type: models.TypeString, Required: true},
		{Name: "region", Type: models.TypeString, Required: true},
		{Name: "pop", Type: models.TypeString, Required: true},
		{Name: "metric", Type: models.TypeString, Required: true, Description: "feature column the score is for"},
		{Name: "observed", Type: models.TypeFloat, Required: true},
		{Name: "mean", Type: models.TypeFloat, Required: true, Description: "rolling mean of prior observations"},
		{Name: "stddev", Type: models.TypeFloat, Required: true},
		{Name: "zscore", Type: models.TypeFloat, Required: true},
		{Name: "anomaly", Type: models.TypeBool, Required: true},
	}
}

// ContractFile is the on-disk YAML form of a contract: per-layer ordered
// column lists. It lets operators pin a contract outside the binary.
type ContractFile struct {
	Layers map[models.Layer][]models.ColumnSpec `yaml:"layers"`
}

// LoadContract reads a contract definition from a YAML file. ${VAR}
// references in the file are substituted from the environment before parsing.
func LoadContract(path string) (*ContractFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("failed to read contract file: %w", err)
	}

	var cf ContractFile
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &cf); err != nil {
		return nil, fmt.Errorf("failed to parse contract YAML: %w", err)
	}

	for layer, columns := range cf.Layers {
		if !layer.Valid() {
			return nil, fmt.Errorf("unknown layer %q in contract file", layer)
		}
		for _, col := range columns {
			if col.Name == "" {
				return nil, fmt.Errorf("layer %s: column with empty name", layer)
			}
			if !col.Type.Valid() {
				return nil, fmt.Errorf("layer %s: column %q has unknown type %q", layer, col.Name, col.Type)
			}
		}
	}
	return &cf, nil
}

// SaveContract writes a contract definition to a YAML file.
func SaveContract(path string, cf *ContractFile) error {
	data, err := yaml.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal contract YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write contract file: %w", err)
	}
	return nil
}

// Register registers every layer of the contract file into the registry.
func (cf *ContractFile) Register(ctx context.Context, registry *Registry) error {
	for _, layer := range models.Layers() {
		columns, ok := cf.Layers[layer]
		if !ok {
			continue
		}
		if _, err := registry.Register(ctx, layer, columns); err != nil {
			return fmt.Errorf("contract file layer %s: %w", layer, err)
		}
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
