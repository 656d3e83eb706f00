// Package strata provides a schema-contract enforcement engine for a layered
// telemetry data flow shared between a telemetry producer and a downstream ML
// consumer.
//
// The contract defines four ordered layers:
//
//	raw_minute -> buckets_5m -> features_5m -> scores_zscore
//
// and a single evolution rule: columns may be added, never renamed or removed.
// Strata turns that document into an enforceable system:
//
//   - schema.Registry holds the per-layer, append-only chain of schema versions.
//   - schema.Evolver accepts proposed changes and rejects anything that is not
//     a pure addition.
//   - schema.Validator checks rows against a layer's schema and reports the
//     offending columns.
//   - pipeline.Pipeline moves rows through the four layers, validating at every
//     boundary; a non-conformant row is rejected and reported without stopping
//     the run.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/strata/pkg/schema"
//	    "go.uber.org/zap"
//	)
//
//	logger, _ := zap.NewProduction()
//	registry := schema.NewRegistry(logger)
//	if err := schema.RegisterBaseline(context.Background(), registry); err != nil {
//	    logger.Fatal("baseline contract rejected", zap.Error(err))
//	}
//
//	validator := schema.NewValidator(registry)
//	if err := validator.Validate(row, models.LayerRawMinute, 0); err != nil {
//	    // MissingColumn / TypeMismatch with the column named in the error
//	}
//
// # Package Organization
//
//   - pkg/models: layers, column specs, rows and their lifecycle states
//   - pkg/schema: registry, evolver, validator, the built-in baseline contract
//   - pkg/errors: structured errors (missing_column, type_mismatch,
//     invalid_evolution, schema_violation)
//   - pkg/connector: row sources (CSV, JSONEachRow) and sinks (CSV, JSONL,
//     Parquet)
//   - pkg/compression: streaming compression for emitted layer files
//   - internal/pipeline: the four-stage layer pipeline
//   - cmd/strata: the command-line interface
package strata
