// Package core defines the source and destination interfaces used by the
// pipeline to read raw telemetry and emit layer files.
package core

import (
	"context"

	"github.com/ajitpratap0/strata/pkg/models"
)

// Record is a single row read from a source, paired with its position in the
// input for error reporting.
type Record struct {
	// Data holds the parsed column values keyed by column name.
	Data map[string]any
	// Line is the 1-based position in the input (line or record number).
	Line int
}

// Source reads raw telemetry rows from an external location.
//
// Implementations parse values according to the column specs passed to Open
// and leave absent optional columns out of the record entirely. Parse
// failures surface per record through Stream so one bad row does not stop
// the read.
type Source interface {
	// Open prepares the source for reading. The column specs drive type
	// parsing of the underlying text values.
	Open(ctx context.Context, columns []models.ColumnSpec) error
	// Stream returns a channel of records and a channel of read errors.
	// Both channels close when the input is exhausted or ctx is done.
	Stream(ctx context.Context) (<-chan Record, <-chan error)
	// Close releases the underlying resources.
	Close() error
}

// Destination writes rows for a single layer to an external location.
//
// Write calls are serialized by the pipeline; implementations do not need
// to be safe for concurrent writers. Close flushes buffered data and must
// be called before the output is read.
type Destination interface {
	// Open prepares the destination. The column specs fix the output
	// column order.
	Open(ctx context.Context, layer models.Layer, columns []models.ColumnSpec) error
	// Write appends a single row.
	Write(ctx context.Context, row *models.Row) error
	// Close flushes and releases the underlying resources.
	Close() error
}
