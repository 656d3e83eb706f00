// Package parquet provides a Parquet destination for the scores layer,
// using github.com/parquet-go/parquet-go struct schema inference.
package parquet

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/connector/registry"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/models"
)

func init() {
	_ = registry.RegisterDestination("parquet", func(path string) (core.Destination, error) {
		return NewDestination(path), nil
	})
}

// defaultBatchSize is how many rows are buffered before a write to the
// Parquet writer when no batch size is configured.
const defaultBatchSize = 1000

// ScoreRecord is the Parquet row shape for the scores layer. The schema is
// derived from the struct tags.
type ScoreRecord struct {
	BucketTs time.Time `parquet:"bucket_ts,snappy"`
	Partner  string    `parquet:"partner,snappy"`
	Service  string    `parquet:"service,snappy"`
	Region   string    `parquet:"region,snappy"`
	Pop      string    `parquet:"pop,snappy"`
	Metric   string    `parquet:"metric,snappy"`
	Observed float64   `parquet:"observed,snappy"`
	Mean     float64   `parquet:"mean,snappy"`
	Stddev   float64   `parquet:"stddev,snappy"`
	ZScore   float64   `parquet:"zscore,snappy"`
	Anomaly  bool      `parquet:"anomaly,snappy"`
}

// Destination writes score rows to a Parquet file, flushing to the writer in
// batches so memory stays bounded. It accepts only the scores layer.
type Destination struct {
	path      string
	batchSize int
	file      *os.File
	writer    *parquet.GenericWriter[ScoreRecord]
	batch     []ScoreRecord
	written   int64
}

// Option configures a Destination.
type Option func(*Destination)

// WithBatchSize sets how many rows are buffered between writes.
func WithBatchSize(n int) Option {
	return func(d *Destination) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// NewDestination creates a Parquet destination writing to path.
func NewDestination(path string, opts ...Option) *Destination {
	d := &Destination{path: path, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open creates the output file and Parquet writer. Only the scores layer has
// a Parquet row shape; other layers are rejected.
func (d *Destination) Open(ctx context.Context, layer models.Layer, columns []models.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if layer != models.LayerScoresZScore {
		return errors.Newf(errors.ErrorTypeConfig, "parquet destination supports only layer %q, got %q",
			models.LayerScoresZScore, layer)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create output directory")
	}

	file, err := os.Create(d.path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create parquet file")
	}
	d.file = file
	d.writer = parquet.NewGenericWriter[ScoreRecord](file)
	d.batch = make([]ScoreRecord, 0, d.batchSize)
	return nil
}

// Write appends one score row, flushing the batch when it fills.
func (d *Destination) Write(ctx context.Context, row *models.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.writer == nil {
		return errors.New(errors.ErrorTypeInternal, "parquet destination not open")
	}
	d.batch = append(d.batch, ScoreRecord{
		BucketTs: row.Time("bucket_ts"),
		Partner:  row.String("partner"),
		Service:  row.String("service"),
		Region:   row.String("region"),
		Pop:      row.String("pop"),
		Metric:   row.String("metric"),
		Observed: row.Float("observed"),
		Mean:     row.Float("mean"),
		Stddev:   row.Float("stddev"),
		ZScore:   row.Float("zscore"),
		Anomaly:  row.Data["anomaly"] == true,
	})
	if len(d.batch) >= d.batchSize {
		return d.flush()
	}
	return nil
}

func (d *Destination) flush() error {
	if len(d.batch) == 0 {
		return nil
	}
	n, err := d.writer.Write(d.batch)
	d.written += int64(n)
	d.batch = d.batch[:0]
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write parquet records")
	}
	return nil
}

// RowsWritten reports rows accepted so far, flushed or buffered.
func (d *Destination) RowsWritten() int64 { return d.written + int64(len(d.batch)) }

// Close flushes the remaining batch and finalizes the file.
func (d *Destination) Close() error {
	if d.writer == nil {
		return nil
	}
	flushErr := d.flush()
	writer, file := d.writer, d.file
	d.writer = nil
	d.file = nil

	if flushErr != nil {
		_ = writer.Close()
		_ = file.Close()
		return flushErr
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return errors.Wrap(err, errors.ErrorTypeData, "failed to close parquet writer")
	}
	return file.Close()
}
