// Package csv provides a CSV file destination for layer output.
package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/connector/registry"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/models"
)

func init() {
	_ = registry.RegisterDestination("csv", func(path string) (core.Destination, error) {
		return NewDestination(path), nil
	})
}

// Destination writes layer rows to a headered CSV file. Columns are emitted
// in contract order; absent optional columns render as empty fields.
type Destination struct {
	path       string
	compressor compression.Compressor

	file        *os.File
	buffered    *bufio.Writer
	compWriter  io.WriteCloser
	writer      *csv.Writer
	columns     []models.ColumnSpec
	rowsWritten int64
}

// Option configures a Destination.
type Option func(*Destination)

// WithCompression wraps the output with c. The compressor's extension is
// appended to the file path.
func WithCompression(c compression.Compressor) Option {
	return func(d *Destination) { d.compressor = c }
}

// NewDestination creates a CSV destination writing to path.
func NewDestination(path string, opts ...Option) *Destination {
	d := &Destination{path: path}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open creates the output file and writes the header row.
func (d *Destination) Open(ctx context.Context, layer models.Layer, columns []models.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := d.path
	if d.compressor != nil {
		path += d.compressor.Extension()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create output directory")
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create CSV file")
	}

	d.file = file
	d.buffered = bufio.NewWriterSize(file, 64*1024)

	var sink io.Writer = d.buffered
	if d.compressor != nil {
		cw, err := d.compressor.NewWriter(d.buffered)
		if err != nil {
			_ = file.Close()
			return errors.Wrap(err, errors.ErrorTypeData, "failed to initialize compression")
		}
		d.compWriter = cw
		sink = cw
	}

	d.writer = csv.NewWriter(sink)
	d.columns = columns

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Name
	}
	if err := d.writer.Write(header); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write CSV header")
	}
	return nil
}

// Write appends one row in contract column order.
func (d *Destination) Write(ctx context.Context, row *models.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := make([]string, len(d.columns))
	for i, col := range d.columns {
		value, ok := row.Data[col.Name]
		if !ok {
			continue
		}
		record[i] = formatValue(value)
	}
	if err := d.writer.Write(record); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write CSV record")
	}
	d.rowsWritten++
	return nil
}

// RowsWritten reports rows written so far, excluding the header.
func (d *Destination) RowsWritten() int64 { return d.rowsWritten }

// Close flushes the writer chain and closes the file.
func (d *Destination) Close() error {
	if d.file == nil {
		return nil
	}
	d.writer.Flush()
	err := d.writer.Error()
	if d.compWriter != nil {
		if cerr := d.compWriter.Close(); err == nil {
			err = cerr
		}
	}
	if ferr := d.buffered.Flush(); err == nil {
		err = ferr
	}
	if ferr := d.file.Close(); err == nil {
		err = ferr
	}
	d.file = nil
	return err
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return models.FormatTimestamp(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}
