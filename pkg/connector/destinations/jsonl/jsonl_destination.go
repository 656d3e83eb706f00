// Package jsonl provides a line-delimited JSON destination for layer output.
package jsonl

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/connector/registry"
	"github.com/ajitpratap0/strata/pkg/errors"
	jsonpool "github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/models"
)

func init() {
	_ = registry.RegisterDestination("jsonl", func(path string) (core.Destination, error) {
		return NewDestination(path), nil
	})
}

// Destination writes layer rows as one JSON object per line. Only contract
// columns are emitted; absent optional columns are omitted from the object
// rather than written as null.
type Destination struct {
	path       string
	compressor compression.Compressor

	file        *os.File
	buffered    *bufio.Writer
	compWriter  io.WriteCloser
	sink        io.Writer
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

// NewDestination creates a JSONL destination writing to path.
func NewDestination(path string, opts ...Option) *Destination {
	d := &Destination{path: path}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open creates the output file.
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
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create JSONL file")
	}

	d.file = file
	d.buffered = bufio.NewWriterSize(file, 64*1024)
	d.sink = d.buffered
	if d.compressor != nil {
		cw, err := d.compressor.NewWriter(d.buffered)
		if err != nil {
			_ = file.Close()
			return errors.Wrap(err, errors.ErrorTypeData, "failed to initialize compression")
		}
		d.compWriter = cw
		d.sink = cw
	}
	d.columns = columns
	return nil
}

// Write appends one row as a JSON line.
func (d *Destination) Write(ctx context.Context, row *models.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj := make(map[string]any, len(d.columns))
	for _, col := range d.columns {
		value, ok := row.Data[col.Name]
		if !ok {
			continue
		}
		if ts, ok := value.(time.Time); ok {
			value = models.FormatTimestamp(ts)
		}
		obj[col.Name] = value
	}

	line, err := jsonpool.MarshalLine(obj)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to marshal JSONL record")
	}
	if _, err := d.sink.Write(line); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write JSONL record")
	}
	d.rowsWritten++
	return nil
}

// RowsWritten reports rows written so far.
func (d *Destination) RowsWritten() int64 { return d.rowsWritten }

// Close flushes the writer chain and closes the file.
func (d *Destination) Close() error {
	if d.file == nil {
		return nil
	}
	var err error
	if d.compWriter != nil {
		err = d.compWriter.Close()
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
