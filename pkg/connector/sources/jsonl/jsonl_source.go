// Package jsonl provides a line-delimited JSON source for raw telemetry.
package jsonl

import (
	"bufio"
	"context"
	"os"

	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/connector/registry"
	"github.com/ajitpratap0/strata/pkg/errors"
	jsonpool "github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/models"
)

func init() {
	_ = registry.RegisterSource("jsonl", func(path string) (core.Source, error) {
		return NewSource(path), nil
	})
}

// maxLineSize bounds a single JSON line at 16MB.
const maxLineSize = 16 * 1024 * 1024

// Source reads rows from a JSONL (NDJSON) file, one object per line.
// Timestamp columns arrive as strings on the wire and are parsed here;
// numeric types are left as decoded and coerced during validation.
type Source struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	columns map[string]models.ColumnSpec
}

// NewSource creates a JSONL source for path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Open opens the file for scanning.
func (s *Source) Open(ctx context.Context, columns []models.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Open(s.path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to open JSONL file")
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	s.file = file
	s.scanner = scanner
	s.columns = make(map[string]models.ColumnSpec, len(columns))
	for _, col := range columns {
		s.columns[col.Name] = col
	}
	return nil
}

// Stream reads one object per line until EOF or ctx cancellation. Blank
// lines are skipped; lines that fail to decode surface on the error channel.
func (s *Source) Stream(ctx context.Context) (<-chan core.Record, <-chan error) {
	records := make(chan core.Record, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errc)

		line := 0
		for s.scanner.Scan() {
			line++
			if err := ctx.Err(); err != nil {
				return
			}

			raw := s.scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var data map[string]any
			if err := jsonpool.Unmarshal(raw, &data); err != nil {
				select {
				case errc <- errors.Wrapf(err, errors.ErrorTypeData, "malformed JSONL line %d", line):
				case <-ctx.Done():
					return
				}
				continue
			}

			for name, value := range data {
				col, ok := s.columns[name]
				if !ok || col.Type != models.TypeTimestamp {
					continue
				}
				if str, ok := value.(string); ok {
					if ts, err := models.ParseTimestamp(str); err == nil {
						data[name] = ts
					}
				}
			}

			select {
			case records <- core.Record{Data: data, Line: line}:
			case <-ctx.Done():
				return
			}
		}
		if err := s.scanner.Err(); err != nil {
			select {
			case errc <- errors.Wrap(err, errors.ErrorTypeData, "failed to scan JSONL file"):
			case <-ctx.Done():
			}
		}
	}()

	return records, errc
}

// Close closes the underlying file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
