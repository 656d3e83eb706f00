// Package csv provides a CSV file source for raw telemetry.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/connector/registry"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/models"
)

func init() {
	_ = registry.RegisterSource("csv", func(path string) (core.Source, error) {
		return NewSource(path), nil
	})
}

// Source reads rows from a headered CSV file. Values are parsed according
// to the column specs given to Open; a value that does not parse is kept as
// its raw string so validation can report the mismatch.
type Source struct {
	path    string
	file    *os.File
	reader  *csv.Reader
	columns map[string]models.ColumnSpec
	header  []string
}

// NewSource creates a CSV source for path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Open opens the file and reads the header row.
func (s *Source) Open(ctx context.Context, columns []models.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Open(s.path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to open CSV file")
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		_ = file.Close()
		return errors.Wrap(err, errors.ErrorTypeData, "failed to read CSV header")
	}

	s.file = file
	s.reader = reader
	s.header = append([]string(nil), header...)
	s.columns = make(map[string]models.ColumnSpec, len(columns))
	for _, col := range columns {
		s.columns[col.Name] = col
	}
	return nil
}

// Stream reads records until EOF or ctx cancellation.
func (s *Source) Stream(ctx context.Context) (<-chan core.Record, <-chan error) {
	records := make(chan core.Record, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errc)

		line := 1 // header
		for {
			if err := ctx.Err(); err != nil {
				return
			}

			raw, err := s.reader.Read()
			if err == io.EOF {
				return
			}
			line++
			if err != nil {
				select {
				case errc <- errors.Wrapf(err, errors.ErrorTypeData, "malformed CSV record at line %d", line):
				case <-ctx.Done():
					return
				}
				continue
			}

			data := make(map[string]any, len(raw))
			for i, value := range raw {
				if i >= len(s.header) {
					break
				}
				name := s.header[i]
				if value == "" {
					continue
				}
				data[name] = s.parseValue(name, value)
			}

			select {
			case records <- core.Record{Data: data, Line: line}:
			case <-ctx.Done():
				return
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

func (s *Source) parseValue(name, value string) any {
	col, ok := s.columns[name]
	if !ok {
		return value
	}
	switch col.Type {
	case models.TypeInt:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case models.TypeFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case models.TypeBool:
		if b, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return b
		}
	case models.TypeTimestamp:
		if ts, err := models.ParseTimestamp(value); err == nil {
			return ts
		}
	}
	return value
}
