package models

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RowState tracks a row through the pipeline lifecycle. Emitted and Rejected
// are terminal.
type RowState string

const (
	// RowIngested is the initial state of a row entering a layer boundary.
	RowIngested RowState = "ingested"
	// RowValidated means the row conforms to its layer's schema.
	RowValidated RowState = "validated"
	// RowTransformed means a downstream row has been produced from it.
	RowTransformed RowState = "transformed"
	// RowEmitted means the row reached its sinks.
	RowEmitted RowState = "emitted"
	// RowRejected means validation failed; the row left the pipeline.
	RowRejected RowState = "rejected"
)

// Terminal reports whether the state ends the row's lifecycle.
func (s RowState) Terminal() bool {
	return s == RowEmitted || s == RowRejected
}

// Row is a single record tagged with the layer and schema version it was
// produced under. Data maps column name to value.
type Row struct {
	ID            string         `json:"id"`
	Layer         Layer          `json:"layer"`
	SchemaVersion int            `json:"schema_version"`
	State         RowState       `json:"state"`
	Data          map[string]any `json:"data"`
}

// NewRow creates a row in the Ingested state with a fresh ULID.
func NewRow(layer Layer, data map[string]any) *Row {
	if data == nil {
		data = make(map[string]any)
	}
	return &Row{
		ID:    ulid.Make().String(),
		Layer: layer,
		State: RowIngested,
		Data:  data,
	}
}

// Has reports whether the column is present with a non-nil value.
func (r *Row) Has(column string) bool {
	v, ok := r.Data[column]
	return ok && v != nil
}

// String returns the column as a string. Missing or non-string values yield
// the zero value.
func (r *Row) String(column string) string {
	if s, ok := r.Data[column].(string); ok {
		return s
	}
	return ""
}

// Int returns the column as an int64, converting the integer and float
// representations that CSV and JSON decoding produce.
func (r *Row) Int(column string) int64 {
	switch v := r.Data[column].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	}
	return 0
}

// Float returns the column as a float64, converting integer representations.
func (r *Row) Float(column string) float64 {
	switch v := r.Data[column].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Time returns the column as a time.Time. String values are parsed with the
// contract's wire formats; the zero time is returned when absent or invalid.
func (r *Row) Time(column string) time.Time {
	switch v := r.Data[column].(type) {
	case time.Time:
		return v
	case string:
		if t, err := ParseTimestamp(v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// timestampFormats lists the wire formats the contract accepts, in order of
// preference: ISO 8601 (CSV emitter) and ClickHouse-style (JSONEachRow).
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

// FormatTimestamp renders t in the contract's primary wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// ParseTimestamp parses a contract timestamp string as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// BucketKey identifies a five-minute aggregation window. It is the join key
// between buckets_5m, features_5m and scores_zscore.
type BucketKey struct {
	Partner string
	Service string
	Region  string
	Pop     string
	Bucket  time.Time
}

// String implements fmt.Stringer for logging and map diagnostics.
func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s@%s",
		k.Partner, k.Service, k.Region, k.Pop, k.Bucket.UTC().Format(time.RFC3339))
}
