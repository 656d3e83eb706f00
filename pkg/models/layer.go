// Package models provides the data model for the Strata contract: the four
// telemetry layers, column specifications, and the rows that flow between
// layers.
package models

// Layer identifies one stage in the telemetry-to-ML data flow. Layers are
// ordered; every row is tagged with the layer it was produced under.
type Layer string

const (
	// LayerRawMinute holds per-minute events as emitted by the telemetry
	// generator, one row per minute per slice.
	LayerRawMinute Layer = "raw_minute"

	// LayerBuckets5m holds five-minute aggregates keyed by
	// partner/service/region/pop.
	LayerBuckets5m Layer = "buckets_5m"

	// LayerFeatures5m holds derived feature columns computed from buckets.
	LayerFeatures5m Layer = "features_5m"

	// LayerScoresZScore holds z-score anomaly outputs, one row per bucket
	// key per scored metric.
	LayerScoresZScore Layer = "scores_zscore"
)

// Layers returns all layers in pipeline order.
func Layers() []Layer {
	return []Layer{LayerRawMinute, LayerBuckets5m, LayerFeatures5m, LayerScoresZScore}
}

// Valid reports whether l is one of the four contract layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerRawMinute, LayerBuckets5m, LayerFeatures5m, LayerScoresZScore:
		return true
	}
	return false
}

// Next returns the downstream layer, or false for the terminal layer.
func (l Layer) Next() (Layer, bool) {
	switch l {
	case LayerRawMinute:
		return LayerBuckets5m, true
	case LayerBuckets5m:
		return LayerFeatures5m, true
	case LayerFeatures5m:
		return LayerScoresZScore, true
	}
	return "", false
}

// String implements fmt.Stringer.
func (l Layer) String() string { return string(l) }

// ColumnType is the semantic type of a contract column. A column's type never
// changes once declared.
type ColumnType string

const (
	// TypeTimestamp is a UTC timestamp (time.Time in memory, ISO 8601 or
	// "2006-01-02 15:04:05" on the wire).
	TypeTimestamp ColumnType = "timestamp"
	// TypeString is a string, typically a closed enum (service, region, ...).
	TypeString ColumnType = "string"
	// TypeInt is an integer count (requests, status buckets, crc_errors).
	TypeInt ColumnType = "int"
	// TypeFloat is a float ratio, latency or score.
	TypeFloat ColumnType = "float"
	// TypeBool is a boolean flag (anomaly).
	TypeBool ColumnType = "bool"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeTimestamp, TypeString, TypeInt, TypeFloat, TypeBool:
		return true
	}
	return false
}

// ColumnSpec describes a single column of a layer schema. Names are unique
// within a layer.
type ColumnSpec struct {
	// Name is the column identifier; frozen once registered.
	Name string `json:"name" yaml:"name"`

	// Type is the semantic type; frozen once registered.
	Type ColumnType `json:"type" yaml:"type"`

	// Description provides human-readable column information.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Required indicates the column must be present on every row. Required
	// may relax to optional in a later version; the reverse is a violation.
	Required bool `json:"required" yaml:"required"`
}
