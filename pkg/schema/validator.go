package schema

import (
	"time"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/models"
)

// Validator checks rows against a layer's schema. It is side-effect-free: it
// never mutates the row or the registry, so rows may be validated in parallel.
type Validator struct {
	registry *Registry
}

// NewValidator creates a validator bound to a registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks every required column of the target schema version for
// presence and type conformance. Version 0 resolves to the current version.
// The returned error is a missing_column or type_mismatch error naming the
// first offending column in declaration order; all offenders are listed in
// the "columns" detail.
func (v *Validator) Validate(row *models.Row, layer models.Layer, version int) error {
	var (
		target *Version
		err    error
	)
	if version == 0 {
		target, err = v.registry.Current(layer)
	} else {
		target, err = v.registry.At(layer, version)
	}
	if err != nil {
		return err
	}

	var (
		first     *errors.Error
		offenders []string
	)
	for _, col := range target.Columns {
		value, present := row.Data[col.Name]
		if !present || value == nil {
			if !col.Required {
				continue
			}
			offenders = append(offenders, col.Name)
			if first == nil {
				first = errors.NewMissingColumn(layer, col.Name)
			}
			continue
		}
		if !conforms(value, col.Type) {
			offenders = append(offenders, col.Name)
			if first == nil {
				first = errors.NewTypeMismatch(layer, col.Name, col.Type, value)
			}
		}
	}

	if first != nil {
		return first.WithDetail("columns", offenders)
	}
	return nil
}

// conforms reports whether a decoded value is acceptable for the column type.
// Decoders are permissive about numeric width (CSV yields int64/float64, JSON
// yields float64), so conformance is semantic rather than exact-Go-type.
func conforms(value any, columnType models.ColumnType) bool {
	switch columnType {
	case models.TypeTimestamp:
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, err := models.ParseTimestamp(v)
			return err == nil
		}
		return false

	case models.TypeString:
		_, ok := value.(string)
		return ok

	case models.TypeInt:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			// JSON decodes every number to float64; accept integral values.
			return v == float64(int64(v))
		case float32:
			return v == float32(int64(v))
		}
		return false

	case models.TypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false

	case models.TypeBool:
		_, ok := value.(bool)
		return ok
	}
	return false
}
