package schema

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/errors"
	jsonpool "github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/models"
	"github.com/ajitpratap0/strata/pkg/observability"
)

// Version is one entry in a layer's append-only schema chain. Versions are
// immutable once registered; they are superseded, never mutated or deleted.
type Version struct {
	Version     int                 `json:"version"`
	Layer       models.Layer        `json:"layer"`
	Columns     []models.ColumnSpec `json:"columns"`
	CreatedAt   time.Time           `json:"created_at"`
	Fingerprint string              `json:"fingerprint"`
}

// Column returns the spec for the named column.
func (v *Version) Column(name string) (*models.ColumnSpec, bool) {
	for i := range v.Columns {
		if v.Columns[i].Name == name {
			return &v.Columns[i], true
		}
	}
	return nil, false
}

// RequiredColumns returns the names of the version's required columns in
// declaration order.
func (v *Version) RequiredColumns() []string {
	names := make([]string, 0, len(v.Columns))
	for _, col := range v.Columns {
		if col.Required {
			names = append(names, col.Name)
		}
	}
	return names
}

// Registry holds the per-layer schema version history. Reads proceed
// concurrently; writes are serialized so version numbers stay monotonic and
// the chain stays append-only.
type Registry struct {
	mu       sync.RWMutex
	versions map[models.Layer][]*Version
	latest   map[models.Layer]int
	logger   *zap.Logger

	// Hooks for schema changes
	onChange []func(layer models.Layer, old, new *Version)
}

// NewRegistry creates an empty schema registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		versions: make(map[models.Layer][]*Version),
		latest:   make(map[models.Layer]int),
		logger:   logger,
	}
}

// Register appends a new schema version for the layer. It fails with a
// schema_violation error when the spec omits a required column of the current
// version or changes any column's declared type. Registering a spec identical
// to an existing version returns that version unchanged.
func (r *Registry) Register(ctx context.Context, layer models.Layer, columns []models.ColumnSpec) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !layer.Valid() {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown layer %q", layer)
	}
	if err := checkColumns(layer, columns); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fingerprint := fingerprintColumns(columns)
	for _, existing := range r.versions[layer] {
		if existing.Fingerprint == fingerprint {
			r.logger.Info("schema already registered",
				zap.String("layer", layer.String()),
				zap.Int("version", existing.Version))
			return existing, nil
		}
	}

	var previous *Version
	if chain := r.versions[layer]; len(chain) > 0 {
		previous = chain[len(chain)-1]
		if err := checkAdditive(layer, previous, columns); err != nil {
			return nil, err
		}
	}

	version := &Version{
		Version:     len(r.versions[layer]) + 1,
		Layer:       layer,
		Columns:     append([]models.ColumnSpec(nil), columns...),
		CreatedAt:   time.Now().UTC(),
		Fingerprint: fingerprint,
	}

	r.versions[layer] = append(r.versions[layer], version)
	r.latest[layer] = version.Version
	observability.SchemaVersions.WithLabelValues(layer.String()).Set(float64(version.Version))

	for _, hook := range r.onChange {
		go hook(layer, previous, version)
	}

	r.logger.Info("schema registered",
		zap.String("layer", layer.String()),
		zap.Int("version", version.Version),
		zap.Int("columns", len(version.Columns)),
		zap.String("fingerprint", version.Fingerprint))

	return version, nil
}

// Current returns the latest schema version for the layer.
func (r *Registry) Current(layer models.Layer) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest, ok := r.latest[layer]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %q has no registered schema", layer)
	}
	return r.versions[layer][latest-1], nil
}

// At returns a historical schema version for backward-compatible reads.
func (r *Registry) At(layer models.Layer, version int) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.versions[layer]
	if !ok || len(chain) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %q has no registered schema", layer)
	}
	if version <= 0 || version > len(chain) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %q has no version %d", layer, version)
	}
	return chain[version-1], nil
}

// History returns all versions of a layer, oldest first.
func (r *Registry) History(layer models.Layer) ([]*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.versions[layer]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "layer %q has no registered schema", layer)
	}

	// Copy to prevent external modification of the chain slice
	history := make([]*Version, len(chain))
	copy(history, chain)
	return history, nil
}

// OnChange registers a callback invoked after a new version is appended.
func (r *Registry) OnChange(callback func(layer models.Layer, old, new *Version)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, callback)
}

// registryState is the serialized registry form: each layer's version history
// as an ordered list of (name, type, required) triples, additive-only across
// versions.
type registryState struct {
	Versions map[models.Layer][]*Version `json:"versions"`
	Latest   map[models.Layer]int        `json:"latest"`
}

// Export serializes the registry state to JSON.
func (r *Registry) Export() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return jsonpool.MarshalIndent(registryState{
		Versions: r.versions,
		Latest:   r.latest,
	}, "", "  ")
}

// Import replaces the registry state from a previous Export. Imported chains
// are re-checked against the additive invariant and their version numbering
// so a hand-edited snapshot cannot smuggle in a regression or a latest
// pointer past the end of a chain. Latest pointers are recomputed from the
// chains on load.
func (r *Registry) Import(data []byte) error {
	var state registryState
	if err := jsonpool.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to unmarshal registry state")
	}

	for layer, chain := range state.Versions {
		if !layer.Valid() {
			return errors.Newf(errors.ErrorTypeData, "snapshot contains unknown layer %q", layer)
		}
		for i, version := range chain {
			if version == nil {
				return errors.Newf(errors.ErrorTypeData, "layer %s: snapshot version %d is null", layer, i+1)
			}
			if version.Version != i+1 {
				return errors.Newf(errors.ErrorTypeData,
					"layer %s: snapshot chain position %d carries version %d", layer, i+1, version.Version)
			}
			if err := checkColumns(layer, version.Columns); err != nil {
				return err
			}
			if i > 0 {
				if err := checkAdditive(layer, chain[i-1], version.Columns); err != nil {
					return err
				}
			}
		}
	}
	for layer, latest := range state.Latest {
		if chain := state.Versions[layer]; latest != len(chain) {
			return errors.Newf(errors.ErrorTypeData,
				"layer %s: snapshot latest %d does not match chain length %d", layer, latest, len(chain))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions = make(map[models.Layer][]*Version, len(state.Versions))
	r.latest = make(map[models.Layer]int, len(state.Versions))
	for layer, chain := range state.Versions {
		r.versions[layer] = chain
		r.latest[layer] = len(chain)
		observability.SchemaVersions.WithLabelValues(layer.String()).Set(float64(len(chain)))
	}
	return nil
}

// checkColumns validates a proposed spec in isolation: non-empty unique names
// and known types.
func checkColumns(layer models.Layer, columns []models.ColumnSpec) error {
	if len(columns) == 0 {
		return errors.Newf(errors.ErrorTypeSchemaViolation, "layer %s: empty column list", layer)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if col.Name == "" {
			return errors.NewSchemaViolation(layer, col.Name, "column name is empty")
		}
		if !col.Type.Valid() {
			return errors.NewSchemaViolation(layer, col.Name, "unknown column type "+string(col.Type))
		}
		if _, dup := seen[col.Name]; dup {
			return errors.NewSchemaViolation(layer, col.Name, "duplicate column name")
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

// checkAdditive enforces the contract invariant between consecutive versions:
// every required column of the previous version remains present (required or
// optional), no column's type changes, and no optional column turns required.
func checkAdditive(layer models.Layer, previous *Version, columns []models.ColumnSpec) error {
	next := make(map[string]models.ColumnSpec, len(columns))
	for _, col := range columns {
		next[col.Name] = col
	}

	for _, old := range previous.Columns {
		updated, present := next[old.Name]
		if !present {
			if old.Required {
				return errors.NewSchemaViolation(layer, old.Name, "required column omitted by new version")
			}
			return errors.NewSchemaViolation(layer, old.Name, "column removed by new version")
		}
		if updated.Type != old.Type {
			return errors.NewSchemaViolation(layer, old.Name,
				"declared type changed from "+string(old.Type)+" to "+string(updated.Type))
		}
		if !old.Required && updated.Required {
			return errors.NewSchemaViolation(layer, old.Name, "optional column cannot become required")
		}
	}
	return nil
}

// fingerprintColumns hashes the ordered (name, type, required) triples.
func fingerprintColumns(columns []models.ColumnSpec) string {
	h := fnv.New64a()
	for _, col := range columns {
		_, _ = h.Write([]byte(col.Name))
		_, _ = h.Write([]byte{':'})
		_, _ = h.Write([]byte(col.Type))
		_, _ = h.Write([]byte{':'})
		if col.Required {
			_, _ = h.Write([]byte{'r'})
		} else {
			_, _ = h.Write([]byte{'o'})
		}
		_, _ = h.Write([]byte{';'})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
