package schema

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/models"
	"github.com/ajitpratap0/strata/pkg/observability"
)

// ChangeType classifies a difference between two column lists.
type ChangeType string

const (
	ChangeTypeAddColumn      ChangeType = "ADD_COLUMN"
	ChangeTypeRemoveColumn   ChangeType = "REMOVE_COLUMN"
	ChangeTypeModifyType     ChangeType = "MODIFY_TYPE"
	ChangeTypeModifyRequired ChangeType = "MODIFY_REQUIRED"
)

// Change represents a single difference between two schema specs. A rename
// surfaces as a REMOVE_COLUMN plus an ADD_COLUMN; the remove is what gets
// rejected.
type Change struct {
	Type      ChangeType         `json:"type"`
	Column    string             `json:"column"`
	OldColumn *models.ColumnSpec `json:"old_column,omitempty"`
	NewColumn *models.ColumnSpec `json:"new_column,omitempty"`
}

// Diff is an evolution proposal payload: a set of column additions. The
// contract permits nothing else.
type Diff struct {
	Add []models.ColumnSpec `json:"add" yaml:"add"`
}

// Proposal records one evolution attempt for audit logging.
type Proposal struct {
	ID        string       `json:"id"`
	Layer     models.Layer `json:"layer"`
	Diff      Diff         `json:"diff"`
	CreatedAt time.Time    `json:"created_at"`
	Accepted  bool         `json:"accepted"`
	Version   int          `json:"version,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Evolver is the enforcement point for the additive-only rule. All schema
// changes flow through Propose; nothing reaches Registry.Register that would
// rename or remove an existing column.
type Evolver struct {
	registry *Registry
	logger   *zap.Logger

	mu      sync.Mutex
	history []Proposal
}

// NewEvolver creates an evolver bound to a registry.
func NewEvolver(registry *Registry, logger *zap.Logger) *Evolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evolver{registry: registry, logger: logger}
}

// Propose applies an additive diff to the layer's current schema. It fails
// with invalid_evolution when an addition collides with an existing column
// (which is what a rename or type change attempt looks like from a diff of
// additions). On success the new version is registered and returned.
func (e *Evolver) Propose(ctx context.Context, layer models.Layer, diff Diff) (*Version, error) {
	proposal := Proposal{
		ID:        ulid.Make().String(),
		Layer:     layer,
		Diff:      diff,
		CreatedAt: time.Now().UTC(),
	}

	version, err := e.propose(ctx, layer, diff)
	if err != nil {
		proposal.Reason = err.Error()
		e.record(proposal)
		e.logger.Warn("evolution proposal rejected",
			zap.String("proposal_id", proposal.ID),
			zap.String("layer", layer.String()),
			zap.Error(err))
		return nil, err
	}

	proposal.Accepted = true
	proposal.Version = version.Version
	e.record(proposal)
	e.logger.Info("evolution proposal accepted",
		zap.String("proposal_id", proposal.ID),
		zap.String("layer", layer.String()),
		zap.Int("version", version.Version),
		zap.Int("added_columns", len(diff.Add)))
	return version, nil
}

func (e *Evolver) propose(ctx context.Context, layer models.Layer, diff Diff) (*Version, error) {
	if len(diff.Add) == 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidEvolution, "layer %s: empty diff", layer)
	}

	current, err := e.registry.Current(layer)
	if err != nil {
		return nil, err
	}

	for _, added := range diff.Add {
		if _, exists := current.Column(added.Name); exists {
			return nil, errors.NewInvalidEvolution(layer, added.Name,
				"column already exists; the contract never modifies existing columns")
		}
	}

	columns := make([]models.ColumnSpec, 0, len(current.Columns)+len(diff.Add))
	columns = append(columns, current.Columns...)
	columns = append(columns, diff.Add...)

	return e.registry.Register(ctx, layer, columns)
}

// ProposeSpec applies a full replacement spec, diffing it against the current
// version first. Any removal, rename or type change fails with
// invalid_evolution and leaves the registry untouched. This is the path for
// contract files edited by hand.
func (e *Evolver) ProposeSpec(ctx context.Context, layer models.Layer, columns []models.ColumnSpec) (*Version, error) {
	current, err := e.registry.Current(layer)
	if err != nil {
		return nil, err
	}

	changes := DetectChanges(current.Columns, columns)
	if len(changes) == 0 {
		return current, nil
	}

	proposal := Proposal{
		ID:        ulid.Make().String(),
		Layer:     layer,
		CreatedAt: time.Now().UTC(),
	}

	additions := make([]models.ColumnSpec, 0, len(changes))
	var invalid *errors.Error
	for _, change := range changes {
		switch change.Type {
		case ChangeTypeAddColumn:
			additions = append(additions, *change.NewColumn)
		case ChangeTypeRemoveColumn:
			invalid = errors.NewInvalidEvolution(layer, change.Column, "column removed or renamed")
		case ChangeTypeModifyType:
			invalid = errors.NewInvalidEvolution(layer, change.Column,
				"declared type changed from "+string(change.OldColumn.Type)+" to "+string(change.NewColumn.Type))
		case ChangeTypeModifyRequired:
			if change.NewColumn.Required {
				invalid = errors.NewInvalidEvolution(layer, change.Column, "optional column cannot become required")
			}
			// Required relaxing to optional is additive-safe; Register accepts it.
		}
		if invalid != nil {
			proposal.Reason = invalid.Error()
			e.record(proposal)
			e.logger.Warn("evolution proposal rejected",
				zap.String("proposal_id", proposal.ID),
				zap.String("layer", layer.String()),
				zap.Error(invalid))
			return nil, invalid
		}
	}
	proposal.Diff = Diff{Add: additions}

	// Register the full spec rather than current+additions so required
	// columns relaxing to optional survive the round trip.
	version, err := e.registry.Register(ctx, layer, columns)
	if err != nil {
		proposal.Reason = err.Error()
		e.record(proposal)
		return nil, err
	}
	proposal.Accepted = true
	proposal.Version = version.Version
	e.record(proposal)
	e.logger.Info("evolution proposal accepted",
		zap.String("proposal_id", proposal.ID),
		zap.String("layer", layer.String()),
		zap.Int("version", version.Version),
		zap.Int("added_columns", len(additions)))
	return version, nil
}

// History returns the recorded proposals, oldest first.
func (e *Evolver) History() []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Proposal, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Evolver) record(p Proposal) {
	result := "rejected"
	if p.Accepted {
		result = "accepted"
	}
	observability.EvolutionProposals.WithLabelValues(p.Layer.String(), result).Inc()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, p)
}

// DetectChanges diffs two column lists. Changes are sorted by type then
// column name for deterministic reporting.
func DetectChanges(old, new []models.ColumnSpec) []Change {
	oldCols := make(map[string]*models.ColumnSpec, len(old))
	for i := range old {
		oldCols[old[i].Name] = &old[i]
	}
	newCols := make(map[string]*models.ColumnSpec, len(new))
	for i := range new {
		newCols[new[i].Name] = &new[i]
	}

	var changes []Change

	for name, oldCol := range oldCols {
		if _, exists := newCols[name]; !exists {
			changes = append(changes, Change{
				Type:      ChangeTypeRemoveColumn,
				Column:    name,
				OldColumn: oldCol,
			})
		}
	}

	for name, newCol := range newCols {
		oldCol, exists := oldCols[name]
		if !exists {
			changes = append(changes, Change{
				Type:      ChangeTypeAddColumn,
				Column:    name,
				NewColumn: newCol,
			})
			continue
		}
		if oldCol.Type != newCol.Type {
			changes = append(changes, Change{
				Type:      ChangeTypeModifyType,
				Column:    name,
				OldColumn: oldCol,
				NewColumn: newCol,
			})
		}
		if oldCol.Required != newCol.Required {
			changes = append(changes, Change{
				Type:      ChangeTypeModifyRequired,
				Column:    name,
				OldColumn: oldCol,
				NewColumn: newCol,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Type != changes[j].Type {
			return changes[i].Type < changes[j].Type
		}
		return changes[i].Column < changes[j].Column
	})

	return changes
}
