// Package pipeline orchestrates the four-layer telemetry flow: raw rows are
// validated in parallel, folded into five-minute buckets, derived into
// features and scored, with schema validation at every layer boundary.
//
// A row that fails validation is rejected and reported; it never aborts the
// run. Aggregation state (bucketer, scorer) is confined to single goroutines
// while row validation fans out across workers.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/models"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/schema"
)

// Rejection records one row that failed validation at a layer boundary.
type Rejection struct {
	// Layer is the boundary the row failed at.
	Layer models.Layer `json:"layer"`
	// RowID is the row's ULID; empty for input that never became a row.
	RowID string `json:"row_id,omitempty"`
	// Line is the input position for raw rejections; 0 for derived layers.
	Line int `json:"line,omitempty"`
	// Err is the validation or read error.
	Err error `json:"-"`
	// Reason is Err's message, for serialized run reports.
	Reason string `json:"reason"`
}

// Summary reports the outcome of one run.
type Summary struct {
	// Ingested is the number of raw records read.
	Ingested int64 `json:"ingested"`
	// Emitted counts rows written per layer.
	Emitted map[models.Layer]int64 `json:"emitted"`
	// Rejections lists every rejected row across all layers.
	Rejections []Rejection `json:"rejections"`
	// Anomalies is the number of score rows flagged anomalous.
	Anomalies int64 `json:"anomalies"`
	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`
}

// Pipeline runs the layer flow from one raw source into per-layer sinks.
type Pipeline struct {
	cfg       *config.Config
	registry  *schema.Registry
	validator *schema.Validator
	logger    *zap.Logger
	source    core.Source
	sinks     map[models.Layer][]core.Destination

	mu      sync.Mutex
	summary *Summary
}

// New creates a pipeline. sinks maps each layer to zero or more destinations;
// a layer without sinks is still computed and validated, just not written.
func New(cfg *config.Config, registry *schema.Registry, logger *zap.Logger,
	source core.Source, sinks map[models.Layer][]core.Destination) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		registry:  registry,
		validator: schema.NewValidator(registry),
		logger:    logger,
		source:    source,
		sinks:     sinks,
	}
}

// Run executes the flow to completion. Row-level failures are collected in
// the summary; the returned error covers infrastructure failures only.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	defer span.End()

	start := time.Now()
	p.summary = &Summary{Emitted: make(map[models.Layer]int64)}

	versions, err := p.resolveVersions()
	if err != nil {
		return nil, err
	}

	if err := p.source.Open(ctx, versions[models.LayerRawMinute].Columns); err != nil {
		return nil, err
	}
	defer func() { _ = p.source.Close() }()

	for layer, dests := range p.sinks {
		for _, dest := range dests {
			if err := dest.Open(ctx, layer, versions[layer].Columns); err != nil {
				return nil, err
			}
		}
	}

	bucketer := NewBucketer()
	if err := p.runRawStage(ctx, versions[models.LayerRawMinute], bucketer); err != nil {
		return nil, err
	}
	if err := p.runDerivedStages(ctx, versions, bucketer); err != nil {
		return nil, err
	}

	for layer, dests := range p.sinks {
		for _, dest := range dests {
			if err := dest.Close(); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData,
					"failed to close sink for layer "+string(layer))
			}
		}
	}

	p.summary.Duration = time.Since(start)
	p.logger.Info("pipeline run complete",
		zap.Int64("ingested", p.summary.Ingested),
		zap.Int("rejections", len(p.summary.Rejections)),
		zap.Int64("anomalies", p.summary.Anomalies),
		zap.Duration("duration", p.summary.Duration))
	return p.summary, nil
}

// resolveVersions pins each layer to the schema version rows will be
// validated against. The raw layer honors the configured pin.
func (p *Pipeline) resolveVersions() (map[models.Layer]*schema.Version, error) {
	versions := make(map[models.Layer]*schema.Version, len(models.Layers()))
	for _, layer := range models.Layers() {
		var (
			v   *schema.Version
			err error
		)
		if layer == models.LayerRawMinute && p.cfg.Ingest.SchemaVersion > 0 {
			v, err = p.registry.At(layer, p.cfg.Ingest.SchemaVersion)
		} else {
			v, err = p.registry.Current(layer)
		}
		if err != nil {
			return nil, err
		}
		versions[layer] = v
	}
	return versions, nil
}

// runRawStage validates raw records across workers and feeds survivors to
// the raw sinks and the bucketer.
func (p *Pipeline) runRawStage(ctx context.Context, version *schema.Version, bucketer *Bucketer) error {
	ctx, span := observability.StartSpan(ctx, "pipeline.raw_stage")
	defer span.End()

	stageStart := time.Now()
	records, readErrs := p.source.Stream(ctx)
	validated := make(chan *models.Row, p.cfg.Performance.BufferSize)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for err := range readErrs {
			p.logger.Warn("raw record unreadable", zap.Error(err))
			p.addRejection(Rejection{Layer: models.LayerRawMinute, Err: err, Reason: err.Error()})
		}
		return nil
	})

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Performance.GetWorkers(); i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for record := range records {
				p.mu.Lock()
				p.summary.Ingested++
				p.mu.Unlock()

				row := models.NewRow(models.LayerRawMinute, record.Data)
				row.SchemaVersion = version.Version

				if err := p.validator.Validate(row, models.LayerRawMinute, version.Version); err != nil {
					p.rejectRow(row, record.Line, err)
					continue
				}
				row.State = models.RowValidated
				observability.RowsValidated.WithLabelValues(string(models.LayerRawMinute), "valid").Inc()

				select {
				case validated <- row:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(validated)
		return nil
	})

	// Single consumer: sinks are not safe for concurrent writers and the
	// bucketer is goroutine-confined.
	g.Go(func() error {
		for row := range validated {
			bucketer.Add(row)
			row.State = models.RowTransformed
			if err := p.emit(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	observability.TransitionDuration.
		WithLabelValues("ingest", string(models.LayerRawMinute)).
		Observe(time.Since(stageStart).Seconds())
	return nil
}

// runDerivedStages folds buckets, features and scores, validating each
// derived row against its layer before it is emitted or used downstream.
func (p *Pipeline) runDerivedStages(ctx context.Context, versions map[models.Layer]*schema.Version, bucketer *Bucketer) error {
	ctx, span := observability.StartSpan(ctx, "pipeline.derived_stages")
	defer span.End()

	stageStart := time.Now()
	scorer := NewScorer(p.cfg.Scoring.Window, p.cfg.Scoring.MinSamples, p.cfg.Scoring.Threshold)

	for _, bucket := range bucketer.Flush() {
		if !p.validateDerived(bucket, versions[models.LayerBuckets5m]) {
			continue
		}

		feature := DeriveFeatures(bucket)
		bucket.State = models.RowTransformed
		if err := p.emit(ctx, bucket); err != nil {
			return err
		}

		if !p.validateDerived(feature, versions[models.LayerFeatures5m]) {
			continue
		}

		scores := scorer.Score(feature)
		feature.State = models.RowTransformed
		if err := p.emit(ctx, feature); err != nil {
			return err
		}

		for _, score := range scores {
			if !p.validateDerived(score, versions[models.LayerScoresZScore]) {
				continue
			}
			if score.Data["anomaly"] == true {
				p.summary.Anomalies++
			}
			if err := p.emit(ctx, score); err != nil {
				return err
			}
		}
	}

	observability.TransitionDuration.
		WithLabelValues(string(models.LayerRawMinute), string(models.LayerScoresZScore)).
		Observe(time.Since(stageStart).Seconds())
	return nil
}

// validateDerived validates a derived row, recording a rejection on failure.
func (p *Pipeline) validateDerived(row *models.Row, version *schema.Version) bool {
	row.SchemaVersion = version.Version
	if err := p.validator.Validate(row, row.Layer, version.Version); err != nil {
		p.rejectRow(row, 0, err)
		return false
	}
	row.State = models.RowValidated
	observability.RowsValidated.WithLabelValues(string(row.Layer), "valid").Inc()
	return true
}

// emit writes one row to every sink configured for its layer.
func (p *Pipeline) emit(ctx context.Context, row *models.Row) error {
	for _, dest := range p.sinks[row.Layer] {
		if err := dest.Write(ctx, row); err != nil {
			return err
		}
	}
	row.State = models.RowEmitted
	p.mu.Lock()
	p.summary.Emitted[row.Layer]++
	p.mu.Unlock()
	observability.RowsEmitted.WithLabelValues(string(row.Layer)).Inc()
	return nil
}

func (p *Pipeline) rejectRow(row *models.Row, line int, err error) {
	row.State = models.RowRejected
	kind := string(errors.ErrorTypeData)
	if e, ok := errors.As(err); ok {
		kind = string(e.Type)
	}
	observability.RowsValidated.WithLabelValues(string(row.Layer), "invalid").Inc()
	observability.RowsRejected.WithLabelValues(string(row.Layer), kind).Inc()
	p.logger.Warn("row rejected",
		zap.String("layer", string(row.Layer)),
		zap.String("row_id", row.ID),
		zap.Int("line", line),
		zap.Error(err))
	p.addRejection(Rejection{
		Layer:  row.Layer,
		RowID:  row.ID,
		Line:   line,
		Err:    err,
		Reason: err.Error(),
	})
}

func (p *Pipeline) addRejection(r Rejection) {
	p.mu.Lock()
	p.summary.Rejections = append(p.summary.Rejections, r)
	p.mu.Unlock()
}
