package observability

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Pipeline and contract metrics. Registered once with the default Prometheus
// registry via promauto.
var (
	// RowsValidated counts validation outcomes per layer.
	RowsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Name:      "rows_validated_total",
			Help:      "Rows validated per layer and result",
		},
		[]string{"layer", "result"},
	)

	// RowsRejected counts rejections per layer and error kind.
	RowsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Name:      "rows_rejected_total",
			Help:      "Rows rejected per layer and error kind",
		},
		[]string{"layer", "kind"},
	)

	// RowsEmitted counts rows emitted downstream per layer.
	RowsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Name:      "rows_emitted_total",
			Help:      "Rows emitted per layer",
		},
		[]string{"layer"},
	)

	// SchemaVersions tracks the latest registered version per layer.
	SchemaVersions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strata",
			Name:      "schema_version",
			Help:      "Latest registered schema version per layer",
		},
		[]string{"layer"},
	)

	// EvolutionProposals counts evolution proposals per layer and outcome.
	EvolutionProposals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Name:      "evolution_proposals_total",
			Help:      "Schema evolution proposals per layer and outcome",
		},
		[]string{"layer", "result"},
	)

	// TransitionDuration observes layer transition latency in seconds.
	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "strata",
			Name:      "transition_duration_seconds",
			Help:      "Layer transition duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"from", "to"},
	)
)

// WriteMetrics gathers the default registry and writes it to w in the
// Prometheus text exposition format. Batch runs use it to leave a metrics
// file next to the emitted layers.
func WriteMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return err
		}
	}
	return nil
}
