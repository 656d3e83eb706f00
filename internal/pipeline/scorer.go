package pipeline

import (
	"math"

	"github.com/ajitpratap0/strata/pkg/models"
)

// scoredMetrics lists the feature columns the scorer tracks, in emission
// order.
var scoredMetrics = []string{
	"error_rate",
	"cache_hit_ratio",
	"p95_ms_avg",
	"crc_error_rate",
}

// Scorer assigns z-scores to feature metrics against a rolling window of
// prior observations per series. A series is one metric for one
// partner/service/region/pop. Like the bucketer it is confined to a single
// goroutine.
type Scorer struct {
	window     int
	minSamples int
	threshold  float64
	series     map[seriesKey][]float64
}

type seriesKey struct {
	partner string
	service string
	region  string
	pop     string
	metric  string
}

// NewScorer creates a scorer. window is the number of trailing observations
// kept per series, minSamples the number of prior observations required
// before scoring, threshold the |z| at or above which a score is anomalous.
func NewScorer(window, minSamples int, threshold float64) *Scorer {
	return &Scorer{
		window:     window,
		minSamples: minSamples,
		threshold:  threshold,
		series:     make(map[seriesKey][]float64),
	}
}

// Score evaluates one feature row. Each tracked metric is compared against
// the observations that preceded it, then recorded for future rows. Series
// with too little history, or with zero variance, produce no score row.
func (s *Scorer) Score(feature *models.Row) []*models.Row {
	base := seriesKey{
		partner: feature.String("partner"),
		service: feature.String("service"),
		region:  feature.String("region"),
		pop:     feature.String("pop"),
	}

	var rows []*models.Row
	for _, metric := range scoredMetrics {
		key := base
		key.metric = metric
		observed := feature.Float(metric)
		prior := s.series[key]

		if len(prior) >= s.minSamples {
			mean, stddev := meanStddev(prior)
			if stddev > 0 {
				z := (observed - mean) / stddev
				rows = append(rows, models.NewRow(models.LayerScoresZScore, map[string]any{
					"bucket_ts": feature.Time("bucket_ts"),
					"partner":   base.partner,
					"service":   base.service,
					"region":    base.region,
					"pop":       base.pop,
					"metric":    metric,
					"observed":  observed,
					"mean":      mean,
					"stddev":    stddev,
					"zscore":    z,
					"anomaly":   math.Abs(z) >= s.threshold,
				}))
			}
		}

		prior = append(prior, observed)
		if len(prior) > s.window {
			prior = prior[len(prior)-s.window:]
		}
		s.series[key] = prior
	}
	return rows
}

func meanStddev(values []float64) (float64, float64) {
	n := float64(len(values))
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
