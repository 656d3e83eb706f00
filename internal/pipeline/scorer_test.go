package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/models"
)

func featureRow(bucket time.Time, errorRate float64) *models.Row {
	return models.NewRow(models.LayerFeatures5m, map[string]any{
		"bucket_ts":          bucket,
		"partner":            "acme",
		"service":            "vod",
		"region":             "us-east",
		"pop":                "iad1",
		"error_rate":         errorRate,
		"cache_hit_ratio":    0.9,
		"crc_error_rate":     0.0,
		"p95_ms_avg":         85.0,
		"bytes_per_request":  2000.0,
		"requests_per_slice": 100.0,
	})
}

func TestScorerNeedsHistory(t *testing.T) {
	s := NewScorer(10, 3, 3.0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Empty(t, s.Score(featureRow(base, 0.01)))
	assert.Empty(t, s.Score(featureRow(base.Add(5*time.Minute), 0.02)))
	assert.Empty(t, s.Score(featureRow(base.Add(10*time.Minute), 0.03)))

	// Fourth bucket has three prior observations with spread.
	scores := s.Score(featureRow(base.Add(15*time.Minute), 0.02))
	assert.NotEmpty(t, scores)
}

func TestScorerSkipsZeroVarianceSeries(t *testing.T) {
	s := NewScorer(10, 2, 3.0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Every metric constant: nothing is scorable.
	for i := 0; i < 5; i++ {
		scores := s.Score(featureRow(base.Add(time.Duration(i)*5*time.Minute), 0.01))
		assert.Empty(t, scores)
	}
}

func TestScorerFlagsSpike(t *testing.T) {
	s := NewScorer(48, 2, 3.0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rates := []float64{0.010, 0.012, 0.011, 0.013, 0.012, 0.011}
	for i, rate := range rates {
		s.Score(featureRow(base.Add(time.Duration(i)*5*time.Minute), rate))
	}

	scores := s.Score(featureRow(base.Add(35*time.Minute), 0.5))
	require.NotEmpty(t, scores)

	var errorScore *models.Row
	for _, score := range scores {
		if score.String("metric") == "error_rate" {
			errorScore = score
		}
	}
	require.NotNil(t, errorScore)

	assert.Equal(t, models.LayerScoresZScore, errorScore.Layer)
	assert.InDelta(t, 0.5, errorScore.Float("observed"), 1e-9)
	assert.Greater(t, errorScore.Float("zscore"), 3.0)
	assert.Equal(t, true, errorScore.Data["anomaly"])
	assert.Equal(t, "acme", errorScore.String("partner"))
}

func TestScorerScoresAgainstPriorObservationsOnly(t *testing.T) {
	s := NewScorer(48, 2, 3.0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Score(featureRow(base, 0.01))
	s.Score(featureRow(base.Add(5*time.Minute), 0.03))

	scores := s.Score(featureRow(base.Add(10*time.Minute), 0.02))
	var errorScore *models.Row
	for _, score := range scores {
		if score.String("metric") == "error_rate" {
			errorScore = score
		}
	}
	require.NotNil(t, errorScore)

	// Mean over the two priors, not including the observation itself.
	assert.InDelta(t, 0.02, errorScore.Float("mean"), 1e-9)
	assert.InDelta(t, 0.01, errorScore.Float("stddev"), 1e-9)
	assert.InDelta(t, 0.0, errorScore.Float("zscore"), 1e-9)
	assert.Equal(t, false, errorScore.Data["anomaly"])
}

func TestScorerTrimsWindow(t *testing.T) {
	s := NewScorer(3, 2, 3.0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		s.Score(featureRow(base.Add(time.Duration(i)*5*time.Minute), float64(i)))
	}

	key := seriesKey{partner: "acme", service: "vod", region: "us-east", pop: "iad1", metric: "error_rate"}
	require.Len(t, s.series[key], 3)
	assert.Equal(t, []float64{7, 8, 9}, s.series[key])
}

func TestScorerSeparatesSeries(t *testing.T) {
	s := NewScorer(48, 2, 3.0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	other := featureRow(base, 0.9)
	other.Data["pop"] = "lax1"

	s.Score(featureRow(base, 0.01))
	s.Score(other)
	s.Score(featureRow(base.Add(5*time.Minute), 0.02))

	// Only one observation per series so far for the error_rate metric of
	// the iad1 key after two rows; lax1 history is independent.
	iad := seriesKey{partner: "acme", service: "vod", region: "us-east", pop: "iad1", metric: "error_rate"}
	lax := seriesKey{partner: "acme", service: "vod", region: "us-east", pop: "lax1", metric: "error_rate"}
	assert.Len(t, s.series[iad], 2)
	assert.Len(t, s.series[lax], 1)
}
