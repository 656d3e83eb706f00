package parquet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/models"
)

func scoreRow(metric string, z float64) *models.Row {
	return models.NewRow(models.LayerScoresZScore, map[string]any{
		"bucket_ts": time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		"partner":   "acme",
		"service":   "vod",
		"region":    "us-east",
		"pop":       "iad1",
		"metric":    metric,
		"observed":  0.5,
		"mean":      0.01,
		"stddev":    0.05,
		"zscore":    z,
		"anomaly":   z >= 3.0,
	})
}

func TestDestinationWritesScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.parquet")
	d := NewDestination(path)
	ctx := context.Background()

	columns := []models.ColumnSpec{{Name: "metric", Type: models.TypeString, Required: true}}
	require.NoError(t, d.Open(ctx, models.LayerScoresZScore, columns))
	require.NoError(t, d.Write(ctx, scoreRow("error_rate", 9.8)))
	require.NoError(t, d.Write(ctx, scoreRow("cache_hit_ratio", 0.4)))
	assert.Equal(t, int64(2), d.RowsWritten())
	require.NoError(t, d.Close())

	records, err := parquet.ReadFile[ScoreRecord](path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "error_rate", records[0].Metric)
	assert.Equal(t, "acme", records[0].Partner)
	assert.InDelta(t, 9.8, records[0].ZScore, 1e-9)
	assert.True(t, records[0].Anomaly)
	assert.False(t, records[1].Anomaly)
	assert.True(t, records[0].BucketTs.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestDestinationFlushesInBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.parquet")
	d := NewDestination(path, WithBatchSize(2))
	ctx := context.Background()

	require.NoError(t, d.Open(ctx, models.LayerScoresZScore, nil))
	require.NoError(t, d.Write(ctx, scoreRow("error_rate", 1.0)))
	require.NoError(t, d.Write(ctx, scoreRow("error_rate", 2.0)))
	require.NoError(t, d.Write(ctx, scoreRow("error_rate", 3.0)))
	assert.Equal(t, int64(3), d.RowsWritten())
	require.NoError(t, d.Close())

	records, err := parquet.ReadFile[ScoreRecord](path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.InDelta(t, 3.0, records[2].ZScore, 1e-9)
}

func TestDestinationRejectsOtherLayers(t *testing.T) {
	d := NewDestination(filepath.Join(t.TempDir(), "out.parquet"))
	err := d.Open(context.Background(), models.LayerBuckets5m, nil)
	assert.Error(t, err)
}

func TestDestinationEmptyRunStillWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.parquet")
	d := NewDestination(path)

	require.NoError(t, d.Open(context.Background(), models.LayerScoresZScore, nil))
	require.NoError(t, d.Close())

	records, err := parquet.ReadFile[ScoreRecord](path)
	require.NoError(t, err)
	assert.Empty(t, records)
}
