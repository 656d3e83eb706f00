package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/connector/core"
	csvdest "github.com/ajitpratap0/strata/pkg/connector/destinations/csv"
	csvsource "github.com/ajitpratap0/strata/pkg/connector/sources/csv"
	"github.com/ajitpratap0/strata/pkg/models"
	"github.com/ajitpratap0/strata/pkg/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// rawLine is one CSV input line keyed by column name; absent optional
// columns render as empty fields.
func writeRawCSV(t *testing.T, path string, lines []map[string]string) {
	t.Helper()

	columns := schema.Baseline(models.LayerRawMinute)
	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Name
	}

	file, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(file)
	require.NoError(t, w.Write(header))
	for _, line := range lines {
		record := make([]string, len(header))
		for i, name := range header {
			record[i] = line[name]
		}
		require.NoError(t, w.Write(record))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, file.Close())
}

func rawLine(overrides map[string]string) map[string]string {
	line := map[string]string{
		"seed":           "42",
		"ts":             "2026-03-01T12:00:00Z",
		"partner":        "acme",
		"service":        "vod",
		"region":         "us-east",
		"pop":            "iad1",
		"host":           "edge-01",
		"content_type":   "segment",
		"ua_family":      "web",
		"requests":       "100",
		"bytes_sent":     "200000",
		"p50_ms":         "20",
		"p95_ms":         "80",
		"p99_ms":         "120",
		"cache_hit_rate": "0.9",
		"http_2xx_count": "100",
		"http_3xx_count": "0",
		"http_4xx_count": "0",
		"http_5xx_count": "0",
		"status_500":     "0",
		"status_502":     "0",
		"status_503":     "0",
		"status_504":     "0",
		"crc_errors":     "0",
	}
	for k, v := range overrides {
		line[k] = v
	}
	return line
}

func readCSV(t *testing.T, path string) (header []string, rows [][]string) {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	all, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[0], all[1:]
}

func column(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, h := range header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %s not in header %v", name, header)
	return -1
}

func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	outDir := filepath.Join(dir, "out")

	writeRawCSV(t, input, []map[string]string{
		// One 12:00 bucket fed by per-event rows: two hits, one miss.
		rawLine(map[string]string{"cache_status": "hit"}),
		rawLine(map[string]string{"ts": "2026-03-01T12:01:00Z", "cache_status": "hit"}),
		rawLine(map[string]string{"ts": "2026-03-01T12:02:00Z", "cache_status": "miss"}),
		// Aggregate rows for three later buckets with varying error rates.
		rawLine(map[string]string{"ts": "2026-03-01T12:05:00Z", "http_4xx_count": "10", "http_2xx_count": "90"}),
		rawLine(map[string]string{"ts": "2026-03-01T12:10:00Z"}),
		rawLine(map[string]string{"ts": "2026-03-01T12:15:00Z", "http_4xx_count": "50", "http_2xx_count": "50"}),
		// Missing required partner: rejected, must not abort the run.
		rawLine(map[string]string{"ts": "2026-03-01T12:03:00Z", "partner": ""}),
	})

	cfg := config.New("test")
	cfg.Performance.Workers = 1
	cfg.Ingest.Path = input
	cfg.Emit.Dir = outDir
	cfg.Scoring.Window = 4
	cfg.Scoring.MinSamples = 2
	cfg.Scoring.Threshold = 2.0
	require.NoError(t, cfg.Validate())

	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, schema.RegisterBaseline(context.Background(), reg))

	sinks := make(map[models.Layer][]core.Destination)
	for _, layer := range models.Layers() {
		dest := csvdest.NewDestination(filepath.Join(outDir, string(layer)+".csv"))
		sinks[layer] = append(sinks[layer], dest)
	}

	p := New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), sinks)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), summary.Ingested)
	require.Len(t, summary.Rejections, 1)
	assert.Equal(t, models.LayerRawMinute, summary.Rejections[0].Layer)
	assert.Contains(t, summary.Rejections[0].Reason, "partner")

	assert.Equal(t, int64(6), summary.Emitted[models.LayerRawMinute])
	assert.Equal(t, int64(4), summary.Emitted[models.LayerBuckets5m])
	assert.Equal(t, int64(4), summary.Emitted[models.LayerFeatures5m])
	assert.GreaterOrEqual(t, summary.Emitted[models.LayerScoresZScore], int64(2))
	assert.GreaterOrEqual(t, summary.Anomalies, int64(1))

	// The 12:00 bucket counts exactly one hit per tagged row.
	header, rows := readCSV(t, filepath.Join(outDir, "buckets_5m.csv"))
	hitCol := column(t, header, "cache_hit_count")
	tsCol := column(t, header, "bucket_ts")
	var found bool
	for _, row := range rows {
		if row[tsCol] == "2026-03-01T12:00:00Z" {
			found = true
			assert.Equal(t, "2", row[hitCol])
		}
	}
	assert.True(t, found, "12:00 bucket missing from output")
}

func TestPipelineEmitsContractColumnOrder(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	outDir := filepath.Join(dir, "out")

	writeRawCSV(t, input, []map[string]string{
		rawLine(map[string]string{"cache_status": "hit"}),
		rawLine(map[string]string{"ts": "2026-03-01T12:01:00Z"}),
	})

	cfg := config.New("test")
	cfg.Performance.Workers = 1
	cfg.Ingest.Path = input
	cfg.Emit.Dir = outDir

	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, schema.RegisterBaseline(context.Background(), reg))

	sinks := map[models.Layer][]core.Destination{
		models.LayerRawMinute: {csvdest.NewDestination(filepath.Join(outDir, "raw_minute.csv"))},
	}
	_, err := New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), sinks).Run(context.Background())
	require.NoError(t, err)

	header, rows := readCSV(t, filepath.Join(outDir, "raw_minute.csv"))

	want := make([]string, 0, len(header))
	for _, col := range schema.Baseline(models.LayerRawMinute) {
		want = append(want, col.Name)
	}
	assert.Equal(t, want, header)

	require.Len(t, rows, 2)
	statusCol := column(t, header, "cache_status")
	assert.Equal(t, "hit", rows[0][statusCol])
	assert.Equal(t, "", rows[1][statusCol], "absent optional column renders empty")
}

func TestPipelineHistoricalSchemaVersionPin(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	outDir := filepath.Join(dir, "out")

	writeRawCSV(t, input, []map[string]string{rawLine(nil)})

	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, schema.RegisterBaseline(context.Background(), reg))

	// Evolve raw_minute with a new required column the old feed cannot have.
	extended := append(schema.Baseline(models.LayerRawMinute), models.ColumnSpec{
		Name: "edge_node", Type: models.TypeString, Required: true,
	})
	_, err := reg.Register(context.Background(), models.LayerRawMinute, extended)
	require.NoError(t, err)

	cfg := config.New("test")
	cfg.Performance.Workers = 1
	cfg.Ingest.Path = input
	cfg.Emit.Dir = outDir

	// Against the current version the row is rejected.
	summary, err := New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Rejections, 1)

	// Pinned to version 1 it passes.
	cfg.Ingest.SchemaVersion = 1
	summary, err = New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Rejections)
}

func TestPipelineEmitsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	writeRawCSV(t, input, []map[string]string{rawLine(nil)})

	cfg := config.New("test")
	cfg.Performance.Workers = 1
	cfg.Ingest.Path = input
	cfg.Emit.Dir = dir

	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, schema.RegisterBaseline(context.Background(), reg))

	_, err := New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), nil).Run(context.Background())
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "pipeline.run")
	assert.Contains(t, names, "pipeline.raw_stage")
	assert.Contains(t, names, "pipeline.derived_stages")
}

func TestPipelineRecordsEveryUnreadableLine(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")

	writeRawCSV(t, input, []map[string]string{rawLine(nil)})

	// Append a burst of unparseable lines after the valid row.
	file, err := os.OpenFile(input, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString("bro\"ken,record\nano\"ther,bad,record\nthi\"rd,one\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	cfg := config.New("test")
	cfg.Performance.Workers = 1
	cfg.Ingest.Path = input
	cfg.Emit.Dir = dir

	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, schema.RegisterBaseline(context.Background(), reg))

	summary, err := New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Ingested)
	require.Len(t, summary.Rejections, 3)
	for _, rejection := range summary.Rejections {
		assert.Equal(t, models.LayerRawMinute, rejection.Layer)
		assert.Contains(t, rejection.Reason, "malformed CSV record")
	}
}

func TestPipelineSummaryCountsStatesConsistently(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")

	writeRawCSV(t, input, []map[string]string{
		rawLine(nil),
		rawLine(map[string]string{"requests": "not-a-number"}),
	})

	cfg := config.New("test")
	cfg.Performance.Workers = 1
	cfg.Ingest.Path = input
	cfg.Emit.Dir = dir

	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, schema.RegisterBaseline(context.Background(), reg))

	summary, err := New(cfg, reg, zap.NewNop(), csvsource.NewSource(input), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Ingested)
	require.Len(t, summary.Rejections, 1)
	assert.Contains(t, summary.Rejections[0].Reason, strconv.Quote("requests"))
	// Emitted counts rows that reached the terminal state even without sinks.
	assert.Equal(t, int64(1), summary.Emitted[models.LayerRawMinute])
	assert.Equal(t, int64(1), summary.Emitted[models.LayerBuckets5m])
}