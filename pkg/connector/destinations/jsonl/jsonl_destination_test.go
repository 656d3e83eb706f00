package jsonl

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/models"
)

var testColumns = []models.ColumnSpec{
	{Name: "bucket_ts", Type: models.TypeTimestamp, Required: true},
	{Name: "partner", Type: models.TypeString, Required: true},
	{Name: "requests", Type: models.TypeInt, Required: true},
	{Name: "note", Type: models.TypeString, Required: false},
}

func TestDestinationWritesOneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	d := NewDestination(path)
	ctx := context.Background()

	require.NoError(t, d.Open(ctx, models.LayerBuckets5m, testColumns))
	require.NoError(t, d.Write(ctx, models.NewRow(models.LayerBuckets5m, map[string]any{
		"bucket_ts": time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		"partner":   "acme",
		"requests":  int64(500),
		"note":      "tagged",
		"internal":  "not a contract column",
	})))
	require.NoError(t, d.Write(ctx, models.NewRow(models.LayerBuckets5m, map[string]any{
		"bucket_ts": time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		"partner":   "acme",
		"requests":  int64(300),
	})))
	require.NoError(t, d.Close())
	assert.Equal(t, int64(2), d.RowsWritten())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, jsonpool.Unmarshal(scanner.Bytes(), &obj))
		lines = append(lines, obj)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "2026-03-01T12:00:00Z", lines[0]["bucket_ts"])
	assert.Equal(t, "acme", lines[0]["partner"])
	assert.Equal(t, float64(500), lines[0]["requests"])
	assert.Equal(t, "tagged", lines[0]["note"])
	assert.NotContains(t, lines[0], "internal", "non-contract columns are dropped")
	assert.NotContains(t, lines[1], "note", "absent optional columns are omitted")
}
