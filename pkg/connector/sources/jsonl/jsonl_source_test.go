package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/models"
)

var testColumns = []models.ColumnSpec{
	{Name: "ts", Type: models.TypeTimestamp, Required: true},
	{Name: "partner", Type: models.TypeString, Required: true},
	{Name: "requests", Type: models.TypeInt, Required: true},
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, s *Source) ([]core.Record, []error) {
	t.Helper()
	records, errc := s.Stream(context.Background())

	var errs []error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errc {
			errs = append(errs, err)
		}
	}()

	var out []core.Record
	for record := range records {
		out = append(out, record)
	}
	<-done
	return out, errs
}

func TestSourceParsesJSONEachRow(t *testing.T) {
	path := writeFile(t, `{"ts":"2026-03-01 12:00:00","partner":"acme","requests":120}
{"ts":"2026-03-01 12:01:00","partner":"globex","requests":80}
`)
	s := NewSource(path)
	require.NoError(t, s.Open(context.Background(), testColumns))
	defer func() { _ = s.Close() }()

	records, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, records, 2)

	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), records[0].Data["ts"])
	assert.Equal(t, "acme", records[0].Data["partner"])
	assert.Equal(t, float64(120), records[0].Data["requests"])
	assert.Equal(t, "globex", records[1].Data["partner"])
}

func TestSourceSkipsBlankLinesReportsBadOnes(t *testing.T) {
	path := writeFile(t, `{"ts":"2026-03-01 12:00:00","partner":"acme","requests":120}

{not json}
{"ts":"2026-03-01 12:02:00","partner":"acme","requests":90}
`)
	s := NewSource(path)
	require.NoError(t, s.Open(context.Background(), testColumns))
	defer func() { _ = s.Close() }()

	records, errs := collect(t, s)
	assert.Len(t, errs, 1)
	require.Len(t, records, 2)
	assert.Equal(t, 4, records[1].Line)
}

func TestSourceReportsEveryMalformedLine(t *testing.T) {
	path := writeFile(t, `{not json}
{also not json}
{"ts":"2026-03-01 12:00:00","partner":"acme","requests":120}
{still not json}
`)
	s := NewSource(path)
	require.NoError(t, s.Open(context.Background(), testColumns))
	defer func() { _ = s.Close() }()

	records, errs := collect(t, s)
	require.Len(t, records, 1)
	require.Len(t, errs, 3)
	assert.ErrorContains(t, errs[0], "line 1")
	assert.ErrorContains(t, errs[1], "line 2")
	assert.ErrorContains(t, errs[2], "line 4")
}

func TestSourceLeavesUnparseableTimestamps(t *testing.T) {
	path := writeFile(t, `{"ts":"yesterday","partner":"acme","requests":120}
`)
	s := NewSource(path)
	require.NoError(t, s.Open(context.Background(), testColumns))
	defer func() { _ = s.Close() }()

	records, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "yesterday", records[0].Data["ts"])
}
