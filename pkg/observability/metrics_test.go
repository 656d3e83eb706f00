package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMetricsExposesCollectors(t *testing.T) {
	RowsEmitted.WithLabelValues("raw_minute").Inc()
	SchemaVersions.WithLabelValues("raw_minute").Set(1)

	var buf bytes.Buffer
	require.NoError(t, WriteMetrics(&buf))

	out := buf.String()
	assert.Contains(t, out, "strata_rows_emitted_total")
	assert.Contains(t, out, "strata_schema_version")
	assert.Contains(t, out, `layer="raw_minute"`)
}
