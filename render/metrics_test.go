package render

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordFileOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordFileOperation("/tmp/a.go", 5, 2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var found int
	for _, mf := range mfs {
		if mf.GetName() == "forge_file_operation_lines_total" {
			found = len(mf.GetMetric())
		}
	}
	assert.Equal(t, 2, found)
}

func TestMetricsRecordFileUndo(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordFileUndo("/tmp/a.go", "restored")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "forge_file_undo_total" {
			found = len(mf.GetMetric()) == 1
		}
	}
	assert.True(t, found)
}
