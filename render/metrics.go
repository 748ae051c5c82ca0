package render

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the line-level side effects of rendered file operations:
// every Write/Patch records lines added and removed, every Undo records
// which direction it reverted.
type Metrics struct {
	FileOperations *prometheus.CounterVec
	FileUndos      *prometheus.CounterVec
}

// NewMetrics registers the render package's counters against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registry across repeated construction.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FileOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_file_operation_lines_total",
				Help: "Lines added/removed by file write and patch operations, by path and direction",
			},
			[]string{"path", "direction"},
		),
		FileUndos: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_file_undo_total",
				Help: "Undo operations applied to a file, by path and resulting status",
			},
			[]string{"path", "status"},
		),
	}
}

// RecordFileOperation records a write or patch's line delta against path.
func (m *Metrics) RecordFileOperation(path string, linesAdded, linesRemoved int) {
	if linesAdded > 0 {
		m.FileOperations.WithLabelValues(path, "added").Add(float64(linesAdded))
	}
	if linesRemoved > 0 {
		m.FileOperations.WithLabelValues(path, "removed").Add(float64(linesRemoved))
	}
}

// RecordFileUndo records an undo applied to path, status being one of
// "no_changes", "created", "removed", or "restored".
func (m *Metrics) RecordFileUndo(path, status string) {
	m.FileUndos.WithLabelValues(path, status).Inc()
}
