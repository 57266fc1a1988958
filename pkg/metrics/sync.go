package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics counts rows pulled from the external receipt feed.
type SyncMetrics struct {
	rows *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "feed_rows_total",
		Help:      "Receipt feed rows by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(rows)
	return &SyncMetrics{rows: rows}
}

// IncRow records a feed row outcome: created, updated, unchanged, rejected or failed.
func (m *SyncMetrics) IncRow(outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(outcome)).Inc()
}
