package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cocledger"

// Commit failure reasons used as label values.
const (
	ReasonInsufficientQuantity = "insufficient_quantity"
	ReasonMaterialExhausted    = "material_exhausted"
	ReasonUnknownBatch         = "unknown_batch"
	ReasonVersionConflict      = "version_conflict"
	ReasonInternal             = "internal"
)

// LedgerMetrics counts consumption activity on the COC ledger.
type LedgerMetrics struct {
	commits         *prometheus.CounterVec
	unitsConsumed   *prometheus.CounterVec
	failures        *prometheus.CounterVec
	retries         prometheus.Counter
	inconsistencies prometheus.Counter
	receipts        *prometheus.CounterVec
	adjustments     prometheus.Counter
}

// NewLedgerMetrics registers the ledger collectors on reg. A nil registerer
// yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_commits_total",
			Help:      "Usage records committed, by material.",
		}, []string{"material"}),
		unitsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_consumed_total",
			Help:      "Material units consumed through usage records.",
		}, []string{"material"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_failures_total",
			Help:      "Rejected commits by reason.",
		}, []string{"reason"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries_total",
			Help:      "Commit transactions retried after a version conflict.",
		}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_inconsistencies_total",
			Help:      "Batches observed with remaining outside [0, received].",
		}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_total",
			Help:      "Receipt registrations by outcome.",
		}, []string{"outcome"}),
		adjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumption_adjustments_total",
			Help:      "Administrative consumed-quantity overrides.",
		}),
	}
	reg.MustRegister(m.commits, m.unitsConsumed, m.failures, m.retries, m.inconsistencies, m.receipts, m.adjustments)
	return m
}

// ObserveCommit records one usage record of qty units.
func (m *LedgerMetrics) ObserveCommit(material string, qty int) {
	if m == nil || m.commits == nil {
		return
	}
	label := normalizeLabel(material)
	m.commits.WithLabelValues(label).Inc()
	m.unitsConsumed.WithLabelValues(label).Add(float64(qty))
}

func (m *LedgerMetrics) IncFailure(reason string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *LedgerMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

func (m *LedgerMetrics) IncInconsistency() {
	if m == nil || m.inconsistencies == nil {
		return
	}
	m.inconsistencies.Inc()
}

// IncReceipt records a receipt outcome: created, updated, unchanged or rejected.
func (m *LedgerMetrics) IncReceipt(outcome string) {
	if m == nil || m.receipts == nil {
		return
	}
	m.receipts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncAdjustment() {
	if m == nil || m.adjustments == nil {
		return
	}
	m.adjustments.Inc()
}
