package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's instrumentation.
type Metrics struct {
	batchesTotal    *prometheus.CounterVec
	emailsProcessed prometheus.Counter
	duplicatesTotal *prometheus.CounterVec
	degradedBatches prometheus.Counter
	batchDuration   prometheus.Histogram
}

// NewMetrics registers the orchestrator metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcop_batches_total",
			Help: "Batch runs by terminal status (ok, busy, error).",
		}, []string{"status"}),
		emailsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailcop_emails_processed_total",
			Help: "Emails sent to the generation backend after dedup.",
		}),
		duplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcop_duplicates_total",
			Help: "Deduplicated emails by kind (same_batch, cross_batch).",
		}, []string{"kind"}),
		degradedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailcop_degraded_batches_total",
			Help: "Batches whose output took the degradation path.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailcop_batch_duration_seconds",
			Help:    "Wall time of one ProcessBatch call.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.batchesTotal, m.emailsProcessed, m.duplicatesTotal,
			m.degradedBatches, m.batchDuration)
	}
	return m
}
