package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	indexerOnce sync.Once
	indexerReg  *IndexerMetrics
)

// IndexerMetrics exposes the Prometheus collectors instrumenting event
// ingestion and epoch lifecycle progress.
type IndexerMetrics struct {
	EventsApplied   *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
	BatchLatency    *prometheus.HistogramVec
	LastBlock       *prometheus.GaugeVec
	EpochsFinalized prometheus.Counter
	RevenuePosted   prometheus.Counter
}

// Indexer returns the lazily-initialised indexer metrics registry.
func Indexer() *IndexerMetrics {
	indexerOnce.Do(func() {
		indexerReg = &IndexerMetrics{
			EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chgnet",
				Subsystem: "indexer",
				Name:      "events_applied_total",
				Help:      "Ledger events applied to the state store, by contract and event.",
			}, []string{"contract", "event"}),
			EventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chgnet",
				Subsystem: "indexer",
				Name:      "events_skipped_total",
				Help:      "Ledger events skipped as already processed, by contract and event.",
			}, []string{"contract", "event"}),
			EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chgnet",
				Subsystem: "indexer",
				Name:      "events_failed_total",
				Help:      "Ledger events whose mutation failed, by contract and event.",
			}, []string{"contract", "event"}),
			BatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "chgnet",
				Subsystem: "indexer",
				Name:      "batch_seconds",
				Help:      "Wall time spent applying one poll batch, by contract.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"contract"}),
			LastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "chgnet",
				Subsystem: "indexer",
				Name:      "last_scanned_block",
				Help:      "Highest ledger block scanned, by contract.",
			}, []string{"contract"}),
			EpochsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chgnet",
				Subsystem: "epoch",
				Name:      "finalized_total",
				Help:      "Epochs finalized, including zero-revenue fallbacks.",
			}),
			RevenuePosted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chgnet",
				Subsystem: "epoch",
				Name:      "revenue_posted_total",
				Help:      "Accepted oracle revenue postings.",
			}),
		}
	})
	return indexerReg
}

// Collectors returns every collector for registry registration.
func (m *IndexerMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.EventsApplied,
		m.EventsSkipped,
		m.EventsFailed,
		m.BatchLatency,
		m.LastBlock,
		m.EpochsFinalized,
		m.RevenuePosted,
	}
}

// Register installs the collectors on the given registry, ignoring duplicate
// registration so tests can share the process-wide instances.
func (m *IndexerMetrics) Register(reg prometheus.Registerer) {
	for _, collector := range m.Collectors() {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
