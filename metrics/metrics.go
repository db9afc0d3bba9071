package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsync"

// Collectors groups the sync core's metrics. Build one per registry.
type Collectors struct {
	Connections     prometheus.Gauge
	Joins           *prometheus.CounterVec
	Updates         prometheus.Counter
	UpdateBytes     prometheus.Counter
	Flushes         *prometheus.CounterVec
	FlushDuration   prometheus.Histogram
	CachedDocuments prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Authenticated connections currently open",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Document join requests by result",
		}, []string{"result"}),
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Incremental updates accepted and relayed",
		}),
		UpdateBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_bytes_total",
			Help:      "Bytes of accepted incremental updates",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Snapshot flushes by trigger and result",
		}, []string{"trigger", "result"}), // trigger: debounce|vacated|shutdown
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Latency of snapshot appends",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		CachedDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_documents",
			Help:      "Documents with in-memory replicated state",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.Connections,
			c.Joins,
			c.Updates,
			c.UpdateBytes,
			c.Flushes,
			c.FlushDuration,
			c.CachedDocuments,
		)
	}
	return c
}
