// Package metrics registers the Prometheus collectors for doodlegrid.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doodlegrid_flushes_total",
		Help: "Document flushes by result",
	}, []string{"result"})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doodlegrid_flush_duration_seconds",
		Help:    "Duration of document flush transactions",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	HistoryLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doodlegrid_history_length",
		Help:    "History length of flushed documents",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doodlegrid_open_sessions",
		Help: "Currently open editing sessions",
	})

	AssetsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doodlegrid_assets_added_total",
		Help: "Assets stored",
	})

	AssetsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doodlegrid_assets_released_total",
		Help: "Refcount decrements applied by snapshot diffing",
	})

	AssetsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doodlegrid_assets_deleted_total",
		Help: "Assets deleted after their refcount reached zero",
	})

	RefcountInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doodlegrid_refcount_inconsistencies_total",
		Help: "Decrements skipped because the asset was missing or already at zero",
	})

	AuditFindings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doodlegrid_audit_findings",
		Help: "Findings of the last refcount audit by kind",
	}, []string{"kind"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
