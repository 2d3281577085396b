package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reconciliations_total",
		Help: "Reconciliations by verdict.",
	}, []string{"verdict"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_reconcile_duration_seconds",
		Help:    "Time from reconciliation start to verdict, grace period included.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 1.5, 2, 3, 5, 10},
	})
)

// GetReconciliationsTotal exposes the verdict counter for tests.
func GetReconciliationsTotal() *prometheus.CounterVec { return reconciliationsTotal }

// GetReconcileDuration exposes the duration histogram for tests.
func GetReconcileDuration() prometheus.Histogram { return reconcileDuration }
