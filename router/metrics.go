package router

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the Prometheus metrics for the router.
type Metrics struct {
	OpsTotal   *prometheus.CounterVec
	OpDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the metrics for the router.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_router_operations_total",
			Help: "Total number of router operations, labeled by operation and result.",
		}, []string{"operation", "result"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_router_operation_duration_seconds",
			Help:    "Time taken to execute a router operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.OpsTotal, m.OpDuration)
	return m
}
