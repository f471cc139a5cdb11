package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the Prometheus metrics for the registry.
type Metrics struct {
	PairsCreated prometheus.Counter
	PairsTotal   prometheus.Gauge
}

// NewMetrics creates and registers the metrics for the registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PairsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "amm_registry_pairs_created_total",
			Help: "Total number of pools created by the registry.",
		}),
		PairsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "amm_registry_pairs",
			Help: "Current number of pools tracked by the registry.",
		}),
	}
	reg.MustRegister(m.PairsCreated, m.PairsTotal)
	return m
}
