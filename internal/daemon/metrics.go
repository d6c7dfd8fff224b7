package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRoutesInstalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ripd_routes_installed",
			Help: "Number of routes currently held in the route table",
		},
	)

	metricDatagramsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripd_datagrams_dropped_total",
			Help: "Number of inbound datagrams dropped by the ingress filter or codec",
		},
		[]string{"reason"},
	)

	metricTriggeredUpdatesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripd_triggered_updates_emitted_total",
			Help: "Number of triggered updates emitted",
		},
	)

	metricPeriodicUpdatesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripd_periodic_updates_emitted_total",
			Help: "Number of periodic (non-triggered) updates emitted",
		},
	)
)
