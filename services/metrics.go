package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_dispatch_total",
			Help: "Total number of notification dispatches",
		},
		[]string{"type", "result"},
	)

	channelDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_channel_deliveries_total",
			Help: "Outbox entries finalized, by channel and status",
		},
		[]string{"channel", "status"},
	)

	pushDeviceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_push_device_results_total",
			Help: "Push sends per device, by outcome",
		},
		[]string{"outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_dispatch_duration_seconds",
			Help:    "Duration of a single recipient dispatch",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)
)
