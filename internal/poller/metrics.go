package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var PollLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "hedgeengine",
		Subsystem: "poller",
		Name:      "poll_latency_ms",
		Help:      "Time taken to sweep all PENDING executions for a status update",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000},
	},
)

var FinalizedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hedgeengine",
		Subsystem: "poller",
		Name:      "finalized_total",
		Help:      "Executions finalized by the poller, by terminal status",
	},
	[]string{"status"},
)

var StuckExecutions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "hedgeengine",
		Subsystem: "poller",
		Name:      "stuck_executions",
		Help:      "Executions that have been PENDING longer than the stuck threshold",
	},
	[]string{"symbol"},
)
