package conductor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the hedge dispatch pipeline, namespaced the
// way the teacher's trading-core metrics are: one namespace, a
// "hedging" subsystem, symbol-labeled where it matters for dashboards.

var TradesApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "trades_applied_total",
		Help:      "Total on-chain trades applied to an accumulator",
	},
	[]string{"symbol"},
)

var DispatchesReserved = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "dispatches_reserved_total",
		Help:      "Total PENDING executions reserved by the dispatcher",
	},
	[]string{"symbol", "direction"},
)

var DispatchFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "dispatch_failures_total",
		Help:      "Total broker dispatch failures by fatal/transient classification",
	},
	[]string{"symbol", "kind"},
)

var DispatchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "dispatch_latency_ms",
		Help:      "Time from trade application to broker order submission in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"symbol"},
)

var NetPositionGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "net_position",
		Help:      "Current net position per symbol (float64 approximation for dashboards only)",
	},
	[]string{"symbol"},
)

var AccumulatedLongGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "accumulated_long",
		Help:      "Lifetime on-chain SELL volume accumulated per symbol (float64 approximation for dashboards only)",
	},
	[]string{"symbol"},
)

var AccumulatedShortGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "hedgeengine",
		Subsystem: "hedging",
		Name:      "accumulated_short",
		Help:      "Lifetime on-chain BUY volume accumulated per symbol (float64 approximation for dashboards only)",
	},
	[]string{"symbol"},
)
