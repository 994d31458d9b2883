// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ctrader"

// Strategy signals by producer and direction.
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "signals_total",
		Help:      "Strategy signals produced",
	},
	[]string{"strategy", "direction"},
)

// Producer failures degraded to HOLD.
var StrategyErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "errors_total",
		Help:      "Strategy evaluations that failed or panicked",
	},
	[]string{"strategy"},
)

// Consensus decisions by direction.
var DecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consensus",
		Name:      "decisions_total",
		Help:      "Consensus decisions",
	},
	[]string{"direction"},
)

// IntentsTotal counts approved execution intents. Symbols go to the intent
// log line, not a label, since the watchlist grows with the top movers.
var IntentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "intents_total",
		Help:      "Execution intents authorized",
	},
	[]string{"direction"},
)

// RejectionsTotal counts risk gate rejections by reason.
var RejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Decisions suppressed by the risk gate",
	},
	[]string{"reason"},
)

// SinkErrorsTotal counts failed deliveries to order, stream and notifier sinks.
var SinkErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "sink_errors_total",
		Help:      "Failed deliveries by sink",
	},
	[]string{"sink"},
)

// CyclesTotal counts finished scan cycles.
var CyclesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Scan cycles completed",
	},
)

// SkippedTotal counts symbols or ticks skipped because work was in flight.
var SkippedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "skipped_total",
		Help:      "Work skipped because the previous run was still in flight",
	},
	[]string{"scope"},
)

// CycleDuration observes scan cycle wall time.
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Scan cycle duration",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
)

// EvaluationDuration observes per-symbol evaluation time.
var EvaluationDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "evaluation_duration_seconds",
		Help:      "Per-symbol evaluation duration",
		Buckets:   prometheus.DefBuckets,
	},
)

// PublishDuration observes stream publish latency by topic and result.
var PublishDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "publish_seconds",
		Help:      "Event publish latency",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"topic", "result"},
)

// OpenPositions tracks the open position count seen by the last cycle.
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "open_positions",
		Help:      "Open positions",
	},
)

// Equity tracks account equity seen by the last cycle.
var Equity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "equity_usd",
		Help:      "Account equity",
	},
)

// BreakerState tracks circuit breakers: 0 closed, 1 half-open, 2 open.
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "resilience",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	},
	[]string{"name"},
)

// ObservePublish records one publish attempt.
func ObservePublish(topic string, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PublishDuration.WithLabelValues(topic, result).Observe(dur.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a /metrics listener in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
