// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FitbitRequests counts calls to the Fitbit REST API by endpoint and result.
var FitbitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "foodlog",
	Subsystem: "fitbit",
	Name:      "requests_total",
	Help:      "Fitbit API calls by endpoint and result (ok, error, transport).",
}, []string{"endpoint", "result"})

// FitbitLatency tracks Fitbit API call latency.
var FitbitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "foodlog",
	Subsystem: "fitbit",
	Name:      "request_duration_seconds",
	Help:      "Fitbit API call latency in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
}, []string{"endpoint"})

// ItemOutcomes counts per-food-item results.
var ItemOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "foodlog",
	Subsystem: "items",
	Name:      "outcomes_total",
	Help:      "Food items processed by result (logged, failed, invalid).",
}, []string{"result"})

// TokenRefreshes counts refresh-token grants by result.
var TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "foodlog",
	Subsystem: "oauth",
	Name:      "token_refreshes_total",
	Help:      "Access token refreshes by result (ok, error).",
}, []string{"result"})

// TokenExchanges counts authorization-code exchanges by result.
var TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "foodlog",
	Subsystem: "oauth",
	Name:      "code_exchanges_total",
	Help:      "Authorization code exchanges by result (ok, error).",
}, []string{"result"})

// BotVerdicts counts bot-score gate decisions.
var BotVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "foodlog",
	Subsystem: "botguard",
	Name:      "verdicts_total",
	Help:      "Bot gate decisions by action and verdict (pass, block, skip, fail_open).",
}, []string{"action", "verdict"})
