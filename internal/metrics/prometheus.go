// Package metrics provides Prometheus metrics collection for riskforge services
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskforge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "riskforge",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Risk scoring metrics
var (
	loginScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskforge",
			Name:      "login_risk_score",
			Help:      "Fused login risk score distribution",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100}, // 0-100 scale
		},
		[]string{"service", "decision"}, // decision: ALLOW, STEP_UP, HARD_DENY
	)

	loginDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "login_decisions_total",
			Help:      "Total number of login risk decisions",
		},
		[]string{"decision"},
	)

	intelHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "intel_hits_total",
			Help:      "Total number of threat intelligence signal hits",
		},
		[]string{"signal"}, // signal: bad_ip, tor_exit, bad_asn, disposable_email
	)

	lockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "account_lockouts_total",
			Help:      "Total number of account lockouts triggered",
		},
	)
)

// Anomaly detection metrics
var (
	anomalyScoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "anomaly_scores_total",
			Help:      "Total number of transaction anomaly scorings by backend",
		},
		[]string{"backend", "fallback"}, // backend: iforest, autoencoder, heuristic
	)

	anomalyScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskforge",
			Name:      "anomaly_score",
			Help:      "Transaction anomaly score distribution",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100},
		},
		[]string{"backend"},
	)

	modelCacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "model_cache_operations_total",
			Help:      "Fitted anomaly model cache lookups",
		},
		[]string{"outcome"}, // outcome: hit, miss
	)
)

// Profile metrics
var (
	profileUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskforge",
			Name:      "profile_updates_total",
			Help:      "Total number of behavioral profile updates",
		},
		[]string{"kind", "outcome"}, // kind: login, transaction; outcome: applied, skipped, error
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(duration)
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLoginScore records a fused login risk score with the resulting decision
func RecordLoginScore(service, decision string, score float64) {
	loginScoreHistogram.WithLabelValues(service, decision).Observe(score)
	loginDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordIntelHit records a threat intelligence signal hit
func RecordIntelHit(signal string) {
	intelHitsTotal.WithLabelValues(signal).Inc()
}

// RecordLockout records an account lockout event
func RecordLockout() {
	lockoutsTotal.Inc()
}

// RecordAnomalyScore records a transaction anomaly scoring
func RecordAnomalyScore(backend string, fallback bool, score float64) {
	anomalyScoresTotal.WithLabelValues(backend, strconv.FormatBool(fallback)).Inc()
	anomalyScoreHistogram.WithLabelValues(backend).Observe(score)
}

// RecordModelCache records a fitted model cache lookup outcome
func RecordModelCache(outcome string) {
	modelCacheOperationsTotal.WithLabelValues(outcome).Inc()
}

// RecordProfileUpdate records a behavioral profile update outcome
func RecordProfileUpdate(kind, outcome string) {
	profileUpdatesTotal.WithLabelValues(kind, outcome).Inc()
}
