package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	relayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	relayDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_decisions_total",
		Help: "Total manifest validation decisions by outcome.",
	}, []string{"outcome"})

	relaySealsExecutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_seals_executed_total",
		Help: "Total seals consumed via mark-executed.",
	})

	relayHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_health_checks_total",
		Help: "Total health check probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		relayRequestsTotal.WithLabelValues(method, path, status).Inc()
		relayRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDecision records one validation outcome.
func RecordDecision(approved bool) {
	if approved {
		relayDecisionsTotal.WithLabelValues("approved").Inc()
	} else {
		relayDecisionsTotal.WithLabelValues("denied").Inc()
	}
}

// RecordSealExecuted records a successful one-time-use transition.
func RecordSealExecuted() {
	relaySealsExecutedTotal.Inc()
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(success bool) {
	if success {
		relayHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		relayHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}
