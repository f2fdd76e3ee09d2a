package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/hashledger/internal/verifier"
	"github.com/jmerrifield20/hashledger/internal/webhooks"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hashledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hashledger_appends_total",
		Help: "Total ledger entries appended.",
	})

	appendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashledger_append_failures_total",
		Help: "Rejected or failed appends by error kind.",
	}, []string{"kind"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashledger_verifications_total",
		Help: "Chain verifications by result and failure reason.",
	}, []string{"result", "reason"})

	ledgerLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hashledger_ledger_length",
		Help: "Number of entries in the ledger as of the last append or audit.",
	})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashledger_webhook_deliveries_total",
		Help: "Webhook delivery attempts by event and outcome.",
	}, []string{"event", "result"})
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
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records a successful append. index is the new tail.
func RecordAppend(index int64) {
	appendsTotal.Inc()
	ledgerLength.Set(float64(index + 1))
}

// RecordAppendFailure records a rejected or failed append.
func RecordAppendFailure(kind string) {
	appendFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordVerification records a verification outcome.
func RecordVerification(res verifier.Result) {
	if res.Verified {
		verificationsTotal.WithLabelValues("verified", "").Inc()
		return
	}
	verificationsTotal.WithLabelValues("failed", string(res.Reason)).Inc()
}

// RecordAudit records a background audit run. It matches
// auditor.MetricsRecordFunc.
func RecordAudit(res verifier.Result, length int) {
	RecordVerification(res)
	ledgerLength.Set(float64(length))
}

// RecordWebhookDelivery records one delivery attempt. It matches
// webhooks.MetricsRecorder.
func RecordWebhookDelivery(d webhooks.Delivery) {
	result := "success"
	if !d.Success {
		result = "failure"
	}
	webhookDeliveries.WithLabelValues(d.EventType, result).Inc()
}
