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
	mlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "milelog_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	mlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "milelog_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	mlLedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "milelog_ledger_entries_total",
		Help: "Total ledger entries appended, by operation.",
	}, []string{"operation"})

	mlVerifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "milelog_verify_failures_total",
		Help: "Total chain verification passes that found corruption.",
	})

	mlReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "milelog_reports_generated_total",
		Help: "Total signed reports generated.",
	})

	mlImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "milelog_import_rows_total",
		Help: "Total bulk-import rows by outcome.",
	}, []string{"outcome"})
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

		mlRequestsTotal.WithLabelValues(method, path, status).Inc()
		mlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records an appended entry by operation.
func RecordLedgerAppend(operation string) {
	mlLedgerEntriesTotal.WithLabelValues(operation).Inc()
}

// RecordVerifyFailure records a verification pass that found corruption.
func RecordVerifyFailure() {
	mlVerifyFailuresTotal.Inc()
}

// RecordReportGenerated records a generated report.
func RecordReportGenerated() {
	mlReportsTotal.Inc()
}

// RecordImportRows records bulk-import row outcomes.
func RecordImportRows(appended, failed int) {
	mlImportRowsTotal.WithLabelValues("appended").Add(float64(appended))
	mlImportRowsTotal.WithLabelValues("failed").Add(float64(failed))
}
