package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OperationsProposed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_operations_proposed_total",
		Help: "Operations proposed, by kind.",
	}, []string{"kind"})

	OperationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_operations_finished_total",
		Help: "Operations reaching a terminal status, by kind and status.",
	}, []string{"kind", "status"})

	AuditRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ems_audit_rollbacks_total",
		Help: "Compensating rollbacks applied to the audit ledger.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_http_requests_total",
		Help: "HTTP requests, by method, path and status.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ems_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RequestMetrics labels by route template, not the raw URL, so entity ids do
// not explode the cardinality.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
