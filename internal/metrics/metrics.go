package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TotalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HeartbeatsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeats_processed_total",
			Help: "Total number of accepted heartbeats",
		},
	)

	MachinesMarkedOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "machines_marked_offline_total",
			Help: "Total number of machines demoted to offline by the sweeper",
		},
	)

	CommandsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commands_queued_total",
			Help: "Total number of remote commands queued",
		},
	)

	CommandsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commands_expired_total",
			Help: "Total number of pending commands expired by the sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(TotalRequests)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(HeartbeatsProcessed)
	prometheus.MustRegister(MachinesMarkedOffline)
	prometheus.MustRegister(CommandsQueued)
	prometheus.MustRegister(CommandsExpired)
}

// Middleware records request counts and latencies per route. The route
// template (not the raw URL) is used as the path label to keep cardinality
// bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		TotalRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
