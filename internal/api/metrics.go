package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/linechain/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linechain_http_requests_total",
		Help: "API requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linechain_http_request_duration_seconds",
		Help:    "API request latency in seconds by route.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
	}, []string{"method", "route"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linechain_http_requests_in_flight",
		Help: "API requests currently being served.",
	})
)

// routeLabel is the matched route template, so that chain names and
// record indexes do not create one series per value.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// PrometheusMiddleware records request counts, latencies and the number
// of requests in flight.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()
		defer func() {
			httpInFlight.Dec()
			route := routeLabel(c)
			httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
			httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		}()
		c.Next()
	}
}

// MetricsHandler serves every linechain collector in Prometheus format.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(metrics.Handler())
}
