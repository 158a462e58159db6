package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodial_ledger",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Operator API requests by route and status class.",
	}, []string{"method", "route", "code"})

	apiLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custodial_ledger",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Operator API latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
	}, []string{"method", "route"})

	apiInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custodial_ledger",
		Subsystem: "api",
		Name:      "requests_in_flight",
		Help:      "Operator API requests being served.",
	})
)

// Metrics records request count, latency and concurrency for the routes behind it.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiInFlight.Inc()
		start := time.Now()
		defer apiInFlight.Dec()

		c.Next()

		route := routeOf(c)
		apiLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		apiRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// routeOf labels by route pattern so client ids never become label values.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}
