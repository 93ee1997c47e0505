package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	httpLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvtor",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template.",
			// PDF exports launch a browser, so the tail goes well past the default buckets.
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "code"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvtor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template and status class.",
		},
		[]string{"method", "route", "class"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cvtor",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served.",
		},
	)
)

// GinMiddleware records per-route latency and request counts. Unknown paths share one
// label so scanners cannot blow up series cardinality.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/metrics") {
			c.Next()
			return
		}

		httpInFlight.Inc()
		started := time.Now()
		c.Next()
		httpInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		code := c.Writer.Status()

		httpLatency.WithLabelValues(c.Request.Method, route, strconv.Itoa(code)).Observe(time.Since(started).Seconds())
		httpRequests.WithLabelValues(c.Request.Method, route, statusClass(code)).Inc()
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
