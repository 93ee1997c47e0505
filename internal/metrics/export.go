package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvtor",
			Subsystem: "export",
			Name:      "documents_total",
			Help:      "Exported documents by format and outcome.",
		},
		[]string{"format", "outcome"},
	)

	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvtor",
			Subsystem: "generator",
			Name:      "requests_total",
			Help:      "Content generation requests by source.",
		},
		[]string{"source"},
	)

	billingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvtor",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Billing webhook deliveries by provider and status.",
		},
		[]string{"provider", "status"},
	)
)

// ObserveExport counts one export attempt.
func ObserveExport(format string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	exportsTotal.WithLabelValues(format, outcome).Inc()
}

// ObserveGeneration counts one generation request by the source that produced the payload.
func ObserveGeneration(source string) {
	generationsTotal.WithLabelValues(source).Inc()
}

// ObserveBillingEvent counts one webhook delivery.
func ObserveBillingEvent(provider, status string) {
	billingEventsTotal.WithLabelValues(provider, status).Inc()
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

