package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts handled API requests by path and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mindlogger",
		Name:      "http_requests_total",
		Help:      "Handled HTTP requests.",
	}, []string{"path", "status"})

	// RequestDuration observes request latency by path.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mindlogger",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	// NotificationsSent counts successfully delivered push sends.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mindlogger",
		Name:      "notifications_sent_total",
		Help:      "Push notifications delivered.",
	})

	// NotificationsFailed counts failed push delivery attempts.
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mindlogger",
		Name:      "notifications_failed_total",
		Help:      "Push notification delivery failures.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
