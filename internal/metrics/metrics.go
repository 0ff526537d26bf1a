// Package metrics provides Prometheus instrumentation for the webhook bots:
// counters for received and processed events, a histogram of handler latency
// and a gauge of queued events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebhookRequests counts inbound webhook requests by tenant and outcome:
	// "accepted", "ignored", "unauthorized", "unknown_tenant" or "bad_request".
	WebhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bots_webhook_requests_total",
		Help: "Total number of webhook requests received",
	}, []string{"tenant", "result"})

	// EventsEnqueued counts events handed to the dispatcher.
	EventsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bots_events_enqueued_total",
		Help: "Total number of events submitted to the dispatcher",
	}, []string{"tenant"})

	// EventsProcessed counts handled events, labeled by result "ok" or "failed".
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bots_events_processed_total",
		Help: "Total number of events processed by dispatcher workers",
	}, []string{"tenant", "result"})

	// HandlerDuration records how long a bot took to handle one event.
	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bots_handler_duration_seconds",
		Help:    "Event handling latency in seconds",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"tenant"})

	// QueueDepth tracks events waiting for a worker.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bots_queue_depth",
		Help: "Current number of events waiting in dispatcher queues",
	})

	// NotificationsSent counts scheduled expiry notifications.
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bots_notifications_sent_total",
		Help: "Total number of scheduled expiry notifications sent",
	})
)

func init() {
	prometheus.MustRegister(
		WebhookRequests,
		EventsEnqueued,
		EventsProcessed,
		HandlerDuration,
		QueueDepth,
		NotificationsSent,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
