package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebhookEventsTotal counts processed webhook events by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Webhook events by event type and outcome (processed, skipped, ignored, duplicate, failed).",
	}, []string{"event_type", "outcome"})

	// WebhookRejectedTotal counts deliveries rejected before routing.
	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "webhook_rejected_total",
		Help:      "Webhook deliveries rejected by reason (unauthenticated, malformed).",
	}, []string{"reason"})

	// WebhookDuration tracks event processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook event processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	LinkagesResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "linkages_resolved_total",
		Help:      "Pending linkages attached to a verified identity.",
	})

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "provider_reconcile_total",
		Help:      "Subscriptions re-read from the provider by result.",
	}, []string{"result"})

	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "outbox_published_total",
		Help:      "Outbox events published to Kafka by event type.",
	}, []string{"event_type"})

	AccessRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywall",
		Subsystem: "billing",
		Name:      "access_requests_total",
		Help:      "Access level lookups by resolved level.",
	}, []string{"level"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
