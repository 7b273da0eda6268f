/*
Package metrics provides Prometheus metrics and health endpoints for Burrow.

All collectors are package-level variables registered with the default
Prometheus registry in init, and exposed by Handler on /metrics.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Gauges (sampled by manager.MetricsCollector):            │
	│    burrow_apps_total, burrow_channels_total,              │
	│    burrow_users_total, burrow_subscriptions_active,       │
	│    burrow_queued_batches, burrow_stored_events            │
	│                                                            │
	│  Counters (updated on the hot path):                      │
	│    burrow_batches_published_total                         │
	│    burrow_events_published_total                          │
	│    burrow_publish_rejected_total{reason}                  │
	│    burrow_deliveries_total{result}                        │
	│    burrow_lagged_batches_total                            │
	│    burrow_subscription_exits_total{reason}                │
	│    burrow_api_requests_total{route,status}                │
	│                                                            │
	│  Histograms:                                               │
	│    burrow_api_request_duration_seconds{route}             │
	│    burrow_user_delete_duration_seconds                    │
	└────────────────────────────────────────────────────────┘

# Health

HealthChecker tracks named components (registry, http, grpc). /health is
unhealthy as soon as any registered component reports unhealthy; /ready
additionally requires every critical component to be registered.

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UserDeleteDuration)

	metrics.PublishRejected.WithLabelValues(metrics.ReasonBackpressure).Inc()

	metrics.UpdateComponent(metrics.ComponentHTTP, true, "listening")
*/
package metrics
