package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_apps_total",
			Help: "Total number of apps",
		},
	)

	ChannelsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_channels_total",
			Help: "Total number of channels across all apps",
		},
	)

	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_users_total",
			Help: "Total number of connected users",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_subscriptions_active",
			Help: "Number of running subscription tasks",
		},
	)

	QueuedBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_queued_batches",
			Help: "Batches waiting in channel ingestion queues",
		},
	)

	StoredEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_stored_events",
			Help: "Events held in channel event logs",
		},
	)

	// Engine metrics
	BatchesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_batches_published_total",
			Help: "Total number of batches appended to channel logs",
		},
	)

	EventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_events_published_total",
			Help: "Total number of events appended to channel logs",
		},
	)

	PublishRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_publish_rejected_total",
			Help: "Publish calls rejected by reason",
		},
		[]string{"reason"},
	)

	// Delivery metrics
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_deliveries_total",
			Help: "Batch deliveries to user sinks by result",
		},
		[]string{"result"},
	)

	LaggedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_lagged_batches_total",
			Help: "Batches skipped by subscribers that fell behind the fan-out buffer",
		},
	)

	SubscriptionExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_subscription_exits_total",
			Help: "Subscription tasks stopped by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	UserDeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_user_delete_duration_seconds",
			Help:    "Time taken to tear down a user and cancel its subscriptions",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Rejection reasons used with PublishRejected.
const (
	ReasonBackpressure = "backpressure"
	ReasonClosed       = "closed"
	ReasonRateLimited  = "rate_limited"
)

// Delivery results used with Deliveries.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultSinkGone  = "sink_closed"
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(ChannelsTotal)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(QueuedBatches)
	prometheus.MustRegister(StoredEvents)
	prometheus.MustRegister(BatchesPublished)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishRejected)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(LaggedBatches)
	prometheus.MustRegister(SubscriptionExits)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(UserDeleteDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
