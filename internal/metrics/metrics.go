// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Catalog
	CatalogRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_catalog_refreshes_total",
			Help: "Total number of market catalog refreshes",
		},
		[]string{"status"}, // success, error
	)

	CatalogMarkets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stxbot_catalog_markets",
			Help: "Number of markets in the catalog after the last refresh",
		},
	)

	// Orders
	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_orders_placed_total",
			Help: "Total number of order placement attempts",
		},
		[]string{"status"}, // success, error, held
	)

	OrdersCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_orders_cancelled_total",
			Help: "Total number of order cancellations",
		},
		[]string{"status"}, // success, error
	)

	// Reconciliation loop
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_stream_events_total",
			Help: "Total number of market channel events consumed",
		},
		[]string{"kind"}, // open, message, close, error
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_decisions_total",
			Help: "Total number of reconciliation decisions",
		},
		[]string{"action", "reason"},
	)

	Replacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stxbot_order_replacements_total",
			Help: "Total number of cancel-and-replace cycles",
		},
	)

	Recovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stxbot_recovered_failures_total",
			Help: "Total number of update handling failures recovered inside the loop",
		},
	)

	ReconcilerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stxbot_reconciler_state",
			Help: "Reconciliation loop state (0 awaiting, 1 active, 2 terminated)",
		},
	)

	// API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_api_requests_total",
			Help: "Total number of STX API requests",
		},
		[]string{"operation", "status"}, // login/marketInfos/..., success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stxbot_api_request_duration_seconds",
			Help:    "Duration of STX API requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Store
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stxbot_notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"channel", "status"}, // discord/telegram, success/error
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordAPIRequest records one STX API round trip.
func RecordAPIRequest(operation string, duration time.Duration, err error) {
	APIRequests.WithLabelValues(operation, status(err)).Inc()
	APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCatalogRefresh records a catalog refresh and the resulting size.
func RecordCatalogRefresh(markets int, err error) {
	CatalogRefreshes.WithLabelValues(status(err)).Inc()
	if err == nil {
		CatalogMarkets.Set(float64(markets))
	}
}

// RecordDatabaseQuery records a database query outcome.
func RecordDatabaseQuery(operation string, err error) {
	DatabaseQueries.WithLabelValues(operation, status(err)).Inc()
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(channel string, err error) {
	NotificationsSent.WithLabelValues(channel, status(err)).Inc()
}
