// Package metrics holds the Prometheus collectors for the counter engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Subscription kinds used as the "kind" label.
const (
	KindQuery    = "query"
	KindParent   = "parent"
	KindDocument = "document"
)

var (
	// SubscriptionsOpened counts RemoteStore subscriptions opened by kind.
	SubscriptionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_subscriptions_opened_total",
		Help: "Total remote store subscriptions opened by kind",
	}, []string{"kind"})

	// SubscriptionsClosed counts RemoteStore subscriptions cancelled by kind.
	SubscriptionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_subscriptions_closed_total",
		Help: "Total remote store subscriptions cancelled by kind",
	}, []string{"kind"})

	// SubscriptionErrors counts subscription failures by kind.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_subscription_errors_total",
		Help: "Total remote store subscription failures by kind",
	}, []string{"kind"})

	// Emissions counts aggregate values emitted per counter key.
	Emissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_aggregate_emissions_total",
		Help: "Total aggregate values emitted by counter key",
	}, []string{"key"})

	// CacheWrites counts LocalCache writes performed by reconciliation.
	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_cache_writes_total",
		Help: "Total local cache writes by counter key",
	}, []string{"key"})

	// CacheErrors counts LocalCache failures by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_cache_errors_total",
		Help: "Total local cache failures by operation",
	}, []string{"op"})

	// SecondaryHandles tracks live per-parent subscriptions across aggregators.
	SecondaryHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fibo_secondary_handles",
		Help: "Number of live per-parent document subscriptions",
	})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
