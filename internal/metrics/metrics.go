// Package metrics defines the Prometheus collectors exported across the
// trading core — one registry shared by the HTTP middleware and every
// component that wants to surface a counter or histogram.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// TradingMetrics is the set of Prometheus collectors the trading core
// exports. HTTPMiddleware records into the HTTP* fields; every other
// component records into its own fields directly.
type TradingMetrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec

	OrdersAdmittedTotal  *prometheus.CounterVec
	OrdersRejectedTotal  *prometheus.CounterVec
	ExecutionsTotal      *prometheus.CounterVec
	MatchLatency         prometheus.Histogram

	SettlementsTotal     *prometheus.CounterVec

	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	SubscribersEvicted   prometheus.Counter

	WebhookDeliveryTotal *prometheus.CounterVec
}

// NewTradingMetrics builds and registers every collector against reg.
func NewTradingMetrics(reg prometheus.Registerer) *TradingMetrics {
	m := &TradingMetrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_http_requests_total",
			Help: "Total HTTP requests by method, route pattern and status class.",
		}, []string{"method", "route", "status_class"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradingcore_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		OrdersAdmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_orders_admitted_total",
			Help: "Total orders admitted to the book, by symbol and side.",
		}, []string{"symbol", "side"}),
		OrdersRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_orders_rejected_total",
			Help: "Total orders rejected, by reason kind.",
		}, []string{"kind"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_executions_total",
			Help: "Total executions produced by the matching engine, by symbol.",
		}, []string{"symbol"}),
		MatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradingcore_match_latency_seconds",
			Help:    "Time spent inside a single symbol worker's Match call.",
			Buckets: prometheus.DefBuckets,
		}),

		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_settlements_total",
			Help: "Total settlement attempts, by outcome.",
		}, []string{"outcome"}),

		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_events_published_total",
			Help: "Total events published on the event bus, by kind.",
		}, []string{"kind"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_events_dropped_total",
			Help: "Total events dropped because a subscriber's queue was full, by kind.",
		}, []string{"kind"}),
		SubscribersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradingcore_subscribers_evicted_total",
			Help: "Total subscribers evicted for falling behind the event bus.",
		}),

		WebhookDeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingcore_webhook_deliveries_total",
			Help: "Total webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersAdmittedTotal,
		m.OrdersRejectedTotal,
		m.ExecutionsTotal,
		m.MatchLatency,
		m.SettlementsTotal,
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.SubscribersEvicted,
		m.WebhookDeliveryTotal,
	)

	return m
}
