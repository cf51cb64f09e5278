package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"service_type"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of order creations that failed",
	}, []string{"reason"})

	OrdersCanceledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_canceled_total",
		Help: "Total number of canceled orders",
	}, []string{"service_type"})

	OrdersRescheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rescheduled_total",
		Help: "Total number of rescheduled orders",
	}, []string{"service_type", "strategy"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of applied order status transitions",
	}, []string{"service_type", "from", "to"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected order status transitions",
	}, []string{"service_type", "to"})

	CapacityReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capacity_reserve_latency_seconds",
		Help:    "Latency of slot capacity reservations",
		Buckets: prometheus.DefBuckets,
	})

	CapacityReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capacity_reservations_total",
		Help: "Slot reservation attempts by outcome",
	}, []string{"service_type", "outcome"})

	CapacityReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capacity_releases_total",
		Help: "Total number of slot releases",
	}, []string{"service_type"})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compensations_total",
		Help: "Compensating actions run after a partial failure",
	}, []string{"operation", "outcome"})

	PaymentAutoChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_auto_charges_total",
		Help: "Off-session charge attempts by outcome",
	}, []string{"outcome"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of charge requests to the payment provider",
		Buckets: prometheus.DefBuckets,
	})

	PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Inbound payment provider events by type and outcome",
	}, []string{"type", "outcome"})

	PaymentRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_retries_total",
		Help: "Scheduled payment retries by outcome",
	}, []string{"outcome"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notifications that could not be handed off",
	}, []string{"kind"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_limited_requests_total",
		Help: "Requests rejected by the booking rate limiter",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
