package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teeflow_events_total",
			Help: "Inbound events by source and classified type",
		},
		[]string{"source", "type"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teeflow_transitions_total",
			Help: "Accepted booking status transitions",
		},
		[]string{"from", "to"},
	)

	TransitionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teeflow_transitions_rejected_total",
			Help: "Transitions rejected because the edge is not permitted",
		},
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teeflow_duplicates_suppressed_total",
			Help: "Events dropped by the idempotency guard",
		},
	)

	AvailabilityRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teeflow_availability_retries_total",
			Help: "Transient availability gateway failures that were retried",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teeflow_outbox_lag_seconds",
			Help: "Age of the oldest unpublished notification record",
		},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teeflow_notifications_dispatched_total",
			Help: "Notification outcomes handed to the dispatcher",
		},
		[]string{"kind"},
	)
)
