package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayCallsTotal tracks outbound central API calls by endpoint and outcome
	RelayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_calls_total",
			Help: "Total number of calls made to the central ledger API",
		},
		[]string{"endpoint", "outcome"},
	)

	// RelayLatency tracks central API call latency
	RelayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_relay_latency_seconds",
			Help:    "Central ledger API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// QueueDepth is the number of operations waiting in the local queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Number of operations pending in the durable local queue",
		},
	)

	// QueueEnqueuedTotal counts operations that fell back to the local queue
	QueueEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_queue_enqueued_total",
			Help: "Total number of operations queued after a failed relay attempt",
		},
		[]string{"kind"},
	)

	// FlushCyclesTotal counts flush loop cycles
	FlushCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_flush_cycles_total",
			Help: "Total number of flush cycles run",
		},
	)

	// FlushReplayedTotal counts queued operations replayed by outcome
	FlushReplayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_flush_replayed_total",
			Help: "Total number of queued operations replayed",
		},
		[]string{"outcome"},
	)

	// RealtimeWaitsTotal counts completed customer waits by how they resolved
	RealtimeWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_realtime_waits_total",
			Help: "Total number of realtime waits by resolution",
		},
		[]string{"resolution"},
	)

	// RealtimePendingWaiters is the number of waiters registered in the listener registry
	RealtimePendingWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_realtime_pending_waiters",
			Help: "Number of pending waiters in the listener registry",
		},
	)

	// RealtimeNotificationsTotal counts inbound channel messages
	RealtimeNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_realtime_notifications_total",
			Help: "Total number of notification channel messages received",
		},
		[]string{"result"},
	)

	// RealtimeClaimsTotal counts persisted-event claim attempts
	RealtimeClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_realtime_claims_total",
			Help: "Total number of persisted event claim attempts",
		},
		[]string{"result"},
	)

	// SubscriberState reports the notification subscriber state (0 disconnected, 1 connecting, 2 subscribed, -1 disabled)
	SubscriberState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_realtime_subscriber_state",
			Help: "Notification channel subscriber state",
		},
	)

	// SubscriberReconnectsTotal counts scheduled reconnects
	SubscriberReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_realtime_subscriber_reconnects_total",
			Help: "Total number of scheduled notification channel reconnects",
		},
	)

	// DBConnectionPoolUsage tracks event-log connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_db_connection_pool_usage_percent",
			Help: "Event log database connection pool usage percentage",
		},
	)
)
