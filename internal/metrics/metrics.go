package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_messages_sent_total",
			Help: "Total messages appended",
		},
		[]string{"visibility"}, // "public" or "private"
	)

	ReadReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_read_receipts_total",
			Help: "Read receipt writes by outcome",
		},
		[]string{"result"},
	)

	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_notifications_enqueued_total",
			Help: "Mention notification requests by outcome",
		},
		[]string{"result"},
	)

	// Realtime metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twilight_active_sessions",
			Help: "Connected websocket sessions",
		},
	)

	PresenceSyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "twilight_presence_syncs_total",
			Help: "Full membership syncs applied by trackers",
		},
	)

	FeedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "twilight_feed_dropped_total",
			Help: "Change feed events dropped for slow subscribers",
		},
	)

	FeedResyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_feed_resyncs_total",
			Help: "Scope reloads after a subscriber lagged behind the change feed",
		},
		[]string{"result"},
	)

	EnrichmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_enrichment_fallbacks_total",
			Help: "Point lookups for change events without sender metadata",
		},
		[]string{"result"},
	)

	DirectoryBackfills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twilight_directory_backfills_total",
			Help: "Directory profile fetches for unknown senders",
		},
		[]string{"result"},
	)
)
