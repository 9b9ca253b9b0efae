// Package metrics exposes Prometheus instrumentation for the moderation
// pipeline. Label cardinality is kept bounded: event kinds and reply types
// are small closed sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsIngested counts domain events written to the queue, by the raw
	// update kind they were derived from.
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "welcomebot_events_ingested_total",
			Help: "Domain events enqueued from inbound updates.",
		},
		[]string{"kind"},
	)

	// EventsProcessed counts queue events by type and final outcome
	// ("ok" or "error").
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "welcomebot_events_processed_total",
			Help: "Queue events processed, by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	// QueueDepth gauges events still waiting (NEW plus IN_PROGRESS).
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "welcomebot_queue_depth",
			Help: "Events pending in the durable queue.",
		},
	)

	// Kicks counts kick attempts by outcome ("kicked", "dark_launch",
	// "failed").
	Kicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "welcomebot_kicks_total",
			Help: "Kick attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// RepliesSent counts outbound templated messages by reply type.
	RepliesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "welcomebot_replies_sent_total",
			Help: "Templated bot replies sent, by reply type.",
		},
		[]string{"reply_type"},
	)

	// BotMessagesDeleted counts messages removed by the retention sweep.
	BotMessagesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "welcomebot_bot_messages_deleted_total",
			Help: "Bot messages deleted by the retention sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsIngested,
		EventsProcessed,
		QueueDepth,
		Kicks,
		RepliesSent,
		BotMessagesDeleted,
	)
}
