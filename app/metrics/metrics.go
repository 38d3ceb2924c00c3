package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_polls_total",
		Help: "Stream polls by result (ok, not_modified, failed)",
	}, []string{"result"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rss_streams_poll_duration_seconds",
		Help:    "Time spent fetching and ingesting one stream",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_poll_cycles_total",
		Help: "Poll cycles by outcome (polled, idle, disabled)",
	}, []string{"outcome"})

	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_items_ingested_total",
		Help: "Newly persisted items by ingestion path",
	}, []string{"path"})

	EntriesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_entries_skipped_total",
		Help: "Entries not persisted by reason (duplicate, unidentifiable)",
	}, []string{"reason"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_notifications_total",
		Help: "Activity notifications by result",
	}, []string{"result"})

	HubCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_hub_callbacks_total",
		Help: "PubSubHubbub callbacks by kind and result",
	}, []string{"kind", "result"})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_streams_tasks_total",
		Help: "Background tasks by type and result",
	}, []string{"type", "result"})
)
