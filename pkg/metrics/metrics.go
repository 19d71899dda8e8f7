package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Dispatch metrics
	NotificationsDispatched *prometheus.CounterVec
	NotificationsFailed     *prometheus.CounterVec
	NotificationsDeadLetter prometheus.Counter
	NotificationsCancelled  prometheus.Counter
	NotificationsStale      prometheus.Counter
	DispatchQueueDepth      prometheus.Gauge
	ChannelSendLatency      *prometheus.HistogramVec
	RetriesScheduled        prometheus.Counter

	// Rate limiting and batching
	RateLimitSkips *prometheus.CounterVec
	BatchFlushes   *prometheus.CounterVec
	BatchSize      prometheus.Histogram

	// Sweep metrics
	RemindersComposed prometheus.Counter
	SweepDuration     *prometheus.HistogramVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all pipeline metrics
func New(namespace string) *Metrics {
	return &Metrics{
		NotificationsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Total number of notifications delivered, by channel",
		}, []string{"channel"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of failed channel send attempts, by channel",
		}, []string{"channel"}),
		NotificationsDeadLetter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dead_lettered_total",
			Help:      "Total number of notifications that exhausted all retries",
		}),
		NotificationsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_cancelled_total",
			Help:      "Total number of reminders invalidated before dispatch",
		}),
		NotificationsStale: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_stale_dropped_total",
			Help:      "Total number of entries dropped past the staleness horizon",
		}),
		DispatchQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Current number of notifications waiting for dispatch",
		}),
		ChannelSendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_send_duration_seconds",
			Help:      "Duration of channel send attempts",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of retry attempts scheduled",
		}),
		RateLimitSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_skips_total",
			Help:      "Total number of sends skipped by the per-recipient rate limiter",
		}, []string{"channel"}),
		BatchFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Total number of batch window flushes, by trigger",
		}, []string{"trigger"}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_flush_size",
			Help:      "Number of notifications coalesced per flush",
			Buckets:   []float64{1, 2, 3, 4, 5, 10},
		}),
		RemindersComposed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_composed_total",
			Help:      "Total number of due-dose reminders composed",
		}),
		SweepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic sweeps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
