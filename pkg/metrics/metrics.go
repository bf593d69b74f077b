package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Campaign metrics
	CallsPlaced       prometheus.Counter
	CallOutcomes      *prometheus.CounterVec
	RemoteErrors      *prometheus.CounterVec
	PollDuration      prometheus.Histogram
	PoolRemaining     prometheus.Gauge
	CampaignRunning   prometheus.Gauge
	CampaignsFinished prometheus.Counter

	// Archive worker metrics
	ArchiveProcessed prometheus.Counter
	ArchiveFailed    prometheus.Counter
	ArchiveLatency   prometheus.Histogram
	ArchiveRetries   prometheus.Counter

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisLatency    *prometheus.HistogramVec
}

// NewMetrics creates all application metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CallsPlaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "calls_placed_total",
			Help:      "Total number of outbound calls created",
		}),
		CallOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "call_outcomes_total",
			Help:      "Recorded call outcomes by tag",
		}, []string{"outcome"}),
		RemoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "remote_errors_total",
			Help:      "Failed requests to the calling service",
		}, []string{"operation"}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "call_wait_duration_seconds",
			Help:      "Time spent waiting for a call to finish",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 600},
		}),
		PoolRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "open_slots",
			Help:      "Appointment slots still available",
		}),
		CampaignRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "running",
			Help:      "1 while a campaign is in progress",
		}),
		CampaignsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "finished_total",
			Help:      "Campaign runs that reached their end",
		}),

		ArchiveProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "outcomes_processed_total",
			Help:      "Outcomes written to the archive",
		}),
		ArchiveFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "outcomes_failed_total",
			Help:      "Outcomes that could not be archived",
		}),
		ArchiveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "processing_duration_seconds",
			Help:      "Time spent archiving an outcome",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ArchiveRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts while archiving outcomes",
		}),

		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
		RedisLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),
	}
}
