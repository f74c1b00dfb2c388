package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "jobs_submitted_total",
		Help:      "Total number of download jobs submitted.",
	})

	JobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "jobs_finished_total",
		Help:      "Total number of download jobs that reached a terminal state, by status.",
	}, []string{"status"})

	ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hlsdm",
		Name:      "active_jobs",
		Help:      "Number of jobs currently resolving, downloading or assembling.",
	})

	QueuedJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hlsdm",
		Name:      "queued_jobs",
		Help:      "Number of jobs waiting for a free slot.",
	})

	SegmentFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "segment_fetches_total",
		Help:      "Total number of segments fetched, by result (ok, failed).",
	}, []string{"result"})

	SegmentRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "segment_retries_total",
		Help:      "Total number of segment fetch retries.",
	})

	SegmentAttemptFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "segment_attempt_failures_total",
		Help:      "Total number of failed segment fetch attempts, by failure class.",
	}, []string{"class"})

	SegmentFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hlsdm",
		Name:      "segment_fetch_duration_seconds",
		Help:      "Duration of single segment fetch attempts in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	BatchCooldownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "batch_cooldowns_total",
		Help:      "Total number of cooldowns after a batch without any successful segment.",
	})

	BytesAssembledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "bytes_assembled_total",
		Help:      "Total number of segment bytes written to artifacts.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlsdm",
		Name:      "http_requests_total",
		Help:      "Total API requests by method, route and status code.",
	}, []string{"method", "route", "status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		JobsSubmittedTotal,
		JobsFinishedTotal,
		ActiveJobs,
		QueuedJobs,
		SegmentFetchesTotal,
		SegmentRetriesTotal,
		SegmentAttemptFailuresTotal,
		SegmentFetchDuration,
		BatchCooldownsTotal,
		BytesAssembledTotal,
		HTTPRequestsTotal,
	)
}
