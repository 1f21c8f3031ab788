package observability

// Pipeline metrics. HTTP metrics live in the middleware package.
//
// Labels are limited to bounded sets (outcome, status, kind). Hotel ids are
// deliberately absent: the number of hotels is unbounded.

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

var (
	// JobsDispatched counts dispatch decisions by outcome:
	// enqueued, merged (piggybacked on an in-flight job), empty, failed,
	// follow_up (failed triples) and remainder (timed-out jobs).
	JobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rates_jobs_dispatched_total",
			Help: "Recomputation dispatch decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// JobsFinished counts jobs leaving the processing state, by resulting status.
	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rates_jobs_finished_total",
			Help: "Recomputation jobs finished by resulting status.",
		},
		[]string{"status"},
	)

	// JobDuration observes wall time spent processing one job.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rates_job_duration_seconds",
			Help:    "Time spent processing a recomputation job.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// TriplesProcessed counts composed triples by outcome: upserted, stale
	// (CAS lost to a newer snapshot), failed.
	TriplesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rates_triples_total",
			Help: "Composed (room product, rate plan, date) triples by outcome.",
		},
		[]string{"outcome"},
	)

	// DeadLettered counts jobs moved to dead_lettered. Alert on any increase.
	DeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rates_jobs_dead_lettered_total",
			Help: "Recomputation jobs moved to dead letter.",
		},
	)

	// RuleMutations counts accepted rule writes by kind and operation.
	RuleMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rates_rule_mutations_total",
			Help: "Accepted pricing rule mutations.",
		},
		[]string{"kind", "op"},
	)

	// QueueDepth gauges jobs per status, refreshed by the worker pool.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rates_queue_jobs",
			Help: "Recomputation jobs per status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(JobsDispatched, JobsFinished, JobDuration, TriplesProcessed, DeadLettered, RuleMutations, QueueDepth)
}

// SetQueueDepth publishes a status histogram of the queue. Statuses absent
// from depth are reset to zero.
func SetQueueDepth(depth map[domain.JobStatus]int64) {
	for _, st := range []domain.JobStatus{
		domain.JobQueued, domain.JobProcessing, domain.JobCompleted,
		domain.JobCompletedWithErrors, domain.JobFailed, domain.JobDeadLettered,
	} {
		QueueDepth.WithLabelValues(string(st)).Set(float64(depth[st]))
	}
}
