package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "batchinfer"

var (
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of batch jobs submitted to the inference service.",
		},
		[]string{"model"},
	)

	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of batch jobs observed in a terminal state.",
		},
		[]string{"model", "status"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of job status polls, labeled by observed status.",
		},
		[]string{"status"},
	)

	RecordsRetrievedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_retrieved_total",
			Help:      "Total number of output records parsed from completed jobs.",
		},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total token usage reported by job manifests, labeled by direction.",
		},
		[]string{"direction"},
	)

	JobWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_wait_seconds",
			Help:      "Time spent waiting for a job to reach a terminal state (seconds).",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsFinishedTotal,
		PollsTotal,
		RecordsRetrievedTotal,
		TokensTotal,
		JobWaitSeconds,
	)
}
