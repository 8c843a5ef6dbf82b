package job

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects per-operation job outcomes and latency.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewMetrics registers job metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plateful_worker_jobs_total",
			Help: "Jobs processed by operation type and outcome.",
		}, []string{"type", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plateful_worker_job_duration_seconds",
			Help:    "Job execution latency by operation type.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"type"}),
	}
}

func (m *Metrics) observe(t Type, outcome string, d time.Duration) {
	m.jobsTotal.WithLabelValues(string(t), outcome).Inc()
	m.jobDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}
