package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerReasonDeadline  = "deadline_exceeded"
	SchedulerReasonRetryable = "upstream_retryable"
	SchedulerReasonUpstream  = "upstream_failure"
	SchedulerReasonFatal     = "fatal"
	SchedulerReasonUnknown   = "unknown"
)

// SchedulerMetrics exposes background job health on /metrics.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	stuckReports   *prometheus.GaugeVec
}

var (
	schedulerOnce    sync.Once
	schedulerMetrics *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics registered on the
// default prometheus registry.
func Scheduler(cfg Config) *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerMetrics = NewSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	env := cfg.Environment
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"env": env}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auditfile_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "auditfile_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auditfile_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs cut short by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auditfile_scheduler_job_errors_total",
			Help:        "Scheduler item failures by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "auditfile_scheduler_items_processed_total",
			Help:        "Reports handled by scheduler jobs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		stuckReports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "auditfile_reports_stuck",
			Help:        "Reports held in a transient status past the stuck threshold, by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.itemsProcessed, m.stuckReports)
	}
	return m
}

func (m *SchedulerMetrics) ObserveJob(job string, elapsed time.Duration, processed int) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	if processed > 0 {
		m.itemsProcessed.WithLabelValues(job).Add(float64(processed))
	}
}

func (m *SchedulerMetrics) IncTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncError(job, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = SchedulerReasonUnknown
	}
	m.jobErrors.WithLabelValues(job, reason).Inc()
}

// SetStuck replaces the stuck gauge with counts; statuses absent from
// counts are reset to zero.
func (m *SchedulerMetrics) SetStuck(statuses []string, counts map[string]int) {
	if m == nil {
		return
	}
	for _, status := range statuses {
		m.stuckReports.WithLabelValues(status).Set(float64(counts[status]))
	}
}
