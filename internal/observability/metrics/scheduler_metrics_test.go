package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerMetricsRecordsJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg, Config{Environment: "test"})

	m.ObserveJob("poll_submissions", 2*time.Second, 3)
	m.ObserveJob("poll_submissions", time.Second, 0)
	m.IncError("poll_submissions", SchedulerReasonRetryable)
	m.IncError("poll_submissions", "")
	m.IncTimeout("detect_stuck")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("poll_submissions")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.itemsProcessed.WithLabelValues("poll_submissions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("poll_submissions", SchedulerReasonUnknown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTimeouts.WithLabelValues("detect_stuck")))
}

func TestSchedulerMetricsStuckGaugeResets(t *testing.T) {
	m := NewSchedulerMetrics(prometheus.NewRegistry(), Config{})
	statuses := []string{"SIGNING", "SUBMITTING"}

	m.SetStuck(statuses, map[string]int{"SUBMITTING": 2})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stuckReports.WithLabelValues("SUBMITTING")))

	m.SetStuck(statuses, map[string]int{})
	assert.Zero(t, testutil.ToFloat64(m.stuckReports.WithLabelValues("SUBMITTING")))
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.ObserveJob("x", time.Second, 1)
		m.IncError("x", SchedulerReasonFatal)
		m.IncTimeout("x")
		m.SetStuck([]string{"SIGNING"}, nil)
	})
}
