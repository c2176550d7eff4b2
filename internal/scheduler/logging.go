package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/auditfile/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	startedAt      time.Time
	processedCount int
	changedCount   int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) AddChanged(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.changedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) newJobRun(job string) *jobRun {
	return &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: time.Now(),
	}
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", s.cfg.BatchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("changed_count", run.changedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logReportError(ctx context.Context, run *jobRun, msg string, report *reportdomain.Report, err error) {
	run.IncError()
	s.metrics.IncError(run.job, errorReason(err))
	s.logger(ctx).Error(msg,
		zap.String("job", run.job),
		zap.String("report_id", report.ID.String()),
		zap.String("status", string(report.Status)),
		zap.Bool("retryable", reportdomain.IsRetryable(err)),
		zap.Error(err),
	)
}

func errorReason(err error) string {
	var upstream *reportdomain.UpstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.SchedulerReasonDeadline
	case errors.As(err, &upstream) && upstream.Retryable:
		return metrics.SchedulerReasonRetryable
	case errors.As(err, &upstream):
		return metrics.SchedulerReasonUpstream
	case errors.Is(err, reportdomain.ErrFatal):
		return metrics.SchedulerReasonFatal
	default:
		return metrics.SchedulerReasonUnknown
	}
}
