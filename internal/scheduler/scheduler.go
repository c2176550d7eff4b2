// Package scheduler runs background jobs over submitted reports: it polls
// the gateway for pending submissions and flags reports stuck in a
// transient status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/auditfile/internal/auditcontext"
	"github.com/smallbiznis/auditfile/internal/clock"
	"github.com/smallbiznis/auditfile/internal/lock"
	obslogger "github.com/smallbiznis/auditfile/internal/observability/logger"
	"github.com/smallbiznis/auditfile/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/pkg/db/option"
	"github.com/smallbiznis/auditfile/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobPollSubmissions = "poll_submissions"
	jobDetectStuck     = "detect_stuck"

	runLockKey = "scheduler:run"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// transientStatuses are entered while a long operation runs.
var transientStatuses = []reportdomain.Status{
	reportdomain.StatusGenerating,
	reportdomain.StatusValidating,
	reportdomain.StatusSigning,
	reportdomain.StatusSubmitting,
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Reports reportdomain.Service
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  Config                    `optional:"true"`
	Locker  *lock.Locker              `optional:"true"`
	Metrics *metrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	reports reportdomain.Service
	locker  *lock.Locker
	metrics *metrics.SchedulerMetrics
	db      *gorm.DB
	store   repository.Repository[reportdomain.Report]
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Reports == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		reports: p.Reports,
		locker:  p.Locker,
		metrics: p.Metrics,
		db:      p.DB,
		store:   repository.ProvideStore[reportdomain.Report](p.DB),
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context, run *jobRun) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, "scheduler")
	run := s.newJobRun(name)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	s.metrics.ObserveJob(name, time.Since(run.startedAt), run.processedCount)
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next tick continues.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job once. With a locker configured only one replica
// runs per tick; the others skip.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, runLockKey, 2*s.cfg.JobTimeout)
		if err != nil {
			return fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			s.log.Debug("scheduler run held by another instance")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), runLockKey, token); err != nil {
				s.log.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}

	var err error
	err = errors.Join(err, s.runJob(ctx, jobPollSubmissions, s.PollSubmissionsJob))
	err = errors.Join(err, s.runJob(ctx, jobDetectStuck, s.DetectStuckJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollSubmissionsJob checks every submitted report awaiting a gateway
// outcome, walking the table in id order one batch at a time.
func (s *Scheduler) PollSubmissionsJob(ctx context.Context, run *jobRun) error {
	var (
		lastID snowflake.ID
		jobErr error
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.store.Find(ctx,
			&reportdomain.Report{Status: reportdomain.StatusSubmitted},
			option.WithWhere("id > ?", lastID),
			option.WithWhere("reference_id IS NOT NULL AND reference_id <> ''"),
			option.WithOrder("id ASC"),
			option.WithLimit(s.cfg.BatchSize),
		)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(batch) == 0 {
			return jobErr
		}

		for _, report := range batch {
			lastID = report.ID
			result, err := s.reports.CheckStatus(ctx, report.ID)
			if err != nil {
				s.logReportError(ctx, run, "scheduler.poll.failed", report, err)
				if !reportdomain.IsRetryable(err) && !errors.Is(err, reportdomain.ErrPreconditionFailed) {
					jobErr = errors.Join(jobErr, err)
				}
				continue
			}
			run.AddProcessed(1)
			if result.Changed {
				run.AddChanged(1)
				s.logger(ctx).Info("scheduler.poll.outcome",
					zap.String("report_id", report.ID.String()),
					zap.String("status", string(result.Status)),
				)
			}
		}
		if len(batch) < s.cfg.BatchSize {
			return jobErr
		}
	}
}

// DetectStuckJob reports transient statuses older than StuckAfter. They are
// not reset automatically: a crash during SUBMITTING may have reached the
// gateway, so an operator decides.
func (s *Scheduler) DetectStuckJob(ctx context.Context, run *jobRun) error {
	cutoff := s.clock.Now().Add(-s.cfg.StuckAfter)
	stuck, err := s.store.Find(ctx, &reportdomain.Report{},
		option.WithWhere("status IN ?", transientStatuses),
		option.WithWhere("updated_at < ?", cutoff),
		option.WithOrder("updated_at ASC"),
		option.WithLimit(s.cfg.BatchSize),
	)
	if err != nil {
		return err
	}
	if err := s.recordStuckCounts(ctx, cutoff); err != nil {
		return err
	}
	for _, report := range stuck {
		run.AddProcessed(1)
		s.logger(ctx).Warn("scheduler.report.stuck",
			zap.String("report_id", report.ID.String()),
			zap.String("status", string(report.Status)),
			zap.Time("updated_at", report.UpdatedAt),
			zap.Duration("age", s.clock.Now().Sub(report.UpdatedAt)),
		)
	}
	return nil
}

func (s *Scheduler) recordStuckCounts(ctx context.Context, cutoff time.Time) error {
	if s.metrics == nil {
		return nil
	}
	var rows []struct {
		Status reportdomain.Status
		Total  int
	}
	err := s.db.WithContext(ctx).
		Model(&reportdomain.Report{}).
		Select("status, COUNT(*) AS total").
		Where("status IN ? AND updated_at < ?", transientStatuses, cutoff).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	statuses := make([]string, 0, len(transientStatuses))
	for _, status := range transientStatuses {
		statuses = append(statuses, string(status))
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[string(row.Status)] = row.Total
	}
	s.metrics.SetStuck(statuses, counts)
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
