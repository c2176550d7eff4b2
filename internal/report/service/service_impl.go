package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/auditfile/internal/auditcontext"
	"github.com/smallbiznis/auditfile/internal/clock"
	"github.com/smallbiznis/auditfile/internal/config"
	obslogger "github.com/smallbiznis/auditfile/internal/observability/logger"
	"github.com/smallbiznis/auditfile/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/internal/report/validation"
	"github.com/smallbiznis/auditfile/pkg/db"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	cleanupTimeout = 10 * time.Second
	pollTimeout    = 30 * time.Second

	defaultPageSize = 50
	maxPageSize     = 250
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Repo      reportdomain.Repository
	Validator *validation.Engine

	Registry  reportdomain.ClientRegistry
	Ledger    reportdomain.TransactionLedger
	Signer    reportdomain.SignatureProvider
	Gateway   reportdomain.SubmissionGateway
	Artifacts reportdomain.ArtifactStore
	Receipts  reportdomain.ReceiptRenderer

	Audit   reportdomain.AuditLogger    `optional:"true"`
	Events  reportdomain.EventPublisher `optional:"true"`
	Metrics *metrics.Metrics            `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	systemName string
	repo       reportdomain.Repository
	engine     *validation.Engine
	validate   *validator.Validate

	registry  reportdomain.ClientRegistry
	ledger    reportdomain.TransactionLedger
	signer    reportdomain.SignatureProvider
	gateway   reportdomain.SubmissionGateway
	artifacts reportdomain.ArtifactStore
	receipts  reportdomain.ReceiptRenderer

	audit   reportdomain.AuditLogger
	events  reportdomain.EventPublisher
	metrics *metrics.Metrics

	polls       singleflight.Group
	pollTimeout time.Duration
}

func NewService(p ServiceParam) reportdomain.Service {
	systemName := strings.TrimSpace(p.Config.AppName)
	if systemName == "" {
		systemName = "auditfile"
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	timeout := p.Config.Gateway.Timeout
	if timeout <= 0 {
		timeout = pollTimeout
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("report.service"),
		genID:      p.GenID,
		clock:      c,
		systemName: systemName,
		repo:       p.Repo,
		engine:     p.Validator,
		validate:   newValidator(),

		registry:  p.Registry,
		ledger:    p.Ledger,
		signer:    p.Signer,
		gateway:   p.Gateway,
		artifacts: p.Artifacts,
		receipts:  p.Receipts,

		audit:   p.Audit,
		events:  p.Events,
		metrics: p.Metrics,

		pollTimeout: timeout,
	}
}

func (s *Service) Create(ctx context.Context, req reportdomain.CreateReportRequest) (*reportdomain.Report, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if err := s.validate.Struct(req); err != nil {
		return nil, createRequestError(err)
	}

	period := reportdomain.Period{Kind: req.Kind, Year: req.Year, Month: req.Month, Quarter: req.Quarter}
	if err := period.Validate(); err != nil {
		return nil, err
	}

	taxpayer, err := s.registry.Lookup(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, reportdomain.ErrNotFound) {
			return nil, reportdomain.ErrClientNotFound
		}
		return nil, err
	}

	now := s.clock.Now()
	report := &reportdomain.Report{
		ID:          s.genID.Generate(),
		ClientID:    req.ClientID,
		FilerTaxID:  strings.TrimSpace(taxpayer.TaxID),
		FilerName:   strings.TrimSpace(taxpayer.LegalName),
		Kind:        req.Kind,
		Status:      reportdomain.StatusDraft,
		Year:        req.Year,
		PeriodKey:   period.Key(),
		Purpose:     reportdomain.PurposeFirst,
		Declaration: datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Kind == reportdomain.KindQuarterly {
		q := req.Quarter
		report.Quarter = &q
	} else {
		m := req.Month
		report.Month = &m
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindActiveFirst(ctx, tx, report.ClientID, report.Kind, report.PeriodKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: report %s already covers %s %s", reportdomain.ErrConflict, existing.ID, report.Kind, report.PeriodKey)
		}
		return s.repo.Insert(ctx, tx, report)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: a filing already covers %s %s", reportdomain.ErrConflict, report.Kind, report.PeriodKey)
		}
		return nil, err
	}

	s.metrics.RecordReportCreated(ctx, string(report.Kind), string(report.Purpose))
	s.emitAudit(ctx, "report.created", report, map[string]any{
		"client_id":    report.ClientID,
		"filer_tax_id": report.FilerTaxID,
		"kind":         report.Kind,
		"period":       report.PeriodKey,
	})
	s.reportLogger(ctx, report).Info("report created",
		zap.String("client_id", report.ClientID),
		zap.String("period", report.PeriodKey),
	)
	return report, nil
}

func createRequestError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "ClientID":
			return fmt.Errorf("%w: %s", reportdomain.ErrInvalidClient, verrs[0].Tag())
		case "Kind":
			return reportdomain.ErrInvalidKind
		default:
			return fmt.Errorf("%w: %s %s", reportdomain.ErrInvalidPeriod, verrs[0].Field(), verrs[0].Tag())
		}
	}
	return fmt.Errorf("%w: %v", reportdomain.ErrInvalidPeriod, err)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*reportdomain.Report, error) {
	return s.load(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, req reportdomain.ListReportRequest) (reportdomain.ListReportResponse, error) {
	after, err := pagination.DecodeToken(req.PageToken)
	if err != nil {
		return reportdomain.ListReportResponse{}, reportdomain.ErrInvalidPageToken
	}
	pageSize := pagination.Size(req.PageSize, defaultPageSize, maxPageSize)

	items, err := s.repo.List(ctx, s.db, reportdomain.ListFilter{
		ClientID: strings.TrimSpace(req.ClientID),
		Kind:     req.Kind,
		Status:   req.Status,
		Purpose:  req.Purpose,
		CursorID: snowflake.ID(after),
		Limit:    pageSize,
	})
	if err != nil {
		return reportdomain.ListReportResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(r *reportdomain.Report) int64 { return r.ID.Int64() })
	reports := make([]reportdomain.Report, 0, len(items))
	for _, item := range items {
		reports = append(reports, *item)
	}
	return reportdomain.ListReportResponse{Reports: reports, PageInfo: pageInfo}, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return err
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpDelete); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, s.db, id, report.Status); err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return s.staleError(ctx, id, reportdomain.OpDelete)
		}
		return err
	}

	s.removeArtifacts(ctx, report.XMLPath, report.SignedPath)
	s.emitAudit(ctx, "report.deleted", report, map[string]any{"status": report.Status})
	return nil
}

func (s *Service) load(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*reportdomain.Report, error) {
	if id == 0 {
		return nil, reportdomain.ErrInvalidReportID
	}
	report, err := s.repo.FindByID(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, reportdomain.ErrReportNotFound
	}
	return report, nil
}

// staleError reloads the report after a failed conditional write so the
// caller sees the status that won the race.
func (s *Service) staleError(ctx context.Context, id snowflake.ID, op reportdomain.Operation) error {
	current, err := s.load(ctx, s.db, id)
	if err != nil {
		return err
	}
	return &reportdomain.TransitionError{
		Op:       op,
		Current:  current.Status,
		Required: reportdomain.RequiredStatuses(op),
		Message:  "report changed concurrently",
	}
}

// settle commits the final status of an operation and announces the change
// from the status the operation started in.
func (s *Service) settle(ctx context.Context, report *reportdomain.Report, origin, from, to reportdomain.Status, fields map[string]any) error {
	if err := s.repo.CompareAndSetStatus(ctx, s.db, report.ID, from, to, fields); err != nil {
		return err
	}
	report.Status = to
	if origin != to {
		s.announce(ctx, report, origin, to)
	}
	return nil
}

func (s *Service) announce(ctx context.Context, report *reportdomain.Report, from, to reportdomain.Status) {
	s.metrics.RecordStatusTransition(ctx, string(from), string(to))
	s.reportLogger(ctx, report).Info("report status changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if s.events == nil {
		return
	}
	_ = s.events.PublishStatusChanged(ctx, reportdomain.StatusChangedEvent{
		ReportID:   report.ID.String(),
		ClientID:   report.ClientID,
		Kind:       report.Kind,
		Period:     report.PeriodKey,
		From:       from,
		To:         to,
		OccurredAt: s.clock.Now(),
	})
}

// revert returns an in-flight report to the status it started in and
// records the failure. It runs detached from ctx so a timed-out request
// still releases the report.
func (s *Service) revert(ctx context.Context, report *reportdomain.Report, inflight, from reportdomain.Status, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := s.repo.CompareAndSetStatus(cctx, s.db, report.ID, inflight, from, map[string]any{
		"last_error": truncate(cause.Error()),
	})
	if err != nil {
		s.reportLogger(ctx, report).Error("failed to release in-flight report",
			zap.String("status", string(inflight)),
			zap.Error(err),
		)
		return
	}
	report.Status = from
	report.LastError = truncate(cause.Error())
	s.reportLogger(ctx, report).Warn("report operation failed",
		zap.String("status", string(from)),
		zap.Bool("retryable", reportdomain.IsRetryable(cause)),
		zap.Error(cause),
	)
}

// fail pushes the report to ERROR after an internal inconsistency and
// returns the cause wrapped as fatal.
func (s *Service) fail(ctx context.Context, report *reportdomain.Report, current, origin reportdomain.Status, cause error) error {
	fatal := cause
	if !errors.Is(cause, reportdomain.ErrFatal) {
		fatal = fmt.Errorf("%w: %v", reportdomain.ErrFatal, cause)
	}
	if !reportdomain.CanTransition(current, reportdomain.StatusError) {
		s.reportLogger(ctx, report).Error("report inconsistency", zap.Error(fatal))
		return fatal
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err := s.settle(cctx, report, origin, current, reportdomain.StatusError, map[string]any{
		"last_error": truncate(fatal.Error()),
	})
	if err != nil {
		s.reportLogger(ctx, report).Error("failed to mark report as errored", zap.Error(err))
	}
	s.reportLogger(ctx, report).Error("report moved to ERROR", zap.Error(fatal))
	return fatal
}

// begin moves the report into the in-flight status of op.
func (s *Service) begin(ctx context.Context, report *reportdomain.Report, op reportdomain.Operation) (reportdomain.Status, error) {
	inflight, _ := reportdomain.InFlightStatus(op)
	if err := s.repo.CompareAndSetStatus(ctx, s.db, report.ID, report.Status, inflight, nil); err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return "", s.staleError(ctx, report.ID, op)
		}
		return "", err
	}
	return inflight, nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// reportLogger tags entries with the report unless ctx already does.
func (s *Service) reportLogger(ctx context.Context, report *reportdomain.Report) *zap.Logger {
	if auditcontext.ReportFromContext(ctx) == "" {
		ctx = auditcontext.WithReport(ctx, report.ID.String())
	}
	return s.logger(ctx)
}

func (s *Service) removeArtifacts(ctx context.Context, paths ...string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := s.artifacts.Delete(cctx, path); err != nil && !errors.Is(err, reportdomain.ErrNotFound) {
			s.logger(ctx).Warn("failed to delete artifact", zap.String("path", path), zap.Error(err))
		}
	}
}

func (s *Service) observe(ctx context.Context, provider, operation string, start time.Time, err error) {
	s.metrics.RecordUpstreamCall(ctx, provider, operation, time.Since(start), err)
}

func (s *Service) emitAudit(ctx context.Context, action string, report *reportdomain.Report, extra map[string]any) {
	if s.audit == nil || report == nil {
		return
	}
	metadata := map[string]any{
		"status": report.Status,
	}
	for key, value := range extra {
		metadata[key] = value
	}
	_ = s.audit.Log(ctx, reportdomain.AuditEntry{
		Action:       action,
		ResourceType: "report",
		ResourceID:   report.ID.String(),
		Metadata:     metadata,
	})
}

func truncate(msg string) string {
	const max = 1000
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("flagcode", func(fl validator.FieldLevel) bool {
		return reportdomain.ValidFlagCode(fl.Field().String())
	})
	return v
}
