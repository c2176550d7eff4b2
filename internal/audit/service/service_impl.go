package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/auditfile/internal/audit/domain"
	"github.com/smallbiznis/auditfile/internal/audit/masking"
	"github.com/smallbiznis/auditfile/internal/auditcontext"
	"github.com/smallbiznis/auditfile/internal/clock"
	obslogger "github.com/smallbiznis/auditfile/internal/observability/logger"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

// Service writes the append-only trail of report actions.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

const (
	defaultPageSize = 50
	maxPageSize     = 250

	resourceReport = "report"
)

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Log persists entry. Actor and, for report actions, the resource id fall
// back to the values carried by ctx.
func (s *Service) Log(ctx context.Context, entry reportdomain.AuditEntry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	actorID := strings.TrimSpace(entry.ActorID)
	if actorID == "" {
		actorID = auditcontext.ActorFromContext(ctx)
	}
	resourceType := strings.TrimSpace(entry.ResourceType)
	if resourceType == "" {
		resourceType = "unknown"
	}
	resourceID := strings.TrimSpace(entry.ResourceID)
	if resourceID == "" && resourceType == resourceReport {
		resourceID = auditcontext.ReportFromContext(ctx)
	}

	log := auditdomain.AuditLog{
		ID:           s.genID.Generate(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     datatypes.JSONMap(masking.MaskTaxIDs(entry.Metadata)),
		CreatedAt:    s.clock.Now().UTC(),
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		log.IPAddress = &ip
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		log.RequestID = &requestID
	}

	if err := s.repo.Insert(ctx, s.db, &log); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.Since != nil && req.Until != nil && !req.Since.Before(*req.Until) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	after, err := pagination.DecodeToken(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	pageSize := pagination.Size(req.PageSize, defaultPageSize, maxPageSize)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		ActorID:      req.ActorID,
		Since:        req.Since,
		Until:        req.Until,
		CursorID:     snowflake.ID(after),
		Limit:        pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(item *auditdomain.AuditLog) int64 { return item.ID.Int64() })
	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	return auditdomain.ListAuditLogResponse{AuditLogs: logs, PageInfo: pageInfo}, nil
}
