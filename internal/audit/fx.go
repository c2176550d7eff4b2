package audit

import (
	"github.com/smallbiznis/auditfile/internal/audit/domain"
	"github.com/smallbiznis/auditfile/internal/audit/repository"
	"github.com/smallbiznis/auditfile/internal/audit/service"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) reportdomain.AuditLogger { return svc }),
)
