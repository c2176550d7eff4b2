package report

import (
	"github.com/smallbiznis/auditfile/internal/report/repository"
	"github.com/smallbiznis/auditfile/internal/report/service"
	"github.com/smallbiznis/auditfile/internal/report/validation"
	"go.uber.org/fx"
)

var Module = fx.Module("report.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(validation.NewEngine),
	fx.Provide(service.NewService),
)
