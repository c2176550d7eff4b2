package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/auditfile/internal/audit/domain"
	"github.com/smallbiznis/auditfile/internal/config"
	obslogger "github.com/smallbiznis/auditfile/internal/observability/logger"
	obstracing "github.com/smallbiznis/auditfile/internal/observability/tracing"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           cfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config) *gin.Engine {
	if !cfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(cfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Engine   *gin.Engine
	Config   config.Config
	Log      *zap.Logger
	Reports  reportdomain.Service
	AuditSvc auditdomain.Service
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	reports  reportdomain.Service
	auditSvc auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		log:      p.Log.Named("http.server"),
		reports:  p.Reports,
		auditSvc: p.AuditSvc,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/v1")

	reports := api.Group("/reports")
	reports.POST("", s.CreateReport)
	reports.GET("", s.ListReports)
	reports.GET("/:id", s.GetReport)
	reports.DELETE("/:id", s.DeleteReport)

	reports.GET("/:id/records", s.ListRecords)
	reports.POST("/:id/records/sales", s.AddSaleRecord)
	reports.POST("/:id/records/purchases", s.AddPurchaseRecord)
	reports.POST("/:id/import", s.ImportFromLedger)
	reports.PUT("/:id/declaration", s.UpdateDeclaration)

	reports.POST("/:id/generate", s.GenerateXML)
	reports.GET("/:id/xml", s.DownloadXML)
	reports.POST("/:id/validate", s.ValidateReport)
	reports.POST("/:id/sign", s.SignReport)
	reports.POST("/:id/submit", s.SubmitReport)
	reports.GET("/:id/status", s.CheckStatus)
	reports.GET("/:id/receipt", s.DownloadReceipt)
	reports.POST("/:id/corrections", s.CreateCorrection)

	api.GET("/audit-logs", s.ListAuditLogs)
}
