package router

import (
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"github.com/erp/crmsync/internal/interfaces/http/handler"
	"github.com/erp/crmsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies are the handlers and instrumentation the services server
// is assembled from
type Dependencies struct {
	Logger        *zap.Logger
	Leads         *handler.LeadHandler
	Dashboard     *handler.DashboardHandler
	System        *handler.SystemHandler
	MeterProvider *telemetry.MeterProvider
	Tracing       middleware.TracingConfig
}

// NewEngine builds the gin engine serving the lead and dashboard API
func NewEngine(deps Dependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(deps.Tracing))
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.GinMiddleware(log, logger.WithSkipPaths("/health")))
	engine.Use(middleware.HTTPMetrics(deps.MeterProvider, log))

	if deps.System != nil {
		engine.GET("/health", deps.System.Health)
	}

	r := NewRouter(engine, WithAPIVersion("v1"))

	if deps.Leads != nil {
		leads := NewDomainGroup("leads", "/leads")
		leads.GET("", deps.Leads.List)
		leads.POST("", deps.Leads.Create)
		leads.GET("/:id", deps.Leads.Get)
		leads.PATCH("/:id", deps.Leads.UpdateFields)
		leads.PATCH("/:id/assignee", deps.Leads.UpdateAssignee)
		leads.PATCH("/:id/status", deps.Leads.UpdateStatus)
		leads.PATCH("/:id/column", deps.Leads.MoveToColumn)
		r.Register(leads)
	}

	if deps.Dashboard != nil {
		dash := NewDomainGroup("dashboard", "/dashboard")
		dash.GET("/stats", deps.Dashboard.Stats)
		dash.GET("/pipeline", deps.Dashboard.Pipeline)
		dash.GET("/status", deps.Dashboard.StatusBreakdown)
		r.Register(dash)
	}

	if deps.System != nil {
		system := NewDomainGroup("system", "/system")
		system.GET("/info", deps.System.GetSystemInfo)
		r.Register(system)
	}

	r.Setup()
	return engine
}
