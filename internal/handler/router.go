package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/channelworks/partner-sync-api/internal/middleware"
	"github.com/channelworks/partner-sync-api/internal/service"
	"github.com/channelworks/partner-sync-api/pkg/config"
	"github.com/channelworks/partner-sync-api/pkg/logger"
	corsmiddleware "github.com/channelworks/partner-sync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/channelworks/partner-sync-api/pkg/middleware/requestid"

	"go.uber.org/zap"
)

// RouterDeps collects everything the HTTP surface needs.
type RouterDeps struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *service.MetricsService
	Sync        *SyncHandler
	Offboarding *OffboardingHandler
	Ready       func() error
}

// NewRouter assembles the gin engine with middleware and all routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.Config.APIPrefix)
	{
		sync := api.Group("/sync")
		{
			sync.POST("/runs", deps.Sync.Trigger)
			sync.GET("/runs", deps.Sync.ListRuns)
			sync.GET("/runs/:id", deps.Sync.GetRun)
			sync.GET("/status", deps.Sync.Status)
		}

		offboarding := api.Group("/offboarding")
		{
			offboarding.POST("/contacts", deps.Offboarding.OffboardContactBatch)
			offboarding.POST("/contacts/:id", deps.Offboarding.OffboardContact)
			offboarding.POST("/partners", deps.Offboarding.OffboardPartnerBatch)
			offboarding.POST("/partners/:id", deps.Offboarding.OffboardPartner)
		}
	}

	return r
}
