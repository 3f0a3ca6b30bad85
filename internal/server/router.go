package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/diagramlab-backend/internal/handlers"
)

type RouterConfig struct {
	ZonePlanHandler *handlers.ZonePlanHandler
	SSEHandler      *handlers.SSEHandler
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"X-SSE-Client-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// SSE
	router.GET("/sse/stream", cfg.SSEHandler.SSEStream)
	router.POST("/sse/subscribe", cfg.SSEHandler.SSESubscribe)
	router.POST("/sse/unsubscribe", cfg.SSEHandler.SSEUnsubscribe)

	api := router.Group("/api")
	{
		api.POST("/zone-plans", cfg.ZonePlanHandler.PlanZones)
		api.POST("/zone-plans/batch", cfg.ZonePlanHandler.PlanZonesBatch)
		api.GET("/zone-plans", cfg.ZonePlanHandler.ListZonePlans)
		api.GET("/zone-plans/:id", cfg.ZonePlanHandler.GetZonePlan)
		api.DELETE("/zone-plans/:id", cfg.ZonePlanHandler.DeleteZonePlan)
		api.GET("/zone-plans/:id/zones", cfg.ZonePlanHandler.ListZones)
		api.POST("/zone-plans/:id/session", cfg.ZonePlanHandler.LoadSession)
		api.GET("/zone-plans/:id/visibility", cfg.ZonePlanHandler.GetVisibility)
		api.POST("/zone-plans/:id/events/zone-labeled", cfg.ZonePlanHandler.ZoneLabeled)
		api.GET("/zone-plans/:id/overlay", cfg.ZonePlanHandler.GetOverlay)
	}

	return router
}
