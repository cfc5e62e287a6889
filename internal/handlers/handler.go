package handlers

import (
	"cat_feeder/internal/logger"
	"cat_feeder/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	hub      *eventHub
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	h := &Handler{services: services, log: log, hub: newEventHub()}
	if services != nil && services.Events != nil {
		services.Events.Subscribe(h.hub.publish)
	}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Live status stream (HTTP upgrade) on the same port
	router.GET("/ws", h.userIdMiddleware, h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerFeederRoutes(api)
		h.registerScaleRoutes(api)
		h.registerGateRoutes(api)
		h.registerRuleRoutes(api)
		h.registerLogRoutes(api)
		h.registerBackupRoutes(api)
		h.registerHealthRoutes(api)
	}
}

func (h *Handler) registerFeederRoutes(api *gin.RouterGroup) {
	feeder := api.Group("/feeder")
	{
		// Body example: {"grams":50}
		feeder.POST("/feed", h.manualFeed)
		feeder.POST("/test", h.testFeed)
		// Body example: {"engaged":true}
		feeder.POST("/emergency-stop", h.emergencyStop)
		feeder.GET("/status", h.getStatus)
		feeder.GET("/safety", h.getSafety)
	}
}

func (h *Handler) registerScaleRoutes(api *gin.RouterGroup) {
	scale := api.Group("/scale")
	{
		scale.GET("/weight", h.getWeight)
		scale.GET("/calibration", h.getCalibration)
		scale.POST("/tare", h.tare)
		scale.POST("/calibrate", h.calibrate)
		scale.POST("/verify", h.verifyCalibration)

		sessions := scale.Group("/sessions")
		sessions.POST("", h.beginScaleSession)
		sessions.GET("/:id", h.scaleSessionStatus)
		sessions.POST("/:id/tare", h.scaleSessionTare)
		sessions.POST("/:id/reference", h.scaleSessionRecord)
		sessions.POST("/:id/commit", h.commitScaleSession)
		sessions.DELETE("/:id", h.abortScaleSession)
	}
}

func (h *Handler) registerGateRoutes(api *gin.RouterGroup) {
	gate := api.Group("/gate")
	{
		gate.GET("/profile", h.getActuatorProfile)
		gate.POST("/test", h.testServo)
		gate.POST("/rate", h.calibrateRate)

		sessions := gate.Group("/sessions")
		sessions.POST("", h.beginGateSession)
		sessions.GET("/:id", h.gateSessionStatus)
		sessions.POST("/:id/jog", h.gateSessionJog)
		sessions.POST("/:id/run", h.gateSessionRun)
		sessions.POST("/:id/mass", h.gateSessionRecord)
		sessions.POST("/:id/commit", h.commitGateSession)
		sessions.DELETE("/:id", h.abortGateSession)
	}
}

func (h *Handler) registerRuleRoutes(api *gin.RouterGroup) {
	rules := api.Group("/rules")
	{
		rules.GET("", h.listRules)
		rules.POST("", h.createRule)
		rules.GET("/next", h.nextFeeding)
		rules.PUT("/:id", h.updateRule)
		rules.DELETE("/:id", h.deleteRule)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
	api.GET("/feedings", h.listFeedings)
	api.GET("/feedings/stats", h.feedingStats)
	api.GET("/weights", h.listWeights)
}

func (h *Handler) registerBackupRoutes(api *gin.RouterGroup) {
	b := api.Group("/backup")
	{
		b.GET("", h.exportBackup)
		b.POST("", h.restoreBackup)
	}
}

func (h *Handler) registerHealthRoutes(api *gin.RouterGroup) {
	hl := api.Group("/health")
	{
		hl.GET("", h.healthDetails)
		hl.POST("/check", h.checkHealth)
		hl.GET("/metrics", h.metricsHistory)
		hl.GET("/alerts", h.recentAlerts)
		hl.POST("/cleanup", h.cleanup)
	}
}
