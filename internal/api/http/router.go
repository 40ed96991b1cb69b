package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenops-hq/greenops-server/internal/api/http/handler"
	"github.com/greenops-hq/greenops-server/internal/api/http/middleware"
	"github.com/greenops-hq/greenops-server/internal/auth"
	"github.com/greenops-hq/greenops-server/internal/db"
	"github.com/greenops-hq/greenops-server/internal/machines"
	"github.com/greenops-hq/greenops-server/internal/metrics"
	"github.com/greenops-hq/greenops-server/internal/users"
)

type Services struct {
	Machines  *machines.Service
	Users     *users.Service
	Pool      *db.Pool
	JWTConfig auth.Config
}

func SetupRoute(engine *gin.Engine, config Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.SecurityHeaders())
	engine.Use(metrics.Middleware())

	healthHandler := handler.NewHealthHandler(srvs.Pool)
	engine.GET("/health", healthHandler.Check)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	agentsHandler := handler.NewAgentsHandler(srvs.Machines)
	machinesHandler := handler.NewMachinesHandler(srvs.Machines)
	authHandler := handler.NewAuthHandler(srvs.Users, srvs.JWTConfig)

	loginLimiter := middleware.NewLoginRateLimiter(
		config.LoginRateLimit,
		time.Duration(config.LoginRateWindow)*time.Second)

	api := engine.Group("/api")

	agents := api.Group("/agents")
	{
		agents.POST("/register", agentsHandler.Register)

		authed := agents.Group("", middleware.AgentAuth(srvs.Machines))
		authed.POST("/heartbeat", agentsHandler.Heartbeat)
		authed.GET("/commands", agentsHandler.PendingCommands)
		authed.POST("/commands/:id/result", agentsHandler.ReportResult)
	}

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", loginLimiter.Middleware(), authHandler.Login)

		authed := authGroup.Group("", middleware.JWTAuth(srvs.JWTConfig.Secret))
		authed.GET("/verify", authHandler.Verify)
		authed.POST("/change-password", authHandler.ChangePassword)
	}

	dashboard := api.Group("", middleware.JWTAuth(srvs.JWTConfig.Secret))
	{
		dashboard.GET("/machines", machinesHandler.List)
		dashboard.GET("/machines/:id", machinesHandler.Get)
		dashboard.GET("/machines/:id/heartbeats", machinesHandler.Heartbeats)
		dashboard.DELETE("/machines/:id", middleware.RequireRole("admin"), machinesHandler.Delete)
		dashboard.POST("/machines/:id/sleep", machinesHandler.Sleep)
		dashboard.POST("/machines/:id/shutdown", machinesHandler.Shutdown)
		dashboard.GET("/dashboard/stats", machinesHandler.Stats)
	}
}
