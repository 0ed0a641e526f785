package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	internalmw "github.com/noah-isme/formation-api/internal/middleware"
	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/pkg/config"
	"github.com/noah-isme/formation-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/formation-api/pkg/middleware/cors"
	"github.com/noah-isme/formation-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/formation-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, app *application) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmw.Metrics(app.metrics))
	r.Use(internalmw.WithResponseMeta())

	r.GET("/health", app.probes.Health)
	r.GET("/ready", app.probes.Ready)
	r.GET("/metrics", app.probes.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if cfg.Storage.Driver != config.StorageDriverMinIO {
		r.Static("/uploads", cfg.Storage.LocalDir)
	}

	api := r.Group(cfg.APIPrefix)
	registerPublicRoutes(api, cfg, logr, app)

	secured := api.Group("")
	secured.Use(internalmw.JWT(app.auth))
	registerSecuredRoutes(secured, logr, app)

	stream := api.Group("/notifications")
	stream.Use(internalmw.StreamJWT(app.auth))
	stream.GET("/stream", app.notifications.Stream)

	return r
}

func registerPublicRoutes(api *gin.RouterGroup, cfg *config.Config, logr *zap.Logger, app *application) {
	auth := api.Group("/auth")
	auth.POST("/login", app.authHandler.Login)
	auth.POST("/refresh", app.authHandler.Refresh)

	limited := api.Group("")
	limited.Use(publicLimiter(cfg, logr, app))
	limited.GET("/signature/:token", app.public.SignaturePage)
	limited.POST("/signature/:token/sign", app.public.Sign)
	limited.POST("/attendance/scan", app.attendance.Scan)
	limited.POST("/attendance/manual-code", app.attendance.ManualCode)

	api.GET("/exports/:token", app.public.DownloadExport)
}

// publicLimiter throttles the unauthenticated signing surface per client IP.
func publicLimiter(cfg *config.Config, logr *zap.Logger, app *application) gin.HandlerFunc {
	perMinute := cfg.Attendance.RateLimitPerMinute
	if app.redis == nil {
		return ratelimit.NewTokenBucket(perMinute, perMinute).Middleware()
	}
	return ratelimit.NewRedisWindow(app.redis, "formation:ratelimit:public", perMinute, logr).Middleware()
}

func registerSecuredRoutes(secured *gin.RouterGroup, logr *zap.Logger, app *application) {
	users := app.repos.users
	staff := internalmw.RequireStaff()
	planners := internalmw.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleInstructor)

	secured.POST("/auth/logout", app.authHandler.Logout)
	secured.GET("/auth/me", app.authHandler.Me)
	secured.GET("/metrics/summary", staff, app.probes.Summary)

	schedules := secured.Group("/schedules")
	schedules.GET("", app.schedules.List)
	schedules.GET("/print/range", app.scheduleFiles.PrintRange)
	schedules.GET("/:id", app.schedules.Get)
	schedules.POST("", staff, app.schedules.Create)
	schedules.PUT("/:id", staff, app.schedules.Update)
	schedules.DELETE("/:id", staff, app.schedules.Delete)
	schedules.POST("/:id/duplicate", staff, app.schedules.Duplicate)
	schedules.PATCH("/:id/move", staff, app.schedules.Move)
	schedules.POST("/import/preview", staff, app.scheduleFiles.ImportPreview)
	schedules.POST("/import", staff, app.scheduleFiles.Import)
	schedules.POST("/print", internalmw.Audit(users, logr, models.AuditActionScheduleExport, "schedule"), app.scheduleFiles.Print)
	schedules.POST("/export.csv", internalmw.Audit(users, logr, models.AuditActionScheduleExport, "schedule"), app.scheduleFiles.ExportCSV)

	sheets := secured.Group("/attendance/sheets")
	sheets.GET("", planners, app.attendance.ListSheets)
	sheets.GET("/:id", planners, app.attendance.GetSheet)
	sheets.GET("/:id/roster", planners, app.attendance.Roster)
	sheets.POST("", staff, app.attendance.CreateSheet)
	sheets.POST("/:id/validate", staff, app.attendance.Validate)
	sheets.POST("/:id/send-link", staff, app.attendance.SendLink)

	notifications := secured.Group("/notifications")
	notifications.GET("", app.notifications.List)
	notifications.GET("/unread-count", app.notifications.UnreadCount)
	notifications.POST("/read-all", app.notifications.MarkAllRead)
	notifications.POST("/:id/read", app.notifications.MarkRead)
	notifications.POST("/fan-out", staff, internalmw.Audit(users, logr, models.AuditActionNotification, "notification"), app.notifications.FanOut)

	emails := secured.Group("/emails", staff, internalmw.Audit(users, logr, models.AuditActionEmail, "email"))
	emails.POST("/notification", app.emails.SendNotification)
	emails.POST("/attendance-link", app.emails.SendAttendanceLink)
}
