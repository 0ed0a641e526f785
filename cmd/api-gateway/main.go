package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/formation-api/api/swagger"
	"github.com/noah-isme/formation-api/internal/handler"
	"github.com/noah-isme/formation-api/internal/repository"
	"github.com/noah-isme/formation-api/internal/service"
	"github.com/noah-isme/formation-api/pkg/cache"
	"github.com/noah-isme/formation-api/pkg/config"
	"github.com/noah-isme/formation-api/pkg/database"
	"github.com/noah-isme/formation-api/pkg/export"
	"github.com/noah-isme/formation-api/pkg/inflight"
	"github.com/noah-isme/formation-api/pkg/jobs"
	"github.com/noah-isme/formation-api/pkg/logger"
	"github.com/noah-isme/formation-api/pkg/mailer"
	"github.com/noah-isme/formation-api/pkg/realtime"
	"github.com/noah-isme/formation-api/pkg/scheduler"
	"github.com/noah-isme/formation-api/pkg/storage"
)

// @title Formation API
// @version 1.0.0
// @description Training schedule management: spreadsheet imports, printable exports, attendance sheets with electronic signatures and notifications.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, falling back to in-process cache, locks and broker", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logr, db, redisClient)
	if err != nil {
		logr.Fatal("failed to wire application", zap.Error(err))
	}
	app.start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	app.stop(shutdownCtx)
}

type application struct {
	repos struct {
		users *repository.UserRepository
	}

	metrics *service.MetricsService
	auth    *service.AuthService

	schedules     *handler.ScheduleHandler
	scheduleFiles *handler.ScheduleFileHandler
	attendance    *handler.AttendanceHandler
	public        *handler.PublicHandler
	notifications *handler.NotificationHandler
	emails        *handler.EmailHandler
	authHandler   *handler.AuthHandler
	probes        *handler.MetricsHandler

	redis      *redis.Client
	emailQueue *jobs.Queue
	cron       *scheduler.Scheduler
}

func buildApp(ctx context.Context, cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*application, error) {
	app := &application{redis: redisClient}
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	formationRepo := repository.NewFormationRepository(db)
	slotRepo := repository.NewScheduleSlotRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	app.repos.users = userRepo

	app.metrics = service.NewMetricsService()

	var cacheRepo service.CacheRepository
	var signing inflight.Set = inflight.NewMemory(cfg.Attendance.SignatureDedupTTL)
	var broker realtime.Broker
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "formation", logr)
		signing = inflight.NewRedis(redisClient, "formation:signing", cfg.Attendance.SignatureDedupTTL)
	}
	if cfg.Notifications.RealtimeEnabled {
		if redisClient != nil {
			broker = realtime.NewRedis(redisClient, logr)
		} else {
			broker = realtime.NewMemory()
		}
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	exportFiles, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}

	sender, err := mailer.New(cfg.Mail, logr)
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	app.auth = service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "formation-api",
		Audience:           []string{"formation-app"},
	})

	emailSvc := service.NewEmailService(sender, nil, app.metrics, validate, logr)
	app.emailQueue = jobs.NewQueue("emails", emailSvc.Deliver, jobs.QueueConfig{
		Workers:    cfg.Mail.Workers,
		MaxRetries: jobs.NoRetry,
		Logger:     logr,
	})
	emailSvc.SetQueue(app.emailQueue)

	notificationSvc := service.NewNotificationService(notificationRepo, formationRepo, userRepo, broker, emailSvc, app.metrics, validate, logr, cfg.Notifications.RetentionTTL)

	cacheSvc := service.NewCacheService(cacheRepo, app.metrics, cfg.Schedules.CacheTTL, logr, cfg.Schedules.CacheEnabled)
	scheduleSvc := service.NewScheduleService(slotRepo, cacheSvc, notificationSvc, validate, logr, cfg.Schedules.CacheTTL)
	importSvc := service.NewScheduleImportService(slotRepo, formationRepo, userRepo, userRepo, scheduleSvc, notificationSvc, app.metrics, validate, logr, service.ScheduleImportConfig{
		MaxFileSize:  cfg.Imports.MaxFileSizeBytes,
		DefaultColor: cfg.Imports.DefaultColor,
	})

	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(exportFiles, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		Retention: cfg.Exports.RetentionTTL,
	}, logr)
	printSvc := service.NewPrintService(slotRepo, userRepo, exportSvc, export.NewSchedulePDF(), export.NewCSVExporter(), app.metrics, validate, logr)

	attendanceSvc := service.NewAttendanceService(attendanceRepo, slotRepo, userRepo, emailSvc, userRepo, validate, logr, service.AttendanceConfig{
		TokenTTL:      cfg.Attendance.TokenTTL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	signatureSvc := service.NewSignatureService(attendanceRepo, objects, signing, userRepo, app.metrics, validate, logr, cfg.Attendance.SignaturePrefix)

	app.cron = scheduler.New(logr, 0)
	maintenance := service.NewMaintenanceService(exportSvc, notificationSvc, userRepo, logr)
	if err := maintenance.Register(app.cron, service.MaintenanceSchedules{
		ExportCleanup:     cfg.Exports.CleanupSchedule,
		NotificationPurge: cfg.Notifications.PurgeSchedule,
	}); err != nil {
		return nil, fmt.Errorf("register maintenance tasks: %w", err)
	}

	app.authHandler = handler.NewAuthHandler(app.auth)
	app.schedules = handler.NewScheduleHandler(scheduleSvc)
	app.scheduleFiles = handler.NewScheduleFileHandler(importSvc, printSvc)
	app.attendance = handler.NewAttendanceHandler(attendanceSvc)
	app.public = handler.NewPublicHandler(attendanceSvc, signatureSvc, exportSvc)
	app.notifications = handler.NewNotificationHandler(notificationSvc, cfg.CORS.AllowedOrigins, logr)
	app.emails = handler.NewEmailHandler(emailSvc)

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			if !cache.Healthy(ctx, redisClient) {
				return errors.New("redis ping failed")
			}
			return nil
		}
	}
	app.probes = handler.NewMetricsHandler(app.metrics, checks)

	return app, nil
}

// newObjectStore returns the store holding signature images.
func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMinIO:
		store, err := storage.NewMinIOStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return store, nil
	case config.StorageDriverLocal, "":
		store, err := storage.NewLocalStorage(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func (a *application) start(ctx context.Context) {
	a.emailQueue.Start(ctx)
	a.cron.Start()
}

func (a *application) stop(ctx context.Context) {
	a.cron.Stop(ctx)
	a.emailQueue.Stop(ctx)
}
