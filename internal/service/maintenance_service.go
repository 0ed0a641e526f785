package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/pkg/scheduler"
)

type taskRegistrar interface {
	Register(name, spec string, task scheduler.Task) error
}

type refreshTokenPurger interface {
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type exportCleaner interface {
	Cleanup(ctx context.Context) error
}

type notificationPurger interface {
	Purge(ctx context.Context) error
}

// MaintenanceSchedules holds the cron specs of each periodic task. Empty
// specs fall back to the defaults.
type MaintenanceSchedules struct {
	ExportCleanup     string
	NotificationPurge string
	RefreshTokenPurge string
}

// MaintenanceService registers housekeeping tasks with the scheduler.
type MaintenanceService struct {
	exports       exportCleaner
	notifications notificationPurger
	tokens        refreshTokenPurger
	logger        *zap.Logger
	now           func() time.Time
}

// NewMaintenanceService constructs the service.
func NewMaintenanceService(exports exportCleaner, notifications notificationPurger, tokens refreshTokenPurger, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{exports: exports, notifications: notifications, tokens: tokens, logger: logger, now: time.Now}
}

// Register adds every configured task to the registrar.
func (s *MaintenanceService) Register(reg taskRegistrar, schedules MaintenanceSchedules) error {
	tasks := []struct {
		name string
		spec string
		def  string
		run  scheduler.Task
		skip bool
	}{
		{name: "export-cleanup", spec: schedules.ExportCleanup, def: "@hourly", run: s.CleanupExports, skip: s.exports == nil},
		{name: "notification-purge", spec: schedules.NotificationPurge, def: "@daily", run: s.PurgeNotifications, skip: s.notifications == nil},
		{name: "refresh-token-purge", spec: schedules.RefreshTokenPurge, def: "@daily", run: s.PurgeRefreshTokens, skip: s.tokens == nil},
	}
	for _, t := range tasks {
		if t.skip {
			continue
		}
		spec := t.spec
		if spec == "" {
			spec = t.def
		}
		if err := reg.Register(t.name, spec, t.run); err != nil {
			return err
		}
	}
	return nil
}

// CleanupExports deletes generated export files past their retention.
func (s *MaintenanceService) CleanupExports(ctx context.Context) error {
	return s.exports.Cleanup(ctx)
}

// PurgeNotifications deletes notifications past their retention.
func (s *MaintenanceService) PurgeNotifications(ctx context.Context) error {
	return s.notifications.Purge(ctx)
}

// PurgeRefreshTokens deletes refresh tokens that have expired.
func (s *MaintenanceService) PurgeRefreshTokens(ctx context.Context) error {
	n, err := s.tokens.DeleteExpiredRefreshTokens(ctx, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("expired refresh tokens purged", zap.Int64("count", n))
	}
	return nil
}
