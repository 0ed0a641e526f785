package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/realtime"
)

// Fan-out targets.
const (
	FanOutFormation   = "formation"
	FanOutInstructors = "instructors"
	FanOutUsers       = "users"
)

// EventNotification is the realtime event type carrying a new notification.
const EventNotification = "notification.created"

type notificationRepository interface {
	BulkInsert(ctx context.Context, notifications []models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type formationMemberLookup interface {
	ListMembers(ctx context.Context, formationID string, userType models.ParticipantType) ([]models.Recipient, error)
}

type recipientLookup interface {
	ListRecipients(ctx context.Context, ids []string) ([]models.Recipient, error)
	ListRecipientsByRole(ctx context.Context, role models.UserRole) ([]models.Recipient, error)
}

type notificationEmailer interface {
	SendNotificationEmail(ctx context.Context, req NotificationEmailRequest) EmailResult
}

// FanOutRequest creates one notification per resolved recipient.
type FanOutRequest struct {
	Target      string                  `json:"target" validate:"required,oneof=formation instructors users"`
	FormationID string                  `json:"formation_id" validate:"required_if=Target formation"`
	UserIDs     []string                `json:"user_ids" validate:"required_if=Target users"`
	Title       string                  `json:"title" validate:"required,max=200"`
	Message     string                  `json:"message" validate:"required"`
	Type        models.NotificationType `json:"type" validate:"omitempty,oneof=info schedule attendance system"`
	Metadata    json.RawMessage         `json:"metadata"`
	SendEmail   bool                    `json:"send_email"`
}

// FanOutResult reports how many rows were written.
type FanOutResult struct {
	Recipients int `json:"recipients"`
	Emailed    int `json:"emailed"`
}

// NotificationService writes, lists and streams user notifications.
type NotificationService struct {
	repo       notificationRepository
	formations formationMemberLookup
	users      recipientLookup
	broker     realtime.Broker
	email      notificationEmailer
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	retention  time.Duration
}

// NewNotificationService constructs the service. broker and email may be nil.
func NewNotificationService(repo notificationRepository, formations formationMemberLookup, users recipientLookup, broker realtime.Broker, email notificationEmailer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, retention time.Duration) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &NotificationService{
		repo:       repo,
		formations: formations,
		users:      users,
		broker:     broker,
		email:      email,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		retention:  retention,
	}
}

// FanOut notifies every recipient of the target in a single insert.
func (s *NotificationService) FanOut(ctx context.Context, auth models.AuthContext, req FanOutRequest) (*FanOutResult, error) {
	if !auth.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can send notifications")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "metadata must be valid JSON")
	}

	recipients, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	template := models.Notification{Title: req.Title, Message: req.Message, Type: req.Type, Metadata: req.Metadata}
	rows, err := s.deliver(ctx, recipients, template)
	if err != nil {
		return nil, err
	}

	result := &FanOutResult{Recipients: len(rows)}
	if req.SendEmail && s.email != nil {
		for _, r := range recipients {
			if strings.TrimSpace(r.Email) == "" {
				continue
			}
			res := s.email.SendNotificationEmail(ctx, NotificationEmailRequest{To: r.Email, Name: r.FullName, Subject: req.Title, Body: req.Message})
			if res.Success {
				result.Emailed++
			}
		}
	}
	return result, nil
}

// NotifyFormation notifies every active member of a formation.
func (s *NotificationService) NotifyFormation(ctx context.Context, formationID string, n models.Notification) error {
	members, err := s.formations.ListMembers(ctx, formationID, "")
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load formation members")
	}
	_, err = s.deliver(ctx, members, n)
	return err
}

func (s *NotificationService) resolve(ctx context.Context, req FanOutRequest) ([]models.Recipient, error) {
	var (
		recipients []models.Recipient
		err        error
	)
	switch req.Target {
	case FanOutFormation:
		recipients, err = s.formations.ListMembers(ctx, req.FormationID, "")
	case FanOutInstructors:
		recipients, err = s.users.ListRecipientsByRole(ctx, models.RoleInstructor)
	default:
		recipients, err = s.users.ListRecipients(ctx, dedupe(req.UserIDs))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve notification recipients")
	}
	return recipients, nil
}

// deliver inserts one row per recipient then publishes each row on the
// recipient's realtime channel. Publishing is best effort.
func (s *NotificationService) deliver(ctx context.Context, recipients []models.Recipient, template models.Notification) ([]models.Notification, error) {
	if len(recipients) == 0 {
		return nil, nil
	}
	rows := make([]models.Notification, 0, len(recipients))
	for _, r := range recipients {
		n := template
		n.ID = ""
		n.UserID = r.ID
		n.IsRead = false
		rows = append(rows, n)
	}
	if err := s.repo.BulkInsert(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store notifications")
	}
	s.metrics.RecordNotifications(len(rows))

	if s.broker != nil {
		for _, n := range rows {
			evt, err := realtime.NewEvent(EventNotification, n)
			if err != nil {
				continue
			}
			if err := s.broker.Publish(ctx, realtime.UserChannel(n.UserID), evt); err != nil {
				s.logger.Warn("realtime publish failed", zap.String("user_id", n.UserID), zap.Error(err))
			}
		}
	}
	return rows, nil
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, auth models.AuthContext, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	items, total, err := s.repo.List(ctx, models.NotificationFilter{UserID: auth.UserID, UnreadOnly: unreadOnly, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// UnreadCount returns the caller's unread total.
func (s *NotificationService) UnreadCount(ctx context.Context, auth models.AuthContext) (int, error) {
	count, err := s.repo.UnreadCount(ctx, auth.UserID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, auth models.AuthContext, id string) error {
	updated, err := s.repo.MarkRead(ctx, id, auth.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if !updated {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead marks every notification of the caller as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, auth models.AuthContext) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, auth.UserID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return n, nil
}

// Subscribe opens the caller's realtime stream.
func (s *NotificationService) Subscribe(ctx context.Context, auth models.AuthContext) (<-chan realtime.Event, realtime.CancelFunc, error) {
	if s.broker == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "realtime notifications are disabled")
	}
	events, cancel, err := s.broker.Subscribe(ctx, realtime.UserChannel(auth.UserID))
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to subscribe to notifications")
	}
	return events, cancel, nil
}

// Purge deletes notifications older than the retention window.
func (s *NotificationService) Purge(ctx context.Context) error {
	n, err := s.repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-s.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("old notifications purged", zap.Int64("count", n))
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
