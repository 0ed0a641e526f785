package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/formation-api/internal/models"
)

// NotificationRepository persists per-user notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

var notificationCopyColumns = []string{"id", "user_id", "title", "message", "type", "is_read", "metadata", "created_at"}

// BulkInsert streams every notification through COPY inside one transaction,
// so the batch succeeds or fails as a whole and its size is not bounded by the
// bind parameter limit.
func (r *NotificationRepository) BulkInsert(ctx context.Context, notifications []models.Notification) (err error) {
	if len(notifications) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range notifications {
		if notifications[i].ID == "" {
			notifications[i].ID = uuid.NewString()
		}
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now
		}
		if notifications[i].Type == "" {
			notifications[i].Type = models.NotificationInfo
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert notifications: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("notifications", notificationCopyColumns...))
	if err != nil {
		return fmt.Errorf("prepare notification copy: %w", err)
	}
	for _, n := range notifications {
		if _, err = stmt.ExecContext(ctx, n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.IsRead, copyJSON(n.Metadata), n.CreatedAt); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy notification for %s: %w", n.UserID, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush notification copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close notification copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert notifications: %w", err)
	}
	return nil
}

// copyJSON passes JSON as text; COPY would encode a byte slice as bytea.
func copyJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// List returns a user's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := "WHERE user_id = $1"
	if filter.UnreadOnly {
		where += " AND is_read = FALSE"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT id, user_id, title, message, type, is_read, metadata, created_at FROM notifications %s ORDER BY created_at DESC LIMIT %d OFFSET %d", where, size, (page-1)*size)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM notifications %s", where), filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return notifications, total, nil
}

// UnreadCount returns the number of unread notifications for userID.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one notification owned by userID. It reports false when no
// such notification exists.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return n > 0, nil
}

// MarkAllRead flags every unread notification of userID.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOlderThan purges notifications created before cutoff.
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
