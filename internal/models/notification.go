package models

import (
	"encoding/json"
	"time"
)

// NotificationType categorises notifications for client rendering.
type NotificationType string

const (
	NotificationInfo       NotificationType = "info"
	NotificationSchedule   NotificationType = "schedule"
	NotificationAttendance NotificationType = "attendance"
	NotificationSystem     NotificationType = "system"
)

// Notification is a per-user message row.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Type      NotificationType `db:"type" json:"type"`
	IsRead    bool             `db:"is_read" json:"is_read"`
	Metadata  json.RawMessage  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter allows listing a user's notifications.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
