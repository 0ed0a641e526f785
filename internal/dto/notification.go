package dto

// NotificationListQuery is the query string of GET /notifications.
type NotificationListQuery struct {
	UnreadOnly bool `form:"unread_only"`
	Page       int  `form:"page"`
	PageSize   int  `form:"page_size"`
}

// UnreadCountResponse is returned by GET /notifications/unread-count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkAllReadResponse is returned by POST /notifications/read-all.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
