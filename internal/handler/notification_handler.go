package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/dto"
	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
	"github.com/noah-isme/formation-api/pkg/realtime"
	"github.com/noah-isme/formation-api/pkg/response"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
)

type notificationService interface {
	List(ctx context.Context, auth models.AuthContext, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error)
	UnreadCount(ctx context.Context, auth models.AuthContext) (int, error)
	MarkRead(ctx context.Context, auth models.AuthContext, id string) error
	MarkAllRead(ctx context.Context, auth models.AuthContext) (int64, error)
	FanOut(ctx context.Context, auth models.AuthContext, req service.FanOutRequest) (*service.FanOutResult, error)
	Subscribe(ctx context.Context, auth models.AuthContext) (<-chan realtime.Event, realtime.CancelFunc, error)
}

// NotificationHandler exposes the caller's notifications and the realtime stream.
type NotificationHandler struct {
	service  notificationService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewNotificationHandler constructs the handler. allowedOrigins limits
// websocket upgrades; empty allows every origin.
func NewNotificationHandler(svc notificationService, allowedOrigins []string, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &NotificationHandler{
		service: svc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param unread_only query bool false "Only unread"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	var query dto.NotificationListQuery
	if !bindQuery(c, &query) {
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), auth, query.UnreadOnly, query.Page, query.PageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// UnreadCount godoc
// @Summary Count my unread notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(c.Request.Context(), auth)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.UnreadCountResponse{Count: count}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), auth, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark all my notifications read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	updated, err := h.service.MarkAllRead(c.Request.Context(), auth)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MarkAllReadResponse{Updated: updated}, nil)
}

// FanOut godoc
// @Summary Notify a formation, all instructors or a list of users
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.FanOutRequest true "Notification"
// @Success 201 {object} response.Envelope
// @Router /notifications/fan-out [post]
func (h *NotificationHandler) FanOut(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	var req service.FanOutRequest
	if !bindJSON(c, &req, "invalid notification payload") {
		return
	}
	result, err := h.service.FanOut(c.Request.Context(), auth, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Stream godoc
// @Summary Realtime notification stream
// @Description Websocket; pass the access token as ?access_token= when headers cannot be set
// @Tags Notifications
// @Security BearerAuth
// @Param access_token query string false "Access token"
// @Success 101
// @Router /notifications/stream [get]
func (h *NotificationHandler) Stream(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	ctx, cancelCtx := context.WithCancel(c.Request.Context())
	defer cancelCtx()

	events, cancel, err := h.service.Subscribe(ctx, auth)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	go h.drain(conn, cancelCtx)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("notification stream write failed", zap.String("user_id", auth.UserID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// drain reads until the client goes away; clients never send data frames.
func (h *NotificationHandler) drain(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
