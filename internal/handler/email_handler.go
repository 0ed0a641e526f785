package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
	"github.com/noah-isme/formation-api/pkg/response"
)

type emailService interface {
	SendAttendanceLink(ctx context.Context, to models.Recipient, link service.AttendanceLink) service.EmailResult
	SendNotificationEmail(ctx context.Context, req service.NotificationEmailRequest) service.EmailResult
}

type attendanceLinkEmailRequest struct {
	To   models.Recipient       `json:"to"`
	Link service.AttendanceLink `json:"link"`
}

// EmailHandler exposes the transactional email operations. Both reply with
// {success, error}; a failed send answers 422.
type EmailHandler struct {
	service emailService
}

// NewEmailHandler constructs the handler.
func NewEmailHandler(svc emailService) *EmailHandler {
	return &EmailHandler{service: svc}
}

// SendNotification godoc
// @Summary Send a notification email
// @Tags Emails
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.NotificationEmailRequest true "Email"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /emails/notification [post]
func (h *EmailHandler) SendNotification(c *gin.Context) {
	var req service.NotificationEmailRequest
	if !bindJSON(c, &req, "invalid email payload") {
		return
	}
	writeEmailResult(c, h.service.SendNotificationEmail(c.Request.Context(), req))
}

// SendAttendanceLink godoc
// @Summary Email a signature link to one participant
// @Tags Emails
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body attendanceLinkEmailRequest true "Recipient and link"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /emails/attendance-link [post]
func (h *EmailHandler) SendAttendanceLink(c *gin.Context) {
	var req attendanceLinkEmailRequest
	if !bindJSON(c, &req, "invalid email payload") {
		return
	}
	writeEmailResult(c, h.service.SendAttendanceLink(c.Request.Context(), req.To, req.Link))
}

func writeEmailResult(c *gin.Context, result service.EmailResult) {
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	response.JSON(c, status, result, nil)
}
