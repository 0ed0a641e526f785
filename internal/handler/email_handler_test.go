package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
)

type emailServiceStub struct {
	to   models.Recipient
	link service.AttendanceLink
}

func (s *emailServiceStub) SendAttendanceLink(_ context.Context, to models.Recipient, link service.AttendanceLink) service.EmailResult {
	s.to, s.link = to, link
	if to.Email == "" {
		return service.EmailResult{Error: "recipient has no email address"}
	}
	return service.EmailResult{Success: true}
}

func (s *emailServiceStub) SendNotificationEmail(_ context.Context, req service.NotificationEmailRequest) service.EmailResult {
	if req.To == "bounce@example.com" {
		return service.EmailResult{Error: "smtp: 550 mailbox unavailable"}
	}
	return service.EmailResult{Success: true}
}

func emailRouter(svc *emailServiceStub) http.Handler {
	h := NewEmailHandler(svc)
	r := newRouter(adminClaims)
	r.POST("/emails/notification", h.SendNotification)
	r.POST("/emails/attendance-link", h.SendAttendanceLink)
	return r
}

func TestEmailHandlerNotification(t *testing.T) {
	router := emailRouter(&emailServiceStub{})

	rec := performJSON(router, http.MethodPost, "/emails/notification", map[string]string{"to": "a@example.com", "subject": "Hello", "body": "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result service.EmailResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.True(t, result.Success)

	rec = performJSON(router, http.MethodPost, "/emails/notification", map[string]string{"to": "bounce@example.com", "subject": "Hello", "body": "Hi"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "550")
}

func TestEmailHandlerAttendanceLink(t *testing.T) {
	svc := &emailServiceStub{}
	router := emailRouter(svc)

	rec := performJSON(router, http.MethodPost, "/emails/attendance-link", map[string]interface{}{
		"to":   map[string]string{"id": "student-1", "email": "s@example.com", "full_name": "Sam"},
		"link": map[string]string{"sheet_title": "Réseaux", "url": "https://emargement.example/signature/tok"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s@example.com", svc.to.Email)
	assert.Equal(t, "Réseaux", svc.link.SheetTitle)

	rec = performJSON(router, http.MethodPost, "/emails/attendance-link", map[string]interface{}{"to": map[string]string{"id": "student-2"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
