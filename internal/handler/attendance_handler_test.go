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
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/scancode"
)

type attendanceServiceStub struct {
	createAuth models.AuthContext
	createReq  service.CreateSheetRequest
	filter     models.AttendanceSheetFilter
	scanned    string
	sendLink   service.SendLinkRequest
	validated  string
}

func (s *attendanceServiceStub) CreateSheet(_ context.Context, auth models.AuthContext, req service.CreateSheetRequest) (*service.CreatedSheet, error) {
	s.createAuth, s.createReq = auth, req
	return &service.CreatedSheet{Token: "tok-1", AccessCode: "123456", SignatureURL: "https://emargement.example/signature/tok-1"}, nil
}

func (s *attendanceServiceStub) Get(_ context.Context, id string) (*models.AttendanceSheetDetail, error) {
	return &models.AttendanceSheetDetail{}, nil
}

func (s *attendanceServiceStub) List(_ context.Context, filter models.AttendanceSheetFilter) ([]models.AttendanceSheetDetail, *models.Pagination, error) {
	s.filter = filter
	return []models.AttendanceSheetDetail{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (s *attendanceServiceStub) Validate(_ context.Context, auth models.AuthContext, id string) (*models.AttendanceSheetDetail, error) {
	if s.validated == id {
		return nil, appErrors.ErrSheetValidated
	}
	s.validated = id
	return &models.AttendanceSheetDetail{}, nil
}

func (s *attendanceServiceStub) Roster(_ context.Context, id string) (*models.Roster, error) {
	return &models.Roster{}, nil
}

func (s *attendanceServiceStub) SendLink(_ context.Context, auth models.AuthContext, id string, req service.SendLinkRequest) (*service.SendLinkResult, error) {
	s.sendLink = req
	return &service.SendLinkResult{Queued: 3}, nil
}

func (s *attendanceServiceStub) ResolveScan(_ context.Context, raw string) (*models.TokenValidation, error) {
	s.scanned = raw
	if raw == "garbage" {
		return nil, appErrors.ErrUnrecognizedCode
	}
	return &models.TokenValidation{IsValid: true, SheetID: "sheet-1"}, nil
}

func (s *attendanceServiceStub) ResolveManualCode(input string) (*service.ManualCodeResult, error) {
	code := scancode.NormalizeManualCode(input)
	result := &service.ManualCodeResult{Code: code, Complete: scancode.ManualCodeComplete(code)}
	if !result.Complete {
		return result, appErrors.Clone(appErrors.ErrValidation, "the access code has 6 digits")
	}
	return result, appErrors.Clone(appErrors.ErrNotImplemented, scancode.ErrManualLookupUnavailable.Error())
}

func attendanceRouter(svc *attendanceServiceStub) http.Handler {
	h := NewAttendanceHandler(svc)
	r := newRouter(adminClaims)
	r.POST("/attendance/sheets", h.CreateSheet)
	r.GET("/attendance/sheets", h.ListSheets)
	r.GET("/attendance/sheets/:id/roster", h.Roster)
	r.POST("/attendance/sheets/:id/validate", h.Validate)
	r.POST("/attendance/sheets/:id/send-link", h.SendLink)
	r.POST("/attendance/scan", h.Scan)
	r.POST("/attendance/manual-code", h.ManualCode)
	return r
}

func TestAttendanceHandlerCreateSheet(t *testing.T) {
	svc := &attendanceServiceStub{}
	rec := performJSON(attendanceRouter(svc), http.MethodPost, "/attendance/sheets", map[string]string{"slot_id": "slot-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "admin-1", svc.createAuth.UserID)
	require.NotNil(t, svc.createReq.SlotID)
	assert.Equal(t, "slot-1", *svc.createReq.SlotID)

	var created service.CreatedSheet
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &created))
	assert.Equal(t, "123456", created.AccessCode)
}

func TestAttendanceHandlerListSheetsFilter(t *testing.T) {
	svc := &attendanceServiceStub{}
	router := attendanceRouter(svc)

	rec := performJSON(router, http.MethodGet, "/attendance/sheets?status=Validated&formation_id=f-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SheetStatusValidated, svc.filter.Status)
	assert.Equal(t, "f-1", svc.filter.FormationID)

	rec = performJSON(router, http.MethodGet, "/attendance/sheets?status=closed", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendanceHandlerValidateTwiceConflicts(t *testing.T) {
	router := attendanceRouter(&attendanceServiceStub{})
	assert.Equal(t, http.StatusOK, performJSON(router, http.MethodPost, "/attendance/sheets/sheet-1/validate", nil).Code)

	rec := performJSON(router, http.MethodPost, "/attendance/sheets/sheet-1/validate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SHEET_VALIDATED", decodeEnvelope(t, rec).Error.Code)
}

func TestAttendanceHandlerSendLinkAcceptsEmptyBody(t *testing.T) {
	svc := &attendanceServiceStub{}
	router := attendanceRouter(svc)

	rec := performJSON(router, http.MethodPost, "/attendance/sheets/sheet-1/send-link", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, svc.sendLink.UserIDs)

	rec = performJSON(router, http.MethodPost, "/attendance/sheets/sheet-1/send-link", map[string][]string{"user_ids": {"student-1"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"student-1"}, svc.sendLink.UserIDs)
}

func TestAttendanceHandlerScan(t *testing.T) {
	svc := &attendanceServiceStub{}
	router := attendanceRouter(svc)

	payload := "https://emargement.example/attendance/sheet-1?code=123456"
	rec := performJSON(router, http.MethodPost, "/attendance/scan", map[string]string{"payload": payload})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, svc.scanned)

	rec = performJSON(router, http.MethodPost, "/attendance/scan", map[string]string{"payload": "garbage"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAttendanceHandlerManualCode(t *testing.T) {
	router := attendanceRouter(&attendanceServiceStub{})

	rec := performJSON(router, http.MethodPost, "/attendance/manual-code", map[string]string{"code": "12-34"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = performJSON(router, http.MethodPost, "/attendance/manual-code", map[string]string{"code": "123 456"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", decodeEnvelope(t, rec).Error.Code)
}
