package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/internal/dto"
	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
	"github.com/noah-isme/formation-api/pkg/response"
)

type attendanceService interface {
	CreateSheet(ctx context.Context, auth models.AuthContext, req service.CreateSheetRequest) (*service.CreatedSheet, error)
	Get(ctx context.Context, id string) (*models.AttendanceSheetDetail, error)
	List(ctx context.Context, filter models.AttendanceSheetFilter) ([]models.AttendanceSheetDetail, *models.Pagination, error)
	Validate(ctx context.Context, auth models.AuthContext, id string) (*models.AttendanceSheetDetail, error)
	Roster(ctx context.Context, id string) (*models.Roster, error)
	SendLink(ctx context.Context, auth models.AuthContext, id string, req service.SendLinkRequest) (*service.SendLinkResult, error)
	ResolveScan(ctx context.Context, raw string) (*models.TokenValidation, error)
	ResolveManualCode(input string) (*service.ManualCodeResult, error)
}

// AttendanceHandler exposes attendance sheet management and code resolution.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// CreateSheet godoc
// @Summary Open an attendance sheet
// @Description Creates a sheet from a schedule slot or explicit fields; returns the signature link, access code and QR payload
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateSheetRequest true "Sheet payload"
// @Success 201 {object} response.Envelope
// @Router /attendance/sheets [post]
func (h *AttendanceHandler) CreateSheet(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	var req service.CreateSheetRequest
	if !bindJSON(c, &req, "invalid attendance sheet payload") {
		return
	}
	created, err := h.service.CreateSheet(c.Request.Context(), auth, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// ListSheets godoc
// @Summary List attendance sheets
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param formation_id query string false "Formation"
// @Param status query string false "pending or validated"
// @Param from query string false "First date (YYYY-MM-DD)"
// @Param to query string false "Last date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance/sheets [get]
func (h *AttendanceHandler) ListSheets(c *gin.Context) {
	var query dto.SheetListQuery
	if !bindQuery(c, &query) {
		return
	}
	filter, err := query.Filter()
	if err != nil {
		response.Error(c, err)
		return
	}
	sheets, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheets, pagination)
}

// GetSheet godoc
// @Summary Get attendance sheet
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sheet ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sheets/{id} [get]
func (h *AttendanceHandler) GetSheet(c *gin.Context) {
	sheet, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheet, nil)
}

// Roster godoc
// @Summary Sheet roster with present/absent counts
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sheet ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sheets/{id}/roster [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	roster, err := h.service.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// Validate godoc
// @Summary Validate attendance sheet
// @Description Moves a pending sheet to validated; validated sheets accept no further signatures
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sheet ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/sheets/{id}/validate [post]
func (h *AttendanceHandler) Validate(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	sheet, err := h.service.Validate(c.Request.Context(), auth, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheet, nil)
}

// SendLink godoc
// @Summary Email the signature link
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sheet ID"
// @Param payload body service.SendLinkRequest false "Recipients, defaults to the whole roster"
// @Success 202 {object} response.Envelope
// @Router /attendance/sheets/{id}/send-link [post]
func (h *AttendanceHandler) SendLink(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	var req service.SendLinkRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "invalid send-link payload") {
		return
	}
	result, err := h.service.SendLink(c.Request.Context(), auth, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, result)
}

// Scan godoc
// @Summary Resolve a scanned QR code
// @Description Accepts a signature URL or the legacy attendance:<id>:<ts>:<code> payload
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Scanned content"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance/scan [post]
func (h *AttendanceHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if !bindJSON(c, &req, "invalid scan payload") {
		return
	}
	validation, err := h.service.ResolveScan(c.Request.Context(), req.Payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, validation, nil)
}

// ManualCode godoc
// @Summary Normalise a typed access code
// @Description Sheet lookup by code alone is not available and answers 501 once the code is complete
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.ManualCodeRequest true "Typed code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 501 {object} response.Envelope
// @Router /attendance/manual-code [post]
func (h *AttendanceHandler) ManualCode(c *gin.Context) {
	var req dto.ManualCodeRequest
	if !bindJSON(c, &req, "invalid code payload") {
		return
	}
	result, err := h.service.ResolveManualCode(req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
