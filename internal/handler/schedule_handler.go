package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/internal/dto"
	"github.com/noah-isme/formation-api/internal/middleware"
	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/export"
	"github.com/noah-isme/formation-api/pkg/response"
)

type slotService interface {
	List(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, *models.Pagination, bool, error)
	Get(ctx context.Context, id string) (*models.ScheduleSlotDetail, error)
	Create(ctx context.Context, req service.SlotRequest) (*models.ScheduleSlot, error)
	Update(ctx context.Context, id string, req service.SlotRequest) (*models.ScheduleSlot, error)
	Delete(ctx context.Context, id string) error
	Duplicate(ctx context.Context, id string, req service.DuplicateSlotRequest) (*models.ScheduleSlot, error)
	Move(ctx context.Context, id string, req service.MoveSlotRequest) (*models.ScheduleSlot, error)
}

// ScheduleHandler manages schedule slot endpoints.
type ScheduleHandler struct {
	service slotService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc slotService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// List godoc
// @Summary List schedule slots
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param formation_id query string false "Filter by formation"
// @Param instructor_id query string false "Filter by instructor"
// @Param room query string false "Filter by room"
// @Param from query string false "First date (YYYY-MM-DD)"
// @Param to query string false "Last date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var query dto.SlotListQuery
	if !bindQuery(c, &query) {
		return
	}
	filter, err := query.Filter()
	if err != nil {
		response.Error(c, err)
		return
	}

	slots, pagination, hit, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, slots, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get schedule slot
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slot ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	slot, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Create godoc
// @Summary Create schedule slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req service.SlotRequest
	if !bindJSON(c, &req, "invalid schedule payload") {
		return
	}
	slot, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Update godoc
// @Summary Replace schedule slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slot ID"
// @Param payload body service.SlotRequest true "Slot payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/{id} [put]
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req service.SlotRequest
	if !bindJSON(c, &req, "invalid schedule payload") {
		return
	}
	slot, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Delete godoc
// @Summary Delete schedule slot
// @Tags Schedules
// @Security BearerAuth
// @Param id path string true "Slot ID"
// @Success 204
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Duplicate godoc
// @Summary Copy a slot onto another date
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slot ID"
// @Param payload body service.DuplicateSlotRequest true "Target date"
// @Success 201 {object} response.Envelope
// @Router /schedules/{id}/duplicate [post]
func (h *ScheduleHandler) Duplicate(c *gin.Context) {
	var req service.DuplicateSlotRequest
	if !bindJSON(c, &req, "invalid duplicate payload") {
		return
	}
	slot, err := h.service.Duplicate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Move godoc
// @Summary Move a slot keeping its duration
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slot ID"
// @Param payload body service.MoveSlotRequest true "New date and/or start time"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/move [patch]
func (h *ScheduleHandler) Move(c *gin.Context) {
	var req service.MoveSlotRequest
	if !bindJSON(c, &req, "invalid move payload") {
		return
	}
	slot, err := h.service.Move(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

type scheduleImporter interface {
	Preview(ctx context.Context, upload service.ImportUpload, req service.ImportRequest) (*service.ImportPreview, error)
	Confirm(ctx context.Context, auth models.AuthContext, upload service.ImportUpload, req service.ImportRequest) (*service.ImportResult, error)
}

type schedulePrinter interface {
	Format(ctx context.Context, req service.PrintRequest) (*service.StoredExport, error)
	ExportCSV(ctx context.Context, req service.PrintRequest) (*service.StoredExport, error)
}

// ScheduleFileHandler serves spreadsheet imports and printable exports.
type ScheduleFileHandler struct {
	importer scheduleImporter
	printer  schedulePrinter
	now      func() time.Time
}

// NewScheduleFileHandler constructs the handler.
func NewScheduleFileHandler(importer scheduleImporter, printer schedulePrinter) *ScheduleFileHandler {
	return &ScheduleFileHandler{importer: importer, printer: printer, now: time.Now}
}

// ImportPreview godoc
// @Summary Preview a schedule spreadsheet
// @Description Parses an .xlsx, .xls or .csv file and returns the mapped slots without saving them
// @Tags Schedules
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param formation_id formData string true "Formation"
// @Param color formData string false "Slot color"
// @Param session_type formData string false "normal or autonomie"
// @Param file formData file true "Spreadsheet"
// @Success 200 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /schedules/import/preview [post]
func (h *ScheduleFileHandler) ImportPreview(c *gin.Context) {
	upload, req, cleanup, ok := h.readImport(c)
	if !ok {
		return
	}
	defer cleanup()

	preview, err := h.importer.Preview(c.Request.Context(), upload, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Import godoc
// @Summary Import a schedule spreadsheet
// @Description All rows are inserted in one transaction; the first invalid row rejects the whole file
// @Tags Schedules
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param formation_id formData string true "Formation"
// @Param color formData string false "Slot color"
// @Param session_type formData string false "normal or autonomie"
// @Param file formData file true "Spreadsheet"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedules/import [post]
func (h *ScheduleFileHandler) Import(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		return
	}
	upload, req, cleanup, ok := h.readImport(c)
	if !ok {
		return
	}
	defer cleanup()

	result, err := h.importer.Confirm(c.Request.Context(), auth, upload, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

func (h *ScheduleFileHandler) readImport(c *gin.Context) (service.ImportUpload, service.ImportRequest, func(), bool) {
	var req service.ImportRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid import form"))
		return service.ImportUpload{}, req, nil, false
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return service.ImportUpload{}, req, nil, false
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return service.ImportUpload{}, req, nil, false
	}
	upload := service.ImportUpload{Filename: fileHeader.Filename, Size: fileHeader.Size, Content: src}
	return upload, req, func() { _ = src.Close() }, true
}

// Print godoc
// @Summary Render schedule PDF
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.PrintRequest true "Print options"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schedules/print [post]
func (h *ScheduleFileHandler) Print(c *gin.Context) {
	var req service.PrintRequest
	if !bindJSON(c, &req, "invalid print payload") {
		return
	}
	stored, err := h.printer.Format(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, stored)
}

// ExportCSV godoc
// @Summary Export schedule slots as CSV
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.PrintRequest true "Selection"
// @Success 201 {object} response.Envelope
// @Router /schedules/export.csv [post]
func (h *ScheduleFileHandler) ExportCSV(c *gin.Context) {
	var req service.PrintRequest
	if !bindJSON(c, &req, "invalid export payload") {
		return
	}
	stored, err := h.printer.ExportCSV(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, stored)
}

// PrintRange godoc
// @Summary Default date range of a print view
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param view_mode query string true "day, week, month or list"
// @Param anchor query string false "Reference date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /schedules/print/range [get]
func (h *ScheduleFileHandler) PrintRange(c *gin.Context) {
	var query dto.PrintRangeQuery
	if !bindQuery(c, &query) {
		return
	}
	switch query.ViewMode {
	case export.ViewDay, export.ViewWeek, export.ViewMonth, export.ViewList:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "view_mode must be day, week, month or list"))
		return
	}
	anchor, err := query.AnchorDate(h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	rng := service.DefaultRange(query.ViewMode, anchor)
	response.JSON(c, http.StatusOK, dto.PrintRangeResponse{
		ViewMode: query.ViewMode,
		Start:    rng.Start.Format("2006-01-02"),
		End:      rng.End.Format("2006-01-02"),
	}, nil)
}
