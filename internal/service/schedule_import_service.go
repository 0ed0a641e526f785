package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/spreadsheet"
)

type importSlotRepository interface {
	BulkCreate(ctx context.Context, slots []models.ScheduleSlot) error
}

type importFormationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Formation, error)
}

type instructorDirectory interface {
	FindInstructorIDsByName(ctx context.Context, names []string) (map[string]string, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type scheduleInvalidator interface {
	Invalidate(ctx context.Context)
}

// ImportUpload is an uploaded spreadsheet.
type ImportUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// ImportRequest selects the formation imported rows belong to.
type ImportRequest struct {
	FormationID string             `json:"formation_id" form:"formation_id" validate:"required"`
	Color       string             `json:"color" form:"color" validate:"omitempty,hexcolor"`
	SessionType models.SessionType `json:"session_type" form:"session_type"`
}

// ImportPreview is the parsed content of an upload before persistence.
type ImportPreview struct {
	Rows  []spreadsheet.ParsedScheduleRow `json:"rows"`
	Slots []models.ScheduleSlot           `json:"slots"`
	Total int                             `json:"total"`
}

// ImportResult summarises a confirmed import.
type ImportResult struct {
	Inserted            int                   `json:"inserted"`
	ResolvedInstructors int                   `json:"resolved_instructors"`
	Slots               []models.ScheduleSlot `json:"slots"`
}

// ScheduleImportConfig bounds uploads.
type ScheduleImportConfig struct {
	MaxFileSize  int64
	DefaultColor string
}

// ScheduleImportService turns spreadsheets into schedule slots.
type ScheduleImportService struct {
	slots       importSlotRepository
	formations  importFormationRepository
	instructors instructorDirectory
	audit       auditRecorder
	schedules   scheduleInvalidator
	notifier    slotNotifier
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ScheduleImportConfig
}

// NewScheduleImportService wires the importer. schedules, notifier and metrics may be nil.
func NewScheduleImportService(
	slots importSlotRepository,
	formations importFormationRepository,
	instructors instructorDirectory,
	audit auditRecorder,
	schedules scheduleInvalidator,
	notifier slotNotifier,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ScheduleImportConfig,
) *ScheduleImportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	return &ScheduleImportService{
		slots:       slots,
		formations:  formations,
		instructors: instructors,
		audit:       audit,
		schedules:   schedules,
		notifier:    notifier,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Preview parses and maps an upload without writing anything.
func (s *ScheduleImportService) Preview(ctx context.Context, upload ImportUpload, req ImportRequest) (*ImportPreview, error) {
	formation, err := s.loadFormation(ctx, req)
	if err != nil {
		return nil, err
	}
	rows, err := s.parse(upload)
	if err != nil {
		return nil, err
	}
	slots := MapImportRows(rows, s.importContext(req, formation))
	return &ImportPreview{Rows: NormalizeImportRows(rows), Slots: slots, Total: len(slots)}, nil
}

// Confirm parses the upload again and inserts every row in one transaction.
func (s *ScheduleImportService) Confirm(ctx context.Context, auth models.AuthContext, upload ImportUpload, req ImportRequest) (*ImportResult, error) {
	if !auth.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can import schedules")
	}
	formation, err := s.loadFormation(ctx, req)
	if err != nil {
		return nil, err
	}
	rows, err := s.parse(upload)
	if err != nil {
		s.metrics.RecordImport("rejected", 1)
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrImportRow, "the spreadsheet contains no data rows")
	}

	slots := MapImportRows(rows, s.importContext(req, formation))
	for i := range slots {
		if err := validateImportedSlot(slots[i]); err != nil {
			s.metrics.RecordImport("rejected", len(slots))
			return nil, appErrors.Wrap(err, appErrors.ErrImportRow.Code, appErrors.ErrImportRow.Status, fmt.Sprintf("row %d: %s", i+2, err.Error()))
		}
	}

	resolved, err := s.resolveInstructors(ctx, slots)
	if err != nil {
		return nil, err
	}

	if err := s.slots.BulkCreate(ctx, slots); err != nil {
		s.metrics.RecordImport("failed", len(slots))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import schedule slots")
	}
	s.metrics.RecordImport("inserted", len(slots))

	if s.schedules != nil {
		s.schedules.Invalidate(ctx)
	}
	s.recordAudit(ctx, auth, formation.ID, upload.Filename, len(slots))
	if s.notifier != nil {
		n := models.Notification{
			Title:   "Planning importé",
			Message: fmt.Sprintf("%d créneaux ont été ajoutés au planning de %s.", len(slots), formation.Title),
			Type:    models.NotificationSchedule,
		}
		if err := s.notifier.NotifyFormation(ctx, formation.ID, n); err != nil {
			s.logger.Warn("failed to notify formation about import", zap.String("formation_id", formation.ID), zap.Error(err))
		}
	}

	s.logger.Info("schedule imported",
		zap.String("formation_id", formation.ID),
		zap.String("file", upload.Filename),
		zap.Int("slots", len(slots)),
		zap.Int("resolved_instructors", resolved),
	)
	return &ImportResult{Inserted: len(slots), ResolvedInstructors: resolved, Slots: slots}, nil
}

func (s *ScheduleImportService) loadFormation(ctx context.Context, req ImportRequest) (*models.Formation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid import payload")
	}
	if req.SessionType != "" && !req.SessionType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session_type must be normal or autonomie")
	}
	formation, err := s.formations.FindByID(ctx, req.FormationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "formation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load formation")
	}
	return formation, nil
}

func (s *ScheduleImportService) parse(upload ImportUpload) ([]spreadsheet.ParsedScheduleRow, error) {
	if upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	}
	data, err := io.ReadAll(io.LimitReader(upload.Content, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	}

	rows, err := spreadsheet.Parse(bytes.NewReader(data), upload.Filename)
	if err != nil {
		var rowErr *spreadsheet.RowError
		switch {
		case errors.As(err, &rowErr):
			return nil, appErrors.Wrap(err, appErrors.ErrImportRow.Code, appErrors.ErrImportRow.Status, rowErr.Error())
		case errors.Is(err, spreadsheet.ErrUnsupportedFormat):
			return nil, appErrors.Clone(appErrors.ErrUnsupportedFile, "only .xlsx, .xls and .csv files are supported")
		case errors.Is(err, spreadsheet.ErrEmptySheet):
			return nil, appErrors.Clone(appErrors.ErrImportRow, "the spreadsheet is empty")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read spreadsheet")
		}
	}
	return rows, nil
}

func (s *ScheduleImportService) importContext(req ImportRequest, formation *models.Formation) ImportContext {
	color := req.Color
	if color == "" {
		color = s.cfg.DefaultColor
	}
	return ImportContext{
		FormationID:    formation.ID,
		FormationTitle: formation.Title,
		Color:          color,
		SessionType:    req.SessionType,
	}
}

// resolveInstructors links slots to instructor accounts whose full name
// matches the free-text instructor column unambiguously.
func (s *ScheduleImportService) resolveInstructors(ctx context.Context, slots []models.ScheduleSlot) (int, error) {
	if s.instructors == nil {
		return 0, nil
	}
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, slot := range slots {
		key := strings.ToLower(strings.TrimSpace(slot.InstructorName))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, key)
	}
	if len(names) == 0 {
		return 0, nil
	}

	ids, err := s.instructors.FindInstructorIDsByName(ctx, names)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve instructors")
	}
	resolved := 0
	for i := range slots {
		if id, ok := ids[strings.ToLower(strings.TrimSpace(slots[i].InstructorName))]; ok {
			instructorID := id
			slots[i].InstructorID = &instructorID
			resolved++
		}
	}
	return resolved, nil
}

func (s *ScheduleImportService) recordAudit(ctx context.Context, auth models.AuthContext, formationID, filename string, count int) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"file": filename, "slots": count})
	userID := auth.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionScheduleImport,
		Resource:   "formation",
		ResourceID: &formationID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record import audit log", zap.Error(err))
	}
}

func validateImportedSlot(slot models.ScheduleSlot) error {
	if slot.Date.IsZero() {
		return errors.New("date is not a recognised date")
	}
	if _, _, err := validateTimeRange(slot.StartTime, slot.EndTime); err != nil {
		return errors.New("start and end times must be HH:MM with the end after the start")
	}
	return nil
}
