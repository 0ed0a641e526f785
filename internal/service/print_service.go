package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/export"
)

var (
	listRangeStart = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	listRangeEnd   = time.Date(2030, time.December, 31, 0, 0, 0, 0, time.UTC)
)

type printSlotRepository interface {
	ListAll(ctx context.Context, filter models.ScheduleSlotFilter) ([]models.ScheduleSlotDetail, error)
}

type nameDirectory interface {
	FindNames(ctx context.Context, ids []string) (map[string]string, error)
}

type scheduleRenderer interface {
	Render(doc export.ScheduleDocument) ([]byte, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type exportStore interface {
	Store(filename, contentType string, payload []byte) (*StoredExport, error)
}

// PrintRequest selects and lays out the slots to print.
type PrintRequest struct {
	ViewMode       string `json:"view_mode" validate:"required,oneof=day week month list"`
	Start          string `json:"start" validate:"required"`
	End            string `json:"end" validate:"required"`
	Orientation    string `json:"orientation" validate:"omitempty,oneof=portrait landscape"`
	Grouping       string `json:"grouping" validate:"omitempty,oneof=none formation instructor room"`
	FormationID    string `json:"formation_id"`
	InstructorID   string `json:"instructor_id"`
	Title          string `json:"title" validate:"max=200"`
	ShowInstructor bool   `json:"show_instructor"`
	ShowRoom       bool   `json:"show_room"`
	ShowNotes      bool   `json:"show_notes"`
}

// DateRange is an inclusive pair of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PrintService renders schedules to PDF and CSV.
type PrintService struct {
	slots     printSlotRepository
	names     nameDirectory
	pdf       scheduleRenderer
	csv       datasetRenderer
	exports   exportStore
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPrintService constructs the service; nil renderers get the defaults.
func NewPrintService(slots printSlotRepository, names nameDirectory, exports exportStore, pdf scheduleRenderer, csv datasetRenderer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PrintService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdf == nil {
		pdf = export.NewSchedulePDF()
	}
	if csv == nil {
		csv = export.NewCSVExporter(export.WithBOM())
	}
	return &PrintService{slots: slots, names: names, pdf: pdf, csv: csv, exports: exports, metrics: metrics, validator: validate, logger: logger, now: time.Now}
}

// DefaultRange is the date range a view mode starts with. Switching view
// mode only changes this default; list mode spans a fixed wide window.
func DefaultRange(viewMode string, anchor time.Time) DateRange {
	day := calendarDay(anchor)
	switch viewMode {
	case export.ViewDay:
		return DateRange{Start: day, End: day}
	case export.ViewWeek:
		start := export.StartOfWeek(day)
		return DateRange{Start: start, End: start.AddDate(0, 0, 6)}
	case export.ViewMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Start: start, End: start.AddDate(0, 1, -1)}
	default:
		return DateRange{Start: listRangeStart, End: listRangeEnd}
	}
}

// Format renders the PDF for a request and returns its download link.
func (s *PrintService) Format(ctx context.Context, req PrintRequest) (*StoredExport, error) {
	rng, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries(ctx, req, rng)
	if err != nil {
		return nil, err
	}

	orientation := req.Orientation
	if orientation == "" {
		orientation = export.OrientationPortrait
	}
	grouping := req.Grouping
	if grouping == "" {
		grouping = export.GroupNone
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Planning des formations"
	}

	payload, err := s.pdf.Render(export.ScheduleDocument{
		Title:       title,
		View:        req.ViewMode,
		Orientation: orientation,
		Grouping:    grouping,
		Columns:     export.ScheduleColumns{Instructor: req.ShowInstructor, Room: req.ShowRoom, Notes: req.ShowNotes},
		Start:       rng.Start,
		End:         rng.End,
		GeneratedAt: s.now(),
		Entries:     entries,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render schedule")
	}
	s.metrics.RecordPDFRender(req.ViewMode)

	filename := fmt.Sprintf("planning_%s_%s_%s.pdf", req.ViewMode, rng.Start.Format("20060102"), rng.End.Format("20060102"))
	return s.exports.Store(filename, "application/pdf", payload)
}

// ExportCSV renders the same selection as a spreadsheet-compatible CSV.
func (s *PrintService) ExportCSV(ctx context.Context, req PrintRequest) (*StoredExport, error) {
	rng, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries(ctx, req, rng)
	if err != nil {
		return nil, err
	}
	payload, err := s.csv.Render(export.ScheduleDataset(entries))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	filename := fmt.Sprintf("planning_%s_%s.csv", rng.Start.Format("20060102"), rng.End.Format("20060102"))
	return s.exports.Store(filename, "text/csv; charset=utf-8", payload)
}

func (s *PrintService) validate(req PrintRequest) (DateRange, error) {
	if err := s.validator.Struct(req); err != nil {
		return DateRange{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid print payload")
	}
	start, errStart := parseDate(req.Start)
	end, errEnd := parseDate(req.End)
	if errStart != nil || errEnd != nil {
		return DateRange{}, appErrors.Clone(appErrors.ErrValidation, "start and end must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return DateRange{}, appErrors.Clone(appErrors.ErrValidation, "end must not be before start")
	}
	return DateRange{Start: start, End: end}, nil
}

func (s *PrintService) entries(ctx context.Context, req PrintRequest, rng DateRange) ([]export.ScheduleEntry, error) {
	filter := models.ScheduleSlotFilter{
		FormationID:  req.FormationID,
		InstructorID: req.InstructorID,
		DateFrom:     &rng.Start,
		DateTo:       &rng.End,
	}
	slots, err := s.slots.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule slots")
	}
	slots = FilterSlotsInRange(slots, rng)
	if len(slots) == 0 {
		return nil, appErrors.ErrNoSlotsInRange
	}

	ids := make([]string, 0)
	for _, slot := range slots {
		if slot.InstructorID != nil {
			ids = append(ids, *slot.InstructorID)
		}
	}
	names := map[string]string{}
	if len(ids) > 0 && s.names != nil {
		if names, err = s.names.FindNames(ctx, ids); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor names")
		}
	}

	entries := make([]export.ScheduleEntry, 0, len(slots))
	for _, slot := range slots {
		entries = append(entries, export.ScheduleEntry{
			Date:        slot.Date,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			Title:       slot.Title,
			Formation:   slot.FormationTitle,
			Instructor:  slot.InstructorLabel(names),
			Room:        slot.Room,
			Notes:       slot.Notes,
			SessionType: string(slot.SessionType),
		})
	}
	return entries, nil
}

// FilterSlotsInRange keeps slots whose calendar date lies in rng, both ends
// included, ignoring time of day.
func FilterSlotsInRange(slots []models.ScheduleSlotDetail, rng DateRange) []models.ScheduleSlotDetail {
	start := calendarDay(rng.Start)
	end := calendarDay(rng.End)
	out := make([]models.ScheduleSlotDetail, 0, len(slots))
	for _, slot := range slots {
		day := calendarDay(slot.Date)
		if day.Before(start) || day.After(end) {
			continue
		}
		out = append(out, slot)
	}
	return out
}
