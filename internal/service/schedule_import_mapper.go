package service

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/pkg/spreadsheet"
)

// ImportContext carries the values every imported row inherits.
type ImportContext struct {
	FormationID    string
	FormationTitle string
	Color          string
	SessionType    models.SessionType
}

var importDateLayouts = []string{
	dateLayout,
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var frenchClock = regexp.MustCompile(`^(\d{1,2})\s*[hH]\s*(\d{2})?$`)

// MapImportRows turns parsed spreadsheet rows into unsaved slots, one per row
// and in the same order. Values that cannot be parsed are carried as-is (a
// zero date, the raw time text) and left for validation before insert.
func MapImportRows(rows []spreadsheet.ParsedScheduleRow, ictx ImportContext) []models.ScheduleSlot {
	sessionType := ictx.SessionType
	if sessionType == "" {
		sessionType = models.SessionTypeNormal
	}

	slots := make([]models.ScheduleSlot, 0, len(rows))
	for _, row := range rows {
		slot := models.ScheduleSlot{
			FormationID:    ictx.FormationID,
			Title:          row.Module,
			InstructorName: row.Instructor,
			StartTime:      normalizeImportClock(row.StartTime),
			EndTime:        normalizeImportClock(row.EndTime),
			Room:           row.Room,
			Color:          ictx.Color,
			SessionType:    sessionType,
		}
		if date, ok := parseImportDate(row.Date); ok {
			slot.Date = date
		}
		if row.Formation != "" && !strings.EqualFold(row.Formation, ictx.FormationTitle) {
			slot.Notes = "Formation : " + row.Formation
		}
		slots = append(slots, slot)
	}
	return slots
}

// NormalizeImportRows rewrites the date and time cells of rows in the form
// they will be stored in: YYYY-MM-DD and HH:MM. Excel serial values become
// readable; cells that cannot be parsed are kept verbatim.
func NormalizeImportRows(rows []spreadsheet.ParsedScheduleRow) []spreadsheet.ParsedScheduleRow {
	out := make([]spreadsheet.ParsedScheduleRow, len(rows))
	for i, row := range rows {
		if date, ok := parseImportDate(row.Date); ok {
			row.Date = date.Format(dateLayout)
		}
		row.StartTime = normalizeImportClock(row.StartTime)
		row.EndTime = normalizeImportClock(row.EndTime)
		out[i] = row
	}
	return out
}

func parseImportDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range importDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return calendarDay(t), true
		}
	}
	// Raw xlsx cells hold dates as serial day numbers.
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial >= 1 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return calendarDay(t), true
		}
	}
	return time.Time{}, false
}

func normalizeImportClock(raw string) string {
	raw = strings.TrimSpace(raw)
	if m, ok := clockMinutes(raw); ok {
		return formatClock(m)
	}
	if match := frenchClock.FindStringSubmatch(raw); match != nil {
		h, _ := strconv.Atoi(match[1])
		m := 0
		if match[2] != "" {
			m, _ = strconv.Atoi(match[2])
		}
		if h < 24 && m < 60 {
			return formatClock(h*60 + m)
		}
	}
	// Excel stores times of day as a fraction of 24h.
	if frac, err := strconv.ParseFloat(raw, 64); err == nil && frac >= 0 && frac < 1 {
		minutes := int(math.Round(frac * 24 * 60))
		if minutes < 24*60 {
			return formatClock(minutes)
		}
	}
	return raw
}
