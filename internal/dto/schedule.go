package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

const queryDateLayout = "2006-01-02"

// SlotListQuery is the query string of GET /schedules.
type SlotListQuery struct {
	FormationID  string `form:"formation_id"`
	InstructorID string `form:"instructor_id"`
	Room         string `form:"room"`
	From         string `form:"from"`
	To           string `form:"to"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
	Sort         string `form:"sort"`
	Order        string `form:"order"`
}

// Filter converts the query into a repository filter.
func (q SlotListQuery) Filter() (models.ScheduleSlotFilter, error) {
	from, err := optionalDate("from", q.From)
	if err != nil {
		return models.ScheduleSlotFilter{}, err
	}
	to, err := optionalDate("to", q.To)
	if err != nil {
		return models.ScheduleSlotFilter{}, err
	}
	return models.ScheduleSlotFilter{
		FormationID:  strings.TrimSpace(q.FormationID),
		InstructorID: strings.TrimSpace(q.InstructorID),
		Room:         strings.TrimSpace(q.Room),
		DateFrom:     from,
		DateTo:       to,
		Page:         q.Page,
		PageSize:     q.PageSize,
		SortBy:       q.Sort,
		SortOrder:    q.Order,
	}, nil
}

// PrintRangeQuery asks for the default date range of a print view.
type PrintRangeQuery struct {
	ViewMode string `form:"view_mode"`
	Anchor   string `form:"anchor"`
}

// AnchorDate returns the anchor day, defaulting to today.
func (q PrintRangeQuery) AnchorDate(now time.Time) (time.Time, error) {
	anchor, err := optionalDate("anchor", q.Anchor)
	if err != nil {
		return time.Time{}, err
	}
	if anchor == nil {
		return now.UTC(), nil
	}
	return *anchor, nil
}

// PrintRangeResponse is returned by GET /schedules/print/range.
type PrintRangeResponse struct {
	ViewMode string `json:"view_mode"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

func optionalDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(queryDateLayout, raw, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, field+" must be YYYY-MM-DD")
	}
	return &t, nil
}
