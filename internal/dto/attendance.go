package dto

import (
	"strings"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

// SheetListQuery is the query string of GET /attendance/sheets.
type SheetListQuery struct {
	FormationID string `form:"formation_id"`
	Status      string `form:"status"`
	From        string `form:"from"`
	To          string `form:"to"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

// Filter converts the query into a repository filter.
func (q SheetListQuery) Filter() (models.AttendanceSheetFilter, error) {
	status := models.SheetStatus(strings.ToLower(strings.TrimSpace(q.Status)))
	if status != "" && status != models.SheetStatusPending && status != models.SheetStatusValidated {
		return models.AttendanceSheetFilter{}, appErrors.Clone(appErrors.ErrValidation, "status must be pending or validated")
	}
	from, err := optionalDate("from", q.From)
	if err != nil {
		return models.AttendanceSheetFilter{}, err
	}
	to, err := optionalDate("to", q.To)
	if err != nil {
		return models.AttendanceSheetFilter{}, err
	}
	return models.AttendanceSheetFilter{
		FormationID: strings.TrimSpace(q.FormationID),
		Status:      status,
		DateFrom:    from,
		DateTo:      to,
		Page:        q.Page,
		PageSize:    q.PageSize,
	}, nil
}

// ScanRequest carries the raw content of a scanned QR code.
type ScanRequest struct {
	Payload string `json:"payload"`
}

// ManualCodeRequest carries a code typed by a participant.
type ManualCodeRequest struct {
	Code string `json:"code"`
}
