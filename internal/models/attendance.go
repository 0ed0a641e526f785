package models

import "time"

// SheetStatus is the lifecycle state of an attendance sheet.
type SheetStatus string

const (
	SheetStatusPending   SheetStatus = "pending"
	SheetStatusValidated SheetStatus = "validated"
)

// ParticipantType distinguishes learners from instructors on a roster.
type ParticipantType string

const (
	ParticipantStudent    ParticipantType = "student"
	ParticipantInstructor ParticipantType = "instructor"
)

// Valid reports whether the participant type is supported.
func (p ParticipantType) Valid() bool {
	return p == ParticipantStudent || p == ParticipantInstructor
}

// AttendanceSheet is one signing session, reachable through its token.
type AttendanceSheet struct {
	ID          string      `db:"id" json:"id"`
	FormationID string      `db:"formation_id" json:"formation_id"`
	ModuleID    *string     `db:"module_id" json:"module_id,omitempty"`
	SlotID      *string     `db:"slot_id" json:"slot_id,omitempty"`
	Title       string      `db:"title" json:"title"`
	Date        time.Time   `db:"date" json:"date"`
	StartTime   string      `db:"start_time" json:"start_time"`
	EndTime     string      `db:"end_time" json:"end_time"`
	SessionType SessionType `db:"session_type" json:"session_type"`
	Status      SheetStatus `db:"status" json:"status"`
	Token       string      `db:"token" json:"-"`
	AccessCode  string      `db:"access_code" json:"-"`
	ExpiresAt   time.Time   `db:"expires_at" json:"expires_at"`
	ValidatedAt *time.Time  `db:"validated_at" json:"validated_at,omitempty"`
	ValidatedBy *string     `db:"validated_by" json:"validated_by,omitempty"`
	CreatedBy   string      `db:"created_by" json:"created_by"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// AttendanceSheetDetail joins the formation title onto a sheet.
type AttendanceSheetDetail struct {
	AttendanceSheet
	FormationTitle string `db:"formation_title" json:"formation_title"`
}

// AttendanceSheetFilter narrows sheet listings.
type AttendanceSheetFilter struct {
	FormationID string
	Status      SheetStatus
	DateFrom    *time.Time
	DateTo      *time.Time
	Page        int
	PageSize    int
}

// AttendanceSignature records one participant's signature on a sheet.
type AttendanceSignature struct {
	ID           string          `db:"id" json:"id"`
	SheetID      string          `db:"sheet_id" json:"sheet_id"`
	UserID       string          `db:"user_id" json:"user_id"`
	UserType     ParticipantType `db:"user_type" json:"user_type"`
	Present      bool            `db:"present" json:"present"`
	SignatureURL string          `db:"signature_url" json:"signature_url"`
	SignedAt     time.Time       `db:"signed_at" json:"signed_at"`
}

// RosterEntry is one expected participant and their signature state.
type RosterEntry struct {
	UserID       string          `db:"user_id" json:"user_id"`
	FullName     string          `db:"full_name" json:"full_name"`
	Email        string          `db:"email" json:"email"`
	UserType     ParticipantType `db:"user_type" json:"user_type"`
	HasSignature bool            `db:"has_signature" json:"has_signature"`
	Present      bool            `db:"present" json:"present"`
	SignatureURL *string         `db:"signature_url" json:"signature_url,omitempty"`
	SignedAt     *time.Time      `db:"signed_at" json:"signed_at,omitempty"`
}

// Roster is the full participant list of a sheet with derived counts.
type Roster struct {
	SheetID      string        `json:"sheet_id"`
	Status       SheetStatus   `json:"status"`
	Participants []RosterEntry `json:"participants"`
	PresentCount int           `json:"present_count"`
	AbsentCount  int           `json:"absent_count"`
}

// NewRoster derives present and absent counts from the student entries.
func NewRoster(sheetID string, status SheetStatus, entries []RosterEntry) Roster {
	if entries == nil {
		entries = []RosterEntry{}
	}
	roster := Roster{SheetID: sheetID, Status: status, Participants: entries}
	students := 0
	for _, e := range entries {
		if e.UserType != ParticipantStudent {
			continue
		}
		students++
		if e.Present {
			roster.PresentCount++
		}
	}
	roster.AbsentCount = students - roster.PresentCount
	return roster
}

// Find returns the roster entry for userID.
func (r Roster) Find(userID string) (RosterEntry, bool) {
	for _, e := range r.Participants {
		if e.UserID == userID {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// TokenValidation is the public view of a signature link.
type TokenValidation struct {
	IsValid        bool        `json:"is_valid"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	SheetID        string      `json:"sheet_id,omitempty"`
	Token          string      `json:"token,omitempty"`
	FormationTitle string      `json:"formation_title,omitempty"`
	ModuleTitle    string      `json:"module_title,omitempty"`
	Date           *time.Time  `json:"date,omitempty"`
	StartTime      string      `json:"start_time,omitempty"`
	EndTime        string      `json:"end_time,omitempty"`
	SessionType    SessionType `json:"session_type,omitempty"`
	Status         SheetStatus `json:"status,omitempty"`
}

// SignaturePageView selects what the public signature page renders.
type SignaturePageView string

const (
	PageViewInvalid  SignaturePageView = "invalid"
	PageViewSigning  SignaturePageView = "signing"
	PageViewOverview SignaturePageView = "overview"
)
