package models

import "time"

// SessionType distinguishes taught sessions from self-study blocks.
type SessionType string

const (
	SessionTypeNormal    SessionType = "normal"
	SessionTypeAutonomie SessionType = "autonomie"
)

// Valid reports whether the session type is supported.
func (s SessionType) Valid() bool {
	return s == SessionTypeNormal || s == SessionTypeAutonomie
}

// ScheduleSlot represents one scheduled course occurrence.
type ScheduleSlot struct {
	ID             string      `db:"id" json:"id"`
	FormationID    string      `db:"formation_id" json:"formation_id"`
	ModuleID       *string     `db:"module_id" json:"module_id,omitempty"`
	InstructorID   *string     `db:"instructor_id" json:"instructor_id,omitempty"`
	Title          string      `db:"title" json:"title"`
	InstructorName string      `db:"instructor_name" json:"instructor_name"`
	Date           time.Time   `db:"date" json:"date"`
	StartTime      string      `db:"start_time" json:"start_time"`
	EndTime        string      `db:"end_time" json:"end_time"`
	Room           string      `db:"room" json:"room"`
	Color          string      `db:"color" json:"color"`
	Notes          string      `db:"notes" json:"notes"`
	SessionType    SessionType `db:"session_type" json:"session_type"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// ScheduleSlotDetail joins display labels onto a slot.
type ScheduleSlotDetail struct {
	ScheduleSlot
	FormationTitle string `db:"formation_title" json:"formation_title"`
}

// InstructorLabel prefers the linked user's name over free text.
func (s ScheduleSlotDetail) InstructorLabel(names map[string]string) string {
	if s.InstructorID != nil {
		if name, ok := names[*s.InstructorID]; ok && name != "" {
			return name
		}
	}
	return s.InstructorName
}

// ScheduleSlotFilter describes query params for listing slots.
type ScheduleSlotFilter struct {
	FormationID  string
	InstructorID string
	Room         string
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// ScheduleConflict describes an existing slot that collides with a write.
type ScheduleConflict struct {
	SlotID       string    `json:"slot_id"`
	FormationID  string    `json:"formation_id"`
	Title        string    `json:"title"`
	InstructorID string    `json:"instructor_id,omitempty"`
	Room         string    `json:"room,omitempty"`
	Date         time.Time `json:"date"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	Dimension    string    `json:"dimension"`
}

// ScheduleConflictError is returned when a slot overlaps an existing one.
type ScheduleConflictError struct {
	Type      string             `json:"type"`
	Message   string             `json:"message"`
	Conflicts []ScheduleConflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
