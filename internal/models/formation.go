package models

import "time"

// Formation is a training programme that owns schedule slots and sheets.
type Formation struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FormationAssignment links a user to a formation as learner or instructor.
type FormationAssignment struct {
	ID          string          `db:"id" json:"id"`
	FormationID string          `db:"formation_id" json:"formation_id"`
	UserID      string          `db:"user_id" json:"user_id"`
	UserType    ParticipantType `db:"user_type" json:"user_type"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
