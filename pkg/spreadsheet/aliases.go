package spreadsheet

import "strings"

// Record is one data row keyed by its header cell.
type Record map[string]string

// Accessor reads one candidate value from a record.
type Accessor func(Record) string

// Column returns an accessor for an exact, case-sensitive header name.
func Column(header string) Accessor {
	return func(r Record) string {
		return strings.TrimSpace(r[header])
	}
}

// FirstOf evaluates accessors in order and returns the first non-empty value.
func FirstOf(accessors ...Accessor) Accessor {
	return func(r Record) string {
		for _, get := range accessors {
			if v := get(r); v != "" {
				return v
			}
		}
		return ""
	}
}

func columns(headers ...string) Accessor {
	accessors := make([]Accessor, len(headers))
	for i, h := range headers {
		accessors[i] = Column(h)
	}
	return FirstOf(accessors...)
}

// Header aliases accepted for each logical field, in priority order.
var (
	ModuleHeaders     = []string{"Module", "module", "Titre", "titre"}
	DateHeaders       = []string{"Date", "date"}
	StartTimeHeaders  = []string{"Heure de début", "heure_debut", "Début", "debut"}
	EndTimeHeaders    = []string{"Heure de fin", "heure_fin", "Fin", "fin"}
	InstructorHeaders = []string{"Formateur", "formateur", "Instructeur", "instructeur"}
	RoomHeaders       = []string{"Salle", "salle", "Room", "room"}
	FormationHeaders  = []string{"Formation", "formation", "Parcours", "parcours"}
)

var (
	moduleOf     = columns(ModuleHeaders...)
	dateOf       = columns(DateHeaders...)
	startTimeOf  = columns(StartTimeHeaders...)
	endTimeOf    = columns(EndTimeHeaders...)
	instructorOf = columns(InstructorHeaders...)
	roomOf       = columns(RoomHeaders...)
	formationOf  = columns(FormationHeaders...)
)

// ParsedScheduleRow is the canonical shape of one imported schedule line.
type ParsedScheduleRow struct {
	Module     string `json:"module"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Instructor string `json:"instructor"`
	Room       string `json:"room"`
	Formation  string `json:"formation"`
}

// Canonicalize resolves every logical field of r.
func Canonicalize(r Record) ParsedScheduleRow {
	return ParsedScheduleRow{
		Module:     moduleOf(r),
		Date:       dateOf(r),
		StartTime:  startTimeOf(r),
		EndTime:    endTimeOf(r),
		Instructor: instructorOf(r),
		Room:       roomOf(r),
		Formation:  formationOf(r),
	}
}
