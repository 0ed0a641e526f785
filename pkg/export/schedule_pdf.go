package export

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// View modes accepted by SchedulePDF.
const (
	ViewDay   = "day"
	ViewWeek  = "week"
	ViewMonth = "month"
	ViewList  = "list"
)

// Page orientations.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// Grouping keys.
const (
	GroupNone       = "none"
	GroupFormation  = "formation"
	GroupInstructor = "instructor"
	GroupRoom       = "room"
)

// ErrNoEntries is returned when a document has nothing to print.
var ErrNoEntries = errors.New("export: schedule has no entries")

const (
	marginSide   = 10.0
	marginTop    = 15.0
	marginBottom = 15.0
	rowHeight    = 7.0
	lineHeight   = 4.0
)

var (
	weekdayLabels = [...]string{"Dimanche", "Lundi", "Mardi", "Mercredi", "Jeudi", "Vendredi", "Samedi"}
	monthLabels   = [...]string{"", "Janvier", "Février", "Mars", "Avril", "Mai", "Juin", "Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre"}
)

// ScheduleEntry is one printable slot.
type ScheduleEntry struct {
	Date        time.Time
	StartTime   string
	EndTime     string
	Title       string
	Formation   string
	Instructor  string
	Room        string
	Notes       string
	SessionType string
}

// ScheduleColumns toggles the optional table columns.
type ScheduleColumns struct {
	Instructor bool
	Room       bool
	Notes      bool
}

// ScheduleDocument describes a printable schedule.
type ScheduleDocument struct {
	Title       string
	View        string
	Orientation string
	Grouping    string
	Columns     ScheduleColumns
	Start       time.Time
	End         time.Time
	GeneratedAt time.Time
	Entries     []ScheduleEntry
}

// SchedulePDF renders schedule documents with gofpdf.
type SchedulePDF struct{}

// NewSchedulePDF constructs the renderer.
func NewSchedulePDF() *SchedulePDF {
	return &SchedulePDF{}
}

// Render lays out doc and returns the PDF bytes.
func (r *SchedulePDF) Render(doc ScheduleDocument) ([]byte, error) {
	if len(doc.Entries) == 0 {
		return nil, ErrNoEntries
	}

	orientation := "P"
	if doc.Orientation == OrientationLandscape {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(marginSide, marginTop, marginSide)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.AliasNbPages("")

	pageWidth, pageHeight := pdf.GetPageSize()
	w := &pdfWriter{
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		width:  pageWidth - 2*marginSide,
		bottom: pageHeight - marginBottom,
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	w.header(doc)

	for _, group := range groupEntries(sortedEntries(doc.Entries), doc.Grouping) {
		if group.label != "" {
			w.groupHeading(group.label)
		}
		switch doc.View {
		case ViewMonth:
			w.month(group.entries)
		case ViewList:
			w.list(group.entries, doc.Columns, doc.Grouping)
		default:
			w.days(group.entries, doc.Columns, doc.Grouping)
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type entryGroup struct {
	label   string
	entries []ScheduleEntry
}

func sortedEntries(entries []ScheduleEntry) []ScheduleEntry {
	out := make([]ScheduleEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func groupKey(e ScheduleEntry, grouping string) string {
	var key string
	switch grouping {
	case GroupFormation:
		key = e.Formation
	case GroupInstructor:
		key = e.Instructor
	case GroupRoom:
		key = e.Room
	default:
		return ""
	}
	if strings.TrimSpace(key) == "" {
		return "Non renseigné"
	}
	return key
}

// groupEntries keeps first-seen group order and entry order within groups.
func groupEntries(entries []ScheduleEntry, grouping string) []entryGroup {
	if grouping == "" || grouping == GroupNone {
		return []entryGroup{{entries: entries}}
	}
	index := map[string]int{}
	var groups []entryGroup
	for _, e := range entries {
		key := groupKey(e, grouping)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, entryGroup{label: key})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].label < groups[j].label })
	return groups
}

// DayLabel formats a date as "Lundi 04/03/2024".
func DayLabel(d time.Time) string {
	return weekdayLabels[d.Weekday()] + " " + d.Format("02/01/2006")
}

type column struct {
	header string
	weight float64
	value  func(ScheduleEntry) string
}

func tableColumns(cols ScheduleColumns, grouping string, withDate bool) []column {
	var out []column
	if withDate {
		out = append(out, column{"Date", 2.2, func(e ScheduleEntry) string { return e.Date.Format("02/01/2006") }})
	}
	out = append(out,
		column{"Horaire", 2, func(e ScheduleEntry) string { return timeRange(e) }},
		column{"Module", 4, func(e ScheduleEntry) string { return e.Title }},
	)
	if grouping != GroupFormation {
		out = append(out, column{"Formation", 3, func(e ScheduleEntry) string { return e.Formation }})
	}
	if cols.Instructor && grouping != GroupInstructor {
		out = append(out, column{"Formateur", 3, func(e ScheduleEntry) string { return e.Instructor }})
	}
	if cols.Room && grouping != GroupRoom {
		out = append(out, column{"Salle", 1.6, func(e ScheduleEntry) string { return e.Room }})
	}
	if cols.Notes {
		out = append(out, column{"Notes", 3.5, func(e ScheduleEntry) string { return e.Notes }})
	}
	return out
}

func timeRange(e ScheduleEntry) string {
	switch {
	case e.StartTime != "" && e.EndTime != "":
		return e.StartTime + " - " + e.EndTime
	case e.StartTime != "":
		return e.StartTime
	default:
		return e.EndTime
	}
}

type pdfWriter struct {
	pdf    *gofpdf.Fpdf
	tr     func(string) string
	width  float64
	bottom float64
}

func (w *pdfWriter) header(doc ScheduleDocument) {
	title := doc.Title
	if title == "" {
		title = "Planning"
	}
	w.pdf.SetFont("Arial", "B", 14)
	w.pdf.CellFormat(0, 9, w.tr(title), "", 1, "C", false, 0, "")

	w.pdf.SetFont("Arial", "", 9)
	if !doc.Start.IsZero() && !doc.End.IsZero() && doc.View != ViewList {
		period := fmt.Sprintf("Du %s au %s", doc.Start.Format("02/01/2006"), doc.End.Format("02/01/2006"))
		w.pdf.CellFormat(0, 5, w.tr(period), "", 1, "C", false, 0, "")
	}
	if !doc.GeneratedAt.IsZero() {
		w.pdf.CellFormat(0, 5, w.tr("Généré le "+doc.GeneratedAt.Format("02/01/2006 15:04")), "", 1, "C", false, 0, "")
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) groupHeading(label string) {
	w.ensureSpace(2 * rowHeight)
	w.pdf.SetFont("Arial", "B", 12)
	w.pdf.SetFillColor(220, 230, 241)
	w.pdf.CellFormat(0, 8, w.tr(label), "", 1, "L", true, 0, "")
	w.pdf.Ln(2)
}

func (w *pdfWriter) ensureSpace(h float64) {
	if w.pdf.GetY()+h > w.bottom {
		w.pdf.AddPage()
	}
}

func (w *pdfWriter) widths(cols []column) []float64 {
	total := 0.0
	for _, c := range cols {
		total += c.weight
	}
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = w.width * c.weight / total
	}
	return out
}

func (w *pdfWriter) tableHeader(cols []column, widths []float64) {
	w.pdf.SetFont("Arial", "B", 9)
	w.pdf.SetFillColor(240, 240, 240)
	for i, c := range cols {
		w.pdf.CellFormat(widths[i], rowHeight, w.tr(c.header), "1", 0, "C", true, 0, "")
	}
	w.pdf.Ln(-1)
	w.pdf.SetFont("Arial", "", 8)
}

func (w *pdfWriter) table(entries []ScheduleEntry, cols []column) {
	widths := w.widths(cols)
	w.ensureSpace(2 * rowHeight)
	w.tableHeader(cols, widths)
	for _, e := range entries {
		if w.pdf.GetY()+rowHeight > w.bottom {
			w.pdf.AddPage()
			w.tableHeader(cols, widths)
		}
		for i, c := range cols {
			w.pdf.CellFormat(widths[i], rowHeight, w.fit(c.value(e), widths[i]-2), "1", 0, "L", false, 0, "")
		}
		w.pdf.Ln(-1)
	}
	w.pdf.Ln(3)
}

// days prints one section per calendar day (day and week views).
func (w *pdfWriter) days(entries []ScheduleEntry, cols ScheduleColumns, grouping string) {
	columns := tableColumns(cols, grouping, false)
	for start := 0; start < len(entries); {
		end := start
		for end < len(entries) && sameDay(entries[end].Date, entries[start].Date) {
			end++
		}
		w.ensureSpace(3 * rowHeight)
		w.pdf.SetFont("Arial", "B", 10)
		w.pdf.CellFormat(0, rowHeight, w.tr(DayLabel(entries[start].Date)), "", 1, "L", false, 0, "")
		w.table(entries[start:end], columns)
		start = end
	}
}

func (w *pdfWriter) list(entries []ScheduleEntry, cols ScheduleColumns, grouping string) {
	w.table(entries, tableColumns(cols, grouping, true))
}

// month prints a Monday-first calendar grid for every month spanned.
func (w *pdfWriter) month(entries []ScheduleEntry) {
	byDay := map[string][]ScheduleEntry{}
	for _, e := range entries {
		key := e.Date.Format("2006-01-02")
		byDay[key] = append(byDay[key], e)
	}

	first := entries[0].Date
	last := entries[len(entries)-1].Date
	cellWidth := w.width / 7

	for m := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, first.Location()); !m.After(last); m = m.AddDate(0, 1, 0) {
		w.ensureSpace(4 * rowHeight)
		w.pdf.SetFont("Arial", "B", 11)
		w.pdf.CellFormat(0, 8, w.tr(fmt.Sprintf("%s %d", monthLabels[m.Month()], m.Year())), "", 1, "L", false, 0, "")

		w.pdf.SetFont("Arial", "B", 8)
		w.pdf.SetFillColor(240, 240, 240)
		for i := 1; i <= 7; i++ {
			w.pdf.CellFormat(cellWidth, 6, w.tr(weekdayLabels[i%7]), "1", 0, "C", true, 0, "")
		}
		w.pdf.Ln(-1)

		monthEnd := m.AddDate(0, 1, -1)
		for week := StartOfWeek(m); !week.After(monthEnd); week = week.AddDate(0, 0, 7) {
			w.monthWeek(week, m.Month(), byDay, cellWidth)
		}
		w.pdf.Ln(4)
	}
}

func (w *pdfWriter) monthWeek(week time.Time, month time.Month, byDay map[string][]ScheduleEntry, cellWidth float64) {
	lines := 1
	for d := 0; d < 7; d++ {
		day := week.AddDate(0, 0, d)
		if n := len(byDay[day.Format("2006-01-02")]); day.Month() == month && n > lines {
			lines = n
		}
	}
	height := 5 + float64(lines)*lineHeight
	w.ensureSpace(height)

	x0, y0 := w.pdf.GetX(), w.pdf.GetY()
	for d := 0; d < 7; d++ {
		day := week.AddDate(0, 0, d)
		x := x0 + float64(d)*cellWidth
		w.pdf.Rect(x, y0, cellWidth, height, "D")
		if day.Month() != month {
			continue
		}
		w.pdf.SetFont("Arial", "B", 7)
		w.pdf.SetXY(x+1, y0+0.5)
		w.pdf.CellFormat(cellWidth-2, lineHeight, fmt.Sprintf("%d", day.Day()), "", 0, "R", false, 0, "")

		w.pdf.SetFont("Arial", "", 6.5)
		for i, e := range byDay[day.Format("2006-01-02")] {
			w.pdf.SetXY(x+1, y0+4.5+float64(i)*lineHeight)
			label := strings.TrimSpace(e.StartTime + " " + e.Title)
			w.pdf.CellFormat(cellWidth-2, lineHeight, w.fit(label, cellWidth-2), "", 0, "L", false, 0, "")
		}
	}
	w.pdf.SetXY(x0, y0+height)
}

// fit translates s and shortens it with an ellipsis to fit width.
func (w *pdfWriter) fit(s string, width float64) string {
	out := w.tr(s)
	if w.pdf.GetStringWidth(out) <= width {
		return out
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := w.tr(string(runes) + "...")
		if w.pdf.GetStringWidth(candidate) <= width {
			return candidate
		}
	}
	return ""
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartOfWeek returns the Monday on or before d, at midnight.
func StartOfWeek(d time.Time) time.Time {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
