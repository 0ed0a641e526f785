package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/pkg/spreadsheet"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleEntries() []ScheduleEntry {
	return []ScheduleEntry{
		{Date: day(2024, 3, 5), StartTime: "14:00", EndTime: "17:00", Title: "SQL avancé", Formation: "Backend", Instructor: "Bob", Room: "B2"},
		{Date: day(2024, 3, 4), StartTime: "09:00", EndTime: "12:00", Title: "Go basics", Formation: "Backend", Instructor: "Alice", Room: "A1", Notes: "Apporter un PC"},
		{Date: day(2024, 4, 2), StartTime: "09:00", EndTime: "12:00", Title: "Docker", Formation: "DevOps", Instructor: "", Room: "A1"},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter(WithDelimiter(';'), WithBOM()).Render(Dataset{
		Headers: []string{"a", "b"},
		Rows:    []map[string]string{{"a": "1", "b": "x;y"}, {"a": "2"}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("\xef\xbb\xbf")))
	assert.Equal(t, "a;b\n1;\"x;y\"\n2;\n", string(out[3:]))

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestScheduleDatasetRoundTripsThroughImporter(t *testing.T) {
	out, err := NewCSVExporter().Render(ScheduleDataset(sampleEntries()))
	require.NoError(t, err)

	rows, err := spreadsheet.Parse(bytes.NewReader(out), "export.csv")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Go basics", rows[0].Module)
	assert.Equal(t, "2024-03-04", rows[0].Date)
	assert.Equal(t, "Alice", rows[0].Instructor)
	assert.Equal(t, "Docker", rows[2].Module)
}

func TestSchedulePDFRendersEveryView(t *testing.T) {
	renderer := NewSchedulePDF()
	for _, view := range []string{ViewDay, ViewWeek, ViewMonth, ViewList} {
		for _, grouping := range []string{GroupNone, GroupFormation, GroupInstructor, GroupRoom} {
			t.Run(view+"/"+grouping, func(t *testing.T) {
				out, err := renderer.Render(ScheduleDocument{
					Title:       "Planning Backend",
					View:        view,
					Orientation: OrientationLandscape,
					Grouping:    grouping,
					Columns:     ScheduleColumns{Instructor: true, Room: true, Notes: true},
					Start:       day(2024, 3, 1),
					End:         day(2024, 4, 30),
					GeneratedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
					Entries:     sampleEntries(),
				})
				require.NoError(t, err)
				assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
			})
		}
	}
}

func TestSchedulePDFRequiresEntries(t *testing.T) {
	_, err := NewSchedulePDF().Render(ScheduleDocument{View: ViewList})
	require.ErrorIs(t, err, ErrNoEntries)
}

func TestGroupEntries(t *testing.T) {
	groups := groupEntries(sortedEntries(sampleEntries()), GroupInstructor)
	require.Len(t, groups, 3)
	assert.Equal(t, "Alice", groups[0].label)
	assert.Equal(t, "Bob", groups[1].label)
	assert.Equal(t, "Non renseigné", groups[2].label)

	single := groupEntries(sampleEntries(), GroupNone)
	require.Len(t, single, 1)
	assert.Len(t, single[0].entries, 3)
}

func TestStartOfWeekAndDayLabel(t *testing.T) {
	assert.Equal(t, day(2024, 3, 4), StartOfWeek(day(2024, 3, 10)))
	assert.Equal(t, day(2024, 3, 4), StartOfWeek(day(2024, 3, 4)))
	assert.Equal(t, "Lundi 04/03/2024", DayLabel(day(2024, 3, 4)))
	assert.True(t, strings.HasPrefix(DayLabel(day(2024, 3, 10)), "Dimanche"))
}
