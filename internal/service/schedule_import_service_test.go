package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/spreadsheet"
)

type stubFormationRepo struct {
	formations map[string]models.Formation
	members    map[string][]models.Recipient
}

func (r *stubFormationRepo) FindByID(ctx context.Context, id string) (*models.Formation, error) {
	if f, ok := r.formations[id]; ok {
		return &f, nil
	}
	return nil, sql.ErrNoRows
}

func (r *stubFormationRepo) ListMembers(ctx context.Context, formationID string, userType models.ParticipantType) ([]models.Recipient, error) {
	return r.members[formationID], nil
}

type stubInstructorDirectory struct {
	ids   map[string]string
	asked []string
}

func (d *stubInstructorDirectory) FindInstructorIDsByName(ctx context.Context, names []string) (map[string]string, error) {
	d.asked = append(d.asked, names...)
	out := make(map[string]string)
	for _, name := range names {
		if id, ok := d.ids[name]; ok {
			out[name] = id
		}
	}
	return out, nil
}

type stubAuditRecorder struct {
	logs []models.AuditLog
}

func (a *stubAuditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, *log)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) { c.calls++ }

var adminAuth = models.AuthContext{UserID: "admin-1", Role: models.RoleAdmin}

func TestMapImportRowsNormalizesDatesAndTimes(t *testing.T) {
	rows := []spreadsheet.ParsedScheduleRow{
		{Module: "Docker", Date: "06/05/2024", StartTime: "8h30", EndTime: "10H", Formation: "DevOps"},
		{Module: "Go", Date: "45420", StartTime: "0.375", EndTime: "0.5", Formation: "Cloud"},
		{Module: "SQL", Date: "2024-05-08", StartTime: "14:00:00", EndTime: "16:00"},
		{Module: "Bad", Date: "someday", StartTime: "matin", EndTime: ""},
	}
	slots := MapImportRows(rows, ImportContext{FormationID: "f-1", FormationTitle: "DevOps", Color: "#112233"})
	require.Len(t, slots, 4)

	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), slots[0].Date)
	assert.Equal(t, "08:30", slots[0].StartTime)
	assert.Equal(t, "10:00", slots[0].EndTime)
	assert.Empty(t, slots[0].Notes)
	assert.Equal(t, models.SessionTypeNormal, slots[0].SessionType)
	assert.Equal(t, "#112233", slots[0].Color)

	assert.Equal(t, time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC), slots[1].Date)
	assert.Equal(t, "09:00", slots[1].StartTime)
	assert.Equal(t, "12:00", slots[1].EndTime)
	assert.Equal(t, "Formation : Cloud", slots[1].Notes)

	assert.Equal(t, "14:00", slots[2].StartTime)

	assert.True(t, slots[3].Date.IsZero())
	assert.Equal(t, "matin", slots[3].StartTime)
}

func TestNormalizeImportRowsRewritesSerialCells(t *testing.T) {
	rows := []spreadsheet.ParsedScheduleRow{
		{Module: "Go", Date: "45355", StartTime: "0.375", EndTime: "0.5", Room: "B2"},
		{Module: "Bad", Date: "someday", StartTime: "matin", EndTime: "8h"},
	}
	got := NormalizeImportRows(rows)
	require.Len(t, got, 2)

	assert.Equal(t, spreadsheet.ParsedScheduleRow{Module: "Go", Date: "2024-03-04", StartTime: "09:00", EndTime: "12:00", Room: "B2"}, got[0])
	assert.Equal(t, "someday", got[1].Date)
	assert.Equal(t, "matin", got[1].StartTime)
	assert.Equal(t, "08:00", got[1].EndTime)
	assert.Equal(t, "45355", rows[0].Date)
}

func newImportFixture() (*ScheduleImportService, *stubSlotRepo, *stubInstructorDirectory, *stubAuditRecorder, *countingInvalidator, *stubNotifier) {
	slots := &stubSlotRepo{}
	formations := &stubFormationRepo{formations: map[string]models.Formation{"f-1": {ID: "f-1", Title: "DevOps"}}}
	instructors := &stubInstructorDirectory{ids: map[string]string{"alice martin": "u-alice"}}
	audit := &stubAuditRecorder{}
	invalidator := &countingInvalidator{}
	notifier := &stubNotifier{}
	svc := NewScheduleImportService(slots, formations, instructors, audit, invalidator, notifier, nil, nil, zap.NewNop(), ScheduleImportConfig{DefaultColor: "#3b82f6"})
	return svc, slots, instructors, audit, invalidator, notifier
}

func csvUpload(content string) ImportUpload {
	return ImportUpload{Filename: "planning.csv", Size: int64(len(content)), Content: strings.NewReader(content)}
}

const importCSV = "Module;Date;Heure de début;Heure de fin;Formateur;Salle\n" +
	"Docker;2024-05-06;08:30;10:00;Alice Martin;A1\n" +
	"Kubernetes;2024-05-07;10:15;12:00;Bob Durand;A2\n"

func TestScheduleImportConfirmInsertsAllRows(t *testing.T) {
	svc, slots, instructors, audit, invalidator, notifier := newImportFixture()

	result, err := svc.Confirm(context.Background(), adminAuth, csvUpload(importCSV), ImportRequest{FormationID: "f-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.ResolvedInstructors)

	require.Len(t, slots.bulk, 1)
	inserted := slots.bulk[0]
	require.Len(t, inserted, 2)
	require.NotNil(t, inserted[0].InstructorID)
	assert.Equal(t, "u-alice", *inserted[0].InstructorID)
	assert.Nil(t, inserted[1].InstructorID)
	assert.Equal(t, "Bob Durand", inserted[1].InstructorName)
	assert.Equal(t, "#3b82f6", inserted[1].Color)
	assert.ElementsMatch(t, []string{"alice martin", "bob durand"}, instructors.asked)

	assert.Equal(t, 1, invalidator.calls)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionScheduleImport, audit.logs[0].Action)
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "f-1", notifier.notices[0].formationID)
}

func TestScheduleImportConfirmRejectsWholeFileOnBadRow(t *testing.T) {
	svc, slots, _, _, invalidator, _ := newImportFixture()
	content := "Module;Date;Heure de début;Heure de fin\n" +
		"Docker;2024-05-06;08:30;10:00\n" +
		"Go;2024-05-07;14:00;13:00\n"

	_, err := svc.Confirm(context.Background(), adminAuth, csvUpload(content), ImportRequest{FormationID: "f-1"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrImportRow.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "row 3")
	assert.Empty(t, slots.bulk)
	assert.Zero(t, invalidator.calls)
}

func TestScheduleImportMissingFieldsReportsRow(t *testing.T) {
	svc, _, _, _, _, _ := newImportFixture()
	content := "Module;Date\n;2024-05-06\n"

	_, err := svc.Preview(context.Background(), csvUpload(content), ImportRequest{FormationID: "f-1"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrImportRow.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "row 2")

	var rowErr *spreadsheet.RowError
	assert.True(t, errors.As(err, &rowErr))
}

func TestScheduleImportUnsupportedFile(t *testing.T) {
	svc, _, _, _, _, _ := newImportFixture()
	upload := ImportUpload{Filename: "planning.ods", Size: 4, Content: strings.NewReader("data")}

	_, err := svc.Preview(context.Background(), upload, ImportRequest{FormationID: "f-1"})
	assert.Equal(t, appErrors.ErrUnsupportedFile.Code, appErrors.FromError(err).Code)
}

func TestScheduleImportRejectsOversizedUpload(t *testing.T) {
	slots := &stubSlotRepo{}
	formations := &stubFormationRepo{formations: map[string]models.Formation{"f-1": {ID: "f-1"}}}
	svc := NewScheduleImportService(slots, formations, nil, nil, nil, nil, nil, nil, nil, ScheduleImportConfig{MaxFileSize: 16})

	_, err := svc.Preview(context.Background(), csvUpload(importCSV), ImportRequest{FormationID: "f-1"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleImportPreviewDoesNotWrite(t *testing.T) {
	svc, slots, _, audit, _, _ := newImportFixture()

	preview, err := svc.Preview(context.Background(), csvUpload(importCSV), ImportRequest{FormationID: "f-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, preview.Total)
	assert.Equal(t, "Docker", preview.Rows[0].Module)
	assert.Equal(t, "f-1", preview.Slots[0].FormationID)
	assert.Empty(t, slots.bulk)
	assert.Empty(t, audit.logs)
}

func TestScheduleImportConfirmRequiresStaff(t *testing.T) {
	svc, _, _, _, _, _ := newImportFixture()
	learner := models.AuthContext{UserID: "u-1", Role: models.RoleStudent}

	_, err := svc.Confirm(context.Background(), learner, csvUpload(importCSV), ImportRequest{FormationID: "f-1"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestScheduleImportUnknownFormation(t *testing.T) {
	svc, _, _, _, _, _ := newImportFixture()

	_, err := svc.Preview(context.Background(), csvUpload(importCSV), ImportRequest{FormationID: "missing"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
