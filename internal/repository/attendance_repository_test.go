package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
)

var sheetRowColumns = []string{"id", "formation_id", "module_id", "slot_id", "title", "date", "start_time", "end_time", "session_type", "status", "token", "access_code", "expires_at", "validated_at", "validated_by", "created_by", "created_at", "updated_at", "formation_title"}

func TestAttendanceRepositoryFindSheetByToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(sheetRowColumns).
		AddRow("sheet-1", "form-1", nil, nil, "Go basics", now, "09:00", "12:00", "normal", "pending", "tok", "123456", now.Add(time.Hour), nil, nil, "admin-1", now, now, "Backend")
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_sheets sh LEFT JOIN formations f ON f.id = sh.formation_id WHERE sh.token = $1")).
		WithArgs("tok").
		WillReturnRows(rows)

	sheet, err := repo.FindSheetByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", sheet.ID)
	assert.Equal(t, "Backend", sheet.FormationTitle)
	assert.Equal(t, models.SheetStatusPending, sheet.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryFindSheetByIDMalformed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	for _, id := range []string{"abc123", "", "sheet-1", "1' OR '1'='1"} {
		_, err := repo.FindSheetByID(context.Background(), id)
		assert.ErrorIs(t, err, sql.ErrNoRows, id)
	}

	const id = "3f6c2b8e-9a41-4d7f-b0e2-5c1d8a9f7e34"
	now := time.Now().UTC()
	rows := sqlmock.NewRows(sheetRowColumns).
		AddRow(id, "form-1", nil, nil, "Go basics", now, "09:00", "12:00", "normal", "pending", "tok", "123456", now.Add(time.Hour), nil, nil, "admin-1", now, now, "Backend")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE sh.id = $1")).WithArgs(id).WillReturnRows(rows)

	sheet, err := repo.FindSheetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, sheet.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryMarkValidated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_sheets SET status = $2")).
		WithArgs("sheet-1", models.SheetStatusValidated, at, "admin-1", models.SheetStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_sheets SET status = $2")).
		WithArgs("sheet-1", models.SheetStatusValidated, at, "admin-1", models.SheetStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkValidated(context.Background(), "sheet-1", "admin-1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkValidated(context.Background(), "sheet-1", "admin-1", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertSignature(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_signatures")).
		WithArgs(sqlmock.AnyArg(), "sheet-1", "stu-1", models.ParticipantStudent, true, "https://cdn/sig.png", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sig := &models.AttendanceSignature{SheetID: "sheet-1", UserID: "stu-1", UserType: models.ParticipantStudent, Present: true, SignatureURL: "https://cdn/sig.png"}
	require.NoError(t, repo.InsertSignature(context.Background(), sig))
	assert.NotEmpty(t, sig.ID)
	assert.False(t, sig.SignedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRoster(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	signedAt := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"user_id", "full_name", "email", "user_type", "has_signature", "present", "signature_url", "signed_at"}).
		AddRow("stu-1", "Ada", "ada@example.com", "student", true, true, "https://cdn/sig.png", signedAt).
		AddRow("stu-2", "Linus", "linus@example.com", "student", false, false, nil, nil).
		AddRow("inst-1", "Grace", "grace@example.com", "instructor", false, false, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("JOIN user_formation_assignments a ON a.formation_id = sh.formation_id")).
		WithArgs("sheet-1").
		WillReturnRows(rows)

	entries, err := repo.Roster(context.Background(), "sheet-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].HasSignature)
	require.NotNil(t, entries[0].SignatureURL)
	assert.Nil(t, entries[1].SignatureURL)
	assert.Equal(t, models.ParticipantInstructor, entries[2].UserType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
