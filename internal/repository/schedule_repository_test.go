package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
)

var slotRowColumns = []string{"id", "formation_id", "module_id", "instructor_id", "title", "instructor_name", "date", "start_time", "end_time", "room", "color", "notes", "session_type", "created_at", "updated_at"}

func TestScheduleSlotRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleSlotRepository(db)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	rows := sqlmock.NewRows(append(slotRowColumns, "formation_title")).
		AddRow("slot-1", "form-1", nil, "inst-1", "Go basics", "", from, "09:00", "12:00", "A1", "#3b82f6", "", "normal", now, now, "Backend")

	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_slots s LEFT JOIN formations f ON f.id = s.formation_id WHERE 1=1 AND s.formation_id = $1 AND s.date >= $2 ORDER BY s.date ASC, s.start_time ASC LIMIT 50 OFFSET 0")).
		WithArgs("form-1", from).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedule_slots s")).
		WithArgs("form-1", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	slots, total, err := repo.List(context.Background(), models.ScheduleSlotFilter{FormationID: "form-1", DateFrom: &from, SortBy: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, slots, 1)
	assert.Equal(t, "Backend", slots[0].FormationTitle)
	require.NotNil(t, slots[0].InstructorID)
	assert.Equal(t, "inst-1", *slots[0].InstructorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleSlotRepositoryFindOverlapping(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleSlotRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	instructor := "inst-1"
	mock.ExpectQuery(regexp.QuoteMeta("s.date = $1 AND s.start_time < $3 AND s.end_time > $2")).
		WithArgs(date, "10:00", "11:00", "inst-1", "A1", "slot-9").
		WillReturnRows(sqlmock.NewRows(slotRowColumns))

	slots, err := repo.FindOverlapping(context.Background(), date, "10:00", "11:00", &instructor, "A1", "slot-9")
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleSlotRepositoryBulkCreateCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleSlotRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_slots")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_slots")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	slots := []models.ScheduleSlot{
		{FormationID: "form-1", Title: "A", SessionType: models.SessionTypeNormal},
		{FormationID: "form-1", Title: "B", SessionType: models.SessionTypeNormal},
	}
	require.NoError(t, repo.BulkCreate(context.Background(), slots))
	assert.NotEmpty(t, slots[0].ID)
	assert.NotEqual(t, slots[0].ID, slots[1].ID)
	assert.False(t, slots[1].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleSlotRepositoryBulkCreateRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleSlotRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_slots")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_slots")).WillReturnError(errors.New("check violation"))
	mock.ExpectRollback()

	err := repo.BulkCreate(context.Background(), []models.ScheduleSlot{{Title: "A"}, {Title: "B"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleSlotRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleSlotRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_slots WHERE id = $1")).
		WithArgs("slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "slot-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleSlotRepositoryFindByIDMalformed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	_, err := NewScheduleSlotRepository(db).FindByID(context.Background(), "slot-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = NewFormationRepository(db).FindByID(context.Background(), "abc123")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
