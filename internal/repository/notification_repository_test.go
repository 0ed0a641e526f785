package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
)

func TestNotificationRepositoryBulkInsertCopiesInOneTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectBegin()
	copyStmt := mock.ExpectPrepare(regexp.QuoteMeta(`COPY "notifications" ("id", "user_id", "title", "message", "type", "is_read", "metadata", "created_at") FROM STDIN`))
	copyStmt.ExpectExec().WithArgs(sqlmock.AnyArg(), "u1", "Planning", "updated", "info", false, nil, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	copyStmt.ExpectExec().WithArgs(sqlmock.AnyArg(), "u2", "Planning", "updated", "info", false, nil, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	copyStmt.ExpectExec().WithArgs(sqlmock.AnyArg(), "u3", "Planning", "updated", "info", false, `{"slot_id":"s1"}`, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	copyStmt.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	batch := []models.Notification{
		{UserID: "u1", Title: "Planning", Message: "updated"},
		{UserID: "u2", Title: "Planning", Message: "updated"},
		{UserID: "u3", Title: "Planning", Message: "updated", Metadata: json.RawMessage(`{"slot_id":"s1"}`)},
	}
	require.NoError(t, repo.BulkInsert(context.Background(), batch))
	for _, n := range batch {
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, models.NotificationInfo, n.Type)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryBulkInsertRollsBackOnCopyError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectBegin()
	copyStmt := mock.ExpectPrepare(regexp.QuoteMeta(`COPY "notifications"`))
	copyStmt.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	copyStmt.ExpectExec().WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	err := repo.BulkInsert(context.Background(), []models.Notification{
		{UserID: "u1", Title: "Planning", Message: "updated"},
		{UserID: "u2", Title: "Planning", Message: "updated"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryBulkInsertEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	require.NoError(t, NewNotificationRepository(db).BulkInsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListUnread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "message", "type", "is_read", "metadata", "created_at"}).
		AddRow("n1", "u1", "T", "M", "schedule", false, []byte(`{"a":1}`), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1 AND is_read = FALSE ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("u1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.NotificationFilter{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"a":1}`, string(items[0].Metadata))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	const id = "7d0b5c1e-2f43-4a8e-9c61-0f3b9a7e5d21"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs(id, "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkRead(context.Background(), id, "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkRead(context.Background(), "n1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormationRepositoryListMembersByType(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE a.formation_id = $1 AND u.active = TRUE AND a.user_type = $2 ORDER BY u.full_name ASC")).
		WithArgs("form-1", models.ParticipantStudent).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name"}).AddRow("s1", "s1@example.com", "Ada"))

	members, err := repo.ListMembers(context.Background(), "form-1", models.ParticipantStudent)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
