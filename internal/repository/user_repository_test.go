package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "active", "last_login", "created_at", "updated_at"}).
		AddRow("1", "user@example.com", "hash", "User", string(models.RoleAdmin), true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash, full_name, role, active, last_login, created_at, updated_at FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{UserID: "u1", Token: "token", ExpiresAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindInstructorIDsByName(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE role = $1 AND active = TRUE AND LOWER(full_name) = ANY($2)")).
		WithArgs(models.RoleInstructor, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"name", "id"}).AddRow("alice martin", "inst-1"))

	ids, err := repo.FindInstructorIDsByName(context.Background(), []string{" Alice Martin ", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice martin": "inst-1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindInstructorIDsByNameSkipsEmptyInput(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	ids, err := repo.FindInstructorIDsByName(context.Background(), []string{"  "})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecipientsByRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name FROM users WHERE active = TRUE AND role = $1")).
		WithArgs(models.RoleInstructor).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name"}).
			AddRow("i1", "a@example.com", "Alice").
			AddRow("i2", "b@example.com", "Bob"))

	recipients, err := repo.ListRecipientsByRole(context.Background(), models.RoleInstructor)
	require.NoError(t, err)
	assert.Len(t, recipients, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecipientsSkipsMalformedIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	recipients, err := repo.ListRecipients(context.Background(), []string{"abc123", "u-1"})
	require.NoError(t, err)
	assert.Empty(t, recipients)

	const id = "5b2e7a90-1c3d-4e8f-a6b4-9d0c2e1f3a57"
	rows := sqlmock.NewRows([]string{"id", "email", "full_name"}).AddRow(id, "alice@example.com", "Alice")
	mock.ExpectQuery("SELECT id, email, full_name FROM users WHERE active = TRUE AND id = ANY").
		WithArgs(pq.Array([]string{id})).
		WillReturnRows(rows)

	recipients, err = repo.ListRecipients(context.Background(), []string{"abc123", id})
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "Alice", recipients[0].FullName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
