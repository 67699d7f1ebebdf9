package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-auth-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func userRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "last_name", "first_name", "middle_name", "login", "password_hash", "role", "gender", "class_name", "graduation_year", "created_at", "updated_at"}).
		AddRow("u1", "Ivanov", "Ivan", nil, "ivanov", "hash", string(models.RoleStudent), string(models.GenderMale), "10A", 2027, now, now)
}

func TestFindByLogin(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, last_name, first_name, middle_name, login, password_hash, role, gender, class_name, graduation_year, created_at, updated_at FROM users WHERE login = $1 LIMIT 1")).
		WithArgs("ivanov").
		WillReturnRows(userRows(now))

	user, err := repo.FindByLogin(context.Background(), "ivanov")
	require.NoError(t, err)
	assert.Equal(t, "ivanov", user.Login)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByLoginMissingReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .* FROM users WHERE login").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByLogin(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, last_name, first_name, middle_name, login, password_hash, role, gender, class_name, graduation_year, created_at, updated_at FROM users WHERE 1=1 AND role = $1 AND (LOWER(login) LIKE $2 OR LOWER(last_name) LIKE $2 OR LOWER(first_name) LIKE $2) ORDER BY login ASC LIMIT 20 OFFSET 0")).
		WithArgs(models.RoleStudent, "%iva%").
		WillReturnRows(userRows(now))

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1 AND role = $1")).
		WithArgs(models.RoleStudent, "%iva%").
		WillReturnRows(countRows)

	role := models.RoleStudent
	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role, Search: "Iva", SortBy: "login", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersIgnoresUnknownSortColumn(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(userRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, _, err := repo.List(context.Background(), models.UserFilter{SortBy: "password_hash; DROP TABLE users"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{LastName: "Petrova", FirstName: "Anna", Login: "apetrova", PasswordHash: "hash", Role: models.RoleTeacher, Gender: models.GenderFemale}
	err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateLogin(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.User{Login: "apetrova", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, ErrDuplicateLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET").WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{ID: "u1", LastName: "Smirnov", FirstName: "Ivan", Login: "ivanov", PasswordHash: "hash", Role: models.RoleStudent, Gender: models.GenderMale}
	err := repo.Update(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, user.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.Delete(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserRowCountFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows affected unavailable")))

	deleted, err := repo.Delete(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	userID := "u1"
	entry := &models.AuditLog{UserID: &userID, Action: models.AuditActionLogin, Resource: "auth", IPAddress: "10.0.0.1"}
	err := repo.CreateAuditLog(context.Background(), entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
