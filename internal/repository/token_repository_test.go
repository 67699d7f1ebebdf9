package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	rt, err := repo.Create(context.Background(), "u1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "u1", rt.UserID)
	assert.NotEmpty(t, rt.Token)
	assert.True(t, rt.ExpiresAt.After(time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenCreateValuesAreUnpredictable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	first, err := repo.Create(context.Background(), "u1", time.Hour)
	require.NoError(t, err)
	second, err := repo.Create(context.Background(), "u1", time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.GreaterOrEqual(t, len(first.Token), 43)
}

func TestTokenRotateSuccess(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE AND expires_at > $2 RETURNING user_id")).
		WithArgs("old-token", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked) VALUES ($1, $2, $3, $4, $5, FALSE)")).
		WithArgs(sqlmock.AnyArg(), "u1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, err := repo.Rotate(context.Background(), "old-token", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "u1", next.UserID)
	assert.NotEqual(t, "old-token", next.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRotateUnknownToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT revoked, expires_at FROM refresh_tokens WHERE token = $1 LIMIT 1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"revoked", "expires_at"}))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "ghost", time.Hour)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRotateRevokedToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").
		WithArgs("used-token", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery("SELECT revoked, expires_at FROM refresh_tokens").
		WithArgs("used-token").
		WillReturnRows(sqlmock.NewRows([]string{"revoked", "expires_at"}).AddRow(true, time.Now().Add(time.Hour)))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "used-token", time.Hour)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRotateExpiredToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE refresh_tokens SET revoked").
		WithArgs("stale-token", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery("SELECT revoked, expires_at FROM refresh_tokens").
		WithArgs("stale-token").
		WillReturnRows(sqlmock.NewRows([]string{"revoked", "expires_at"}).AddRow(false, time.Now().Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "stale-token", time.Hour)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRevoke(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE")).
		WithArgs("token", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Revoke(context.Background(), "token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRevokeMissingIsNotAnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE refresh_tokens SET revoked").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Revoke(context.Background(), "ghost"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.RevokeAllForUser(context.Background(), "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenDeleteExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	before := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.DeleteExpired(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenDeleteExpiredRowCountFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	before := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows affected unavailable")))

	_, err := repo.DeleteExpired(context.Background(), before)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
