package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-auth-api/internal/models"
)

// Distinct store failures for observability. The session manager collapses
// all three into a single unauthorized response.
var (
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	ErrTokenExpired  = errors.New("refresh token expired")
)

// TokenRepository persists refresh-token lineages. Rotation is a single
// transaction guarded by a conditional update, so it stays correct under
// concurrent callers and across replicas without in-process locks.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create generates an opaque token value and persists a fresh lineage record
// for the user.
func (r *TokenRepository) Create(ctx context.Context, userID string, ttl time.Duration) (*models.RefreshToken, error) {
	value, err := newOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := time.Now().UTC()
	rt := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked)`
	if _, err := r.db.NamedExecContext(ctx, query, rt); err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	return rt, nil
}

// Rotate atomically retires the presented token and creates its successor for
// the same user. The conditional UPDATE matches only a live row, so of N
// concurrent rotations of one token exactly one sees an affected row; the
// rest fail with a classified error and the transaction rolls back.
func (r *TokenRepository) Rotate(ctx context.Context, tokenValue string, ttl time.Duration) (*models.RefreshToken, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	var userID string
	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE AND expires_at > $2 RETURNING user_id`
	if err := tx.GetContext(ctx, &userID, revokeQuery, tokenValue, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classify(ctx, tx, tokenValue, now)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	value, err := newOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	next := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked) VALUES ($1, $2, $3, $4, $5, FALSE)`
	if _, err := tx.ExecContext(ctx, insertQuery, next.ID, next.UserID, next.Token, next.ExpiresAt, next.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotate tx: %w", err)
	}
	return next, nil
}

// classify explains why the conditional rotate matched nothing.
func (r *TokenRepository) classify(ctx context.Context, tx *sqlx.Tx, tokenValue string, now time.Time) error {
	var row struct {
		Revoked   bool      `db:"revoked"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	const query = `SELECT revoked, expires_at FROM refresh_tokens WHERE token = $1 LIMIT 1`
	if err := tx.GetContext(ctx, &row, query, tokenValue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("classify refresh token: %w", err)
	}
	if row.Revoked {
		return ErrTokenRevoked
	}
	if !row.ExpiresAt.After(now) {
		return ErrTokenExpired
	}
	return ErrTokenNotFound
}

// Revoke marks the token revoked. Revoking an absent or already-revoked token
// is not an error: logout must not leak token validity.
func (r *TokenRepository) Revoke(ctx context.Context, tokenValue string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, tokenValue, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser retires every live lineage belonging to the user.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose expiry passed before the cutoff. Used by
// the housekeeping job; revocation semantics never depend on it.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted refresh tokens: %w", err)
	}
	return n, nil
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
