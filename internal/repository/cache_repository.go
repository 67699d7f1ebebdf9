package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/school-auth-api/internal/models"
)

// ErrCacheMiss signals an absent cache entry; callers fall through to the
// database.
var ErrCacheMiss = errors.New("cache miss")

const userCacheTTL = 5 * time.Minute

// CacheRepository keeps a short-lived Redis copy of user records to spare the
// directory a database round trip on hot read paths such as /auth/me. A nil
// client degrades to pass-through: the cache is an optimization, never a
// source of truth, and token verification never consults it.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// GetUser returns the cached user record, or ErrCacheMiss.
func (r *CacheRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	if r.client == nil {
		return nil, ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get user %s: %w", id, err)
	}

	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("unmarshal cached user %s: %w", id, err)
	}
	return &user, nil
}

// SetUser stores the user record. The password hash is never cached.
func (r *CacheRepository) SetUser(ctx context.Context, user *models.User) error {
	if r.client == nil || user == nil {
		return nil
	}

	sanitized := *user
	sanitized.PasswordHash = ""

	payload, err := json.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", user.ID, err)
	}
	if err := r.client.Set(ctx, userKey(user.ID), payload, userCacheTTL).Err(); err != nil {
		return fmt.Errorf("redis set user %s: %w", user.ID, err)
	}
	return nil
}

// InvalidateUser drops the cached record after a mutation or delete.
func (r *CacheRepository) InvalidateUser(ctx context.Context, id string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, userKey(id)).Err(); err != nil {
		r.logger.Warn("failed to invalidate user cache", zap.String("user_id", id), zap.Error(err))
	}
}

func userKey(id string) string {
	return "user:" + id
}
