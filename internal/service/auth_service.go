package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-auth-api/internal/models"
	"github.com/noah-isme/school-auth-api/internal/repository"
	"github.com/noah-isme/school-auth-api/internal/token"
	appErrors "github.com/noah-isme/school-auth-api/pkg/errors"
)

const tokenTypeBearer = "bearer"

type credentialDirectory interface {
	FindByLogin(ctx context.Context, login string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type refreshTokenStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (*models.RefreshToken, error)
	Rotate(ctx context.Context, tokenValue string, ttl time.Duration) (*models.RefreshToken, error)
	Revoke(ctx context.Context, tokenValue string) error
}

type passwordVerifier interface {
	Verify(ctx context.Context, password, encodedHash string) (bool, error)
	CompareDummy(ctx context.Context, password string)
}

// AuthConfig defines token lifetimes for issued pairs.
type AuthConfig struct {
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// AuthService orchestrates the session lifecycle: login issues a fresh
// refresh lineage plus an access token, refresh rotates the lineage, logout
// retires it, and verify decodes access tokens without touching storage.
type AuthService struct {
	users     credentialDirectory
	tokens    refreshTokenStore
	hasher    passwordVerifier
	codec     *token.Codec
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users credentialDirectory, tokens refreshTokenStore, hasher passwordVerifier, codec *token.Codec, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		codec:     codec,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Login authenticates credentials and returns an issued token pair. Unknown
// logins and wrong passwords are indistinguishable to the caller: both run a
// hash comparison and both answer INVALID_CREDENTIALS.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByLogin(ctx, req.Login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.hasher.CompareDummy(ctx, req.Password)
			s.metrics.ObserveLogin("failure")
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	ok, err := s.hasher.Verify(ctx, req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unverifiable", zap.String("user_id", user.ID), zap.Error(err))
		s.metrics.ObserveLogin("failure")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	if !ok {
		s.metrics.ObserveLogin("failure")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	accessToken, err := s.codec.Issue(user.ID, user.Role, s.config.AccessTokenExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue access token")
	}

	refresh, err := s.tokens.Create(ctx, user.ID, s.config.RefreshTokenExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	s.audit(ctx, models.AuditActionLogin, user.ID, req.IP, req.UserAgent)
	s.metrics.ObserveLogin("success")

	return &models.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		TokenType:    tokenTypeBearer,
	}, nil
}

// Refresh rotates the presented refresh token and issues a new pair. Every
// store failure collapses to a uniform unauthorized response; the distinct
// cause is only logged and counted.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	next, err := s.tokens.Rotate(ctx, req.RefreshToken, s.config.RefreshTokenExpiry)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTokenNotFound),
			errors.Is(err, repository.ErrTokenRevoked),
			errors.Is(err, repository.ErrTokenExpired):
			s.logger.Info("refresh rejected", zap.String("reason", err.Error()), zap.String("ip", req.IP))
			s.metrics.ObserveRefresh(refreshOutcome(err))
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
		}
	}

	user, err := s.users.FindByID(ctx, next.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lineage outlived its user; retire it.
			if revokeErr := s.tokens.Revoke(ctx, next.Token); revokeErr != nil {
				s.logger.Warn("failed to revoke orphaned refresh token", zap.Error(revokeErr))
			}
			s.metrics.ObserveRefresh("orphaned")
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, err := s.codec.Issue(user.ID, user.Role, s.config.AccessTokenExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue access token")
	}

	s.audit(ctx, models.AuditActionRefresh, user.ID, req.IP, req.UserAgent)
	s.metrics.ObserveRefresh("success")

	return &models.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		TokenType:    tokenTypeBearer,
	}, nil
}

// Logout revokes the refresh token. It succeeds from the caller's view even
// when the token never existed, so the endpoint cannot be used to probe
// token validity.
func (s *AuthService) Logout(ctx context.Context, refreshToken, userID, ip, userAgent string) error {
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		s.logger.Warn("logout revoke failed", zap.Error(err))
	}
	s.audit(ctx, models.AuditActionLogout, userID, ip, userAgent)
	return nil
}

// Verify decodes an access token without any storage access. The three codec
// failure modes are logged distinctly and all surface as unauthorized.
func (s *AuthService) Verify(tokenString string) (*models.AccessClaims, error) {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			s.metrics.ObserveVerify("expired")
		case errors.Is(err, token.ErrInvalidSignature):
			s.logger.Warn("access token signature rejected")
			s.metrics.ObserveVerify("bad_signature")
		default:
			s.metrics.ObserveVerify("malformed")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	s.metrics.ObserveVerify("success")
	return claims, nil
}

func (s *AuthService) audit(ctx context.Context, action models.AuditAction, userID, ip, userAgent string) {
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if userID == "" {
		entry.UserID = nil
		entry.ResourceID = nil
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", string(action)), zap.Error(err))
	}
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, repository.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, repository.ErrTokenExpired):
		return "expired"
	default:
		return "not_found"
	}
}
