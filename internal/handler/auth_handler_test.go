package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-auth-api/internal/middleware"
	"github.com/noah-isme/school-auth-api/internal/models"
	"github.com/noah-isme/school-auth-api/internal/repository"
	"github.com/noah-isme/school-auth-api/internal/service"
	"github.com/noah-isme/school-auth-api/internal/token"
	"github.com/noah-isme/school-auth-api/pkg/response"
)

type memDirectory struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemDirectory(users ...*models.User) *memDirectory {
	d := &memDirectory{users: map[string]*models.User{}}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *memDirectory) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Login == login {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (d *memDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (d *memDirectory) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]*models.RefreshToken{}}
}

func (s *memTokenStore) Create(ctx context.Context, userID string, ttl time.Duration) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := &models.RefreshToken{ID: uuid.NewString(), UserID: userID, Token: uuid.NewString(), ExpiresAt: time.Now().Add(ttl)}
	s.tokens[rt.Token] = rt
	return rt, nil
}

func (s *memTokenStore) Rotate(ctx context.Context, tokenValue string, ttl time.Duration) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokens[tokenValue]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	if rt.Revoked {
		return nil, repository.ErrTokenRevoked
	}
	if !rt.ExpiresAt.After(time.Now()) {
		return nil, repository.ErrTokenExpired
	}
	rt.Revoked = true
	next := &models.RefreshToken{ID: uuid.NewString(), UserID: rt.UserID, Token: uuid.NewString(), ExpiresAt: time.Now().Add(ttl)}
	s.tokens[next.Token] = next
	return next, nil
}

func (s *memTokenStore) Revoke(ctx context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.tokens[tokenValue]; ok {
		rt.Revoked = true
	}
	return nil
}

type knownPasswordHasher struct{ valid string }

func (h knownPasswordHasher) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	return password == h.valid, nil
}

func (h knownPasswordHasher) CompareDummy(ctx context.Context, password string) {}

func newAuthTestRouter(t *testing.T, user *models.User, password string) (*gin.Engine, *memTokenStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	codec, err := token.NewCodec(token.Config{Secret: "handler-test-secret", Issuer: "school-auth"})
	require.NoError(t, err)

	tokens := newMemTokenStore()
	authSvc := service.NewAuthService(newMemDirectory(user), tokens, knownPasswordHasher{valid: password}, codec, validator.New(), zap.NewNop(), nil, service.AuthConfig{
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	})
	h := NewAuthHandler(authSvc, nil)

	router := gin.New()
	auth := router.Group("/api/v1/auth")
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), h.Logout)
	auth.POST("/verify", middleware.JWT(authSvc), h.Verify)
	return router, tokens
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	return postJSONAuth(router, path, "", body)
}

func postJSONAuth(router *gin.Engine, path, accessToken string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodePair(t *testing.T, rec *httptest.ResponseRecorder) models.TokenPairResponse {
	t.Helper()
	var envelope struct {
		Data models.TokenPairResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func sampleUser() *models.User {
	return &models.User{ID: uuid.NewString(), Login: "ivanov", PasswordHash: "stored", Role: models.RoleAdmin}
}

func TestAuthHandlerLogin(t *testing.T) {
	router, _ := newAuthTestRouter(t, sampleUser(), "pw")

	rec := postJSON(router, "/api/v1/auth/login", gin.H{"login": "ivanov", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	pair := decodePair(t, rec)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
}

func TestAuthHandlerLoginFailureIsUniform(t *testing.T) {
	router, _ := newAuthTestRouter(t, sampleUser(), "pw")

	wrongPassword := postJSON(router, "/api/v1/auth/login", gin.H{"login": "ivanov", "password": "nope"})
	unknownLogin := postJSON(router, "/api/v1/auth/login", gin.H{"login": "ghost", "password": "nope"})

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownLogin.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownLogin.Body.String())
}

func TestAuthHandlerRefreshSingleUse(t *testing.T) {
	router, _ := newAuthTestRouter(t, sampleUser(), "pw")

	login := postJSON(router, "/api/v1/auth/login", gin.H{"login": "ivanov", "password": "pw"})
	require.Equal(t, http.StatusOK, login.Code)
	pair := decodePair(t, login)

	first := postJSON(router, "/api/v1/auth/refresh", gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, first.Code)
	next := decodePair(t, first)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	replay := postJSON(router, "/api/v1/auth/refresh", gin.H{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, replay.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(replay.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
}

func TestAuthHandlerVerify(t *testing.T) {
	user := sampleUser()
	router, _ := newAuthTestRouter(t, user, "pw")

	login := postJSON(router, "/api/v1/auth/login", gin.H{"login": "ivanov", "password": "pw"})
	pair := decodePair(t, login)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data models.VerifyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, user.ID, envelope.Data.UserID)
	assert.Equal(t, models.RoleAdmin, envelope.Data.Role)
	assert.Contains(t, envelope.Data.Permissions, "users:write")
}

func TestAuthHandlerVerifyRejectsMissingToken(t *testing.T) {
	router, _ := newAuthTestRouter(t, sampleUser(), "pw")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerLogout(t *testing.T) {
	router, tokens := newAuthTestRouter(t, sampleUser(), "pw")

	login := postJSON(router, "/api/v1/auth/login", gin.H{"login": "ivanov", "password": "pw"})
	pair := decodePair(t, login)

	logout := postJSONAuth(router, "/api/v1/auth/logout", pair.AccessToken, gin.H{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusOK, logout.Code)

	// Logging out twice is still a success.
	again := postJSONAuth(router, "/api/v1/auth/logout", pair.AccessToken, gin.H{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusOK, again.Code)

	_, err := tokens.Rotate(context.Background(), pair.RefreshToken, time.Hour)
	assert.ErrorIs(t, err, repository.ErrTokenRevoked)
}

func TestAuthHandlerLogoutRequiresAccessToken(t *testing.T) {
	router, _ := newAuthTestRouter(t, sampleUser(), "pw")

	rec := postJSON(router, "/api/v1/auth/logout", gin.H{"refresh_token": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
