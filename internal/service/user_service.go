package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-auth-api/internal/models"
	"github.com/noah-isme/school-auth-api/internal/repository"
	appErrors "github.com/noah-isme/school-auth-api/pkg/errors"
	"github.com/noah-isme/school-auth-api/pkg/export"
)

type userRepository interface {
	FindByLogin(ctx context.Context, login string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) (bool, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userCache interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	SetUser(ctx context.Context, user *models.User) error
	InvalidateUser(ctx context.Context, id string)
}

type tokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

type passwordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
}

// UserService manages the school directory: the user records that
// credentials and roles are resolved against.
type UserService struct {
	repo      userRepository
	cache     userCache
	tokens    tokenRevoker
	hasher    passwordHasher
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewUserService constructs a UserService instance.
func NewUserService(repo userRepository, cache userCache, tokens tokenRevoker, hasher passwordHasher, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:      repo,
		cache:     cache,
		tokens:    tokens,
		hasher:    hasher,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
	}
}

// List returns a page of directory entries.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	pagination := &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	}
	return users, pagination, nil
}

// Get returns a directory entry, trying the cache before the database.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	if cached, err := s.cache.GetUser(ctx, id); err == nil {
		s.metrics.RecordCacheOperation(true)
		return cached, nil
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("user cache lookup failed", zap.Error(err))
	}
	s.metrics.RecordCacheOperation(false)

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if err := s.cache.SetUser(ctx, user); err != nil {
		s.logger.Warn("user cache write failed", zap.Error(err))
	}
	return user, nil
}

// Create registers a new directory entry with a freshly hashed password.
func (s *UserService) Create(ctx context.Context, req models.CreateUserRequest, actorID, ip, userAgent string) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	start := time.Now()
	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	s.metrics.ObserveHash(time.Since(start))

	user := &models.User{
		LastName:       req.LastName,
		FirstName:      req.FirstName,
		MiddleName:     req.MiddleName,
		Login:          req.Login,
		PasswordHash:   hash,
		Role:           models.UserRole(req.Role),
		Gender:         models.Gender(req.Gender),
		ClassName:      req.ClassName,
		GraduationYear: req.GraduationYear,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateLogin) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "login already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.auditUser(ctx, models.AuditActionUserCreate, actorID, user.ID, ip, userAgent)
	return user, nil
}

// Update applies a partial update. Changing the password revokes every
// refresh token the user holds.
func (s *UserService) Update(ctx context.Context, id string, req models.UpdateUserRequest, actorID, ip, userAgent string) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	passwordChanged := false
	if req.Login != nil {
		user.Login = *req.Login
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.MiddleName != nil {
		user.MiddleName = req.MiddleName
	}
	if req.Role != nil {
		user.Role = models.UserRole(*req.Role)
	}
	if req.Gender != nil {
		user.Gender = models.Gender(*req.Gender)
	}
	if req.ClassName != nil {
		user.ClassName = req.ClassName
	}
	if req.GraduationYear != nil {
		user.GraduationYear = req.GraduationYear
	}
	if req.Password != nil {
		start := time.Now()
		hash, err := s.hasher.Hash(ctx, *req.Password)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		s.metrics.ObserveHash(time.Since(start))
		user.PasswordHash = hash
		passwordChanged = true
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateLogin) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "login already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	if passwordChanged {
		if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke sessions after password change", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.cache.InvalidateUser(ctx, user.ID)
	s.auditUser(ctx, models.AuditActionUserUpdate, actorID, user.ID, ip, userAgent)
	return user, nil
}

// Delete removes a directory entry. The user's refresh tokens are revoked
// first so a concurrent refresh cannot resurrect the session.
func (s *UserService) Delete(ctx context.Context, id, actorID, ip, userAgent string) error {
	if err := s.tokens.RevokeAllForUser(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke user sessions")
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}

	s.cache.InvalidateUser(ctx, id)
	s.auditUser(ctx, models.AuditActionUserDelete, actorID, id, ip, userAgent)
	return nil
}

// Export renders the full directory in the requested format.
func (s *UserService) Export(ctx context.Context, format export.Format) ([]byte, string, error) {
	if !format.Valid() {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	filter := models.UserFilter{Page: 1, PageSize: exportPageSize, SortBy: "login", SortOrder: "asc"}
	var rows []map[string]string
	for {
		users, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users for export")
		}
		for _, u := range users {
			rows = append(rows, exportRow(u))
		}
		if filter.Page*filter.PageSize >= total || len(users) == 0 {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Headers: exportHeaders,
		Rows:    rows,
	}

	var payload []byte
	var err error
	switch format {
	case export.FormatPDF:
		payload, err = export.NewPDFExporter().Render(dataset, "School Directory")
	default:
		payload, err = export.NewCSVExporter().Render(dataset)
	}
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return payload, format.ContentType(), nil
}

// EnsureAdmin seeds the bootstrap administrator account if no user with the
// configured login exists.
func (s *UserService) EnsureAdmin(ctx context.Context, login, password string) error {
	_, err := s.repo.FindByLogin(ctx, login)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check admin account: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := &models.User{
		LastName:     "Admin",
		FirstName:    "System",
		Login:        login,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Gender:       models.GenderMale,
	}
	if err := s.repo.Create(ctx, admin); err != nil {
		// Another instance may have seeded it first.
		if errors.Is(err, repository.ErrDuplicateLogin) {
			return nil
		}
		return fmt.Errorf("seed admin account: %w", err)
	}
	s.logger.Info("seeded bootstrap admin account", zap.String("login", login))
	return nil
}

const exportPageSize = 100

var exportHeaders = []string{"Login", "Last Name", "First Name", "Middle Name", "Role", "Gender", "Class", "Graduation Year"}

func exportRow(u models.User) map[string]string {
	row := map[string]string{
		"Login":      u.Login,
		"Last Name":  u.LastName,
		"First Name": u.FirstName,
		"Role":       string(u.Role),
		"Gender":     string(u.Gender),
	}
	if u.MiddleName != nil {
		row["Middle Name"] = *u.MiddleName
	}
	if u.ClassName != nil {
		row["Class"] = *u.ClassName
	}
	if u.GraduationYear != nil {
		row["Graduation Year"] = strconv.Itoa(*u.GraduationYear)
	}
	return row
}

func (s *UserService) auditUser(ctx context.Context, action models.AuditAction, actorID, targetID, ip, userAgent string) {
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &targetID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", string(action)), zap.Error(err))
	}
}
