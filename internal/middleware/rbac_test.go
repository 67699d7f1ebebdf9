package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/school-auth-api/internal/models"
)

func performRequireRoles(claims *models.AccessClaims, roles ...models.UserRole) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users", nil)
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}

	RequireRoles(roles...)(c)
	if !c.IsAborted() {
		c.Status(http.StatusOK)
	}
	return rec
}

func TestRequireRolesAllowsMatchingRole(t *testing.T) {
	claims := &models.AccessClaims{UserID: "u1", Role: models.RoleAdmin}
	rec := performRequireRoles(claims, models.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRolesRejectsOtherRole(t *testing.T) {
	claims := &models.AccessClaims{UserID: "u1", Role: models.RoleStudent}
	rec := performRequireRoles(claims, models.RoleAdmin, models.RoleTeacher)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRolesRejectsNonAdminDirectoryRoles(t *testing.T) {
	for _, role := range []models.UserRole{models.RoleTeacher, models.RoleStaff, models.RoleStudent} {
		claims := &models.AccessClaims{UserID: "u1", Role: role}
		rec := performRequireRoles(claims, models.RoleAdmin)
		assert.Equal(t, http.StatusForbidden, rec.Code, "role %s", role)
	}
}

func TestRequireRolesRequiresClaims(t *testing.T) {
	rec := performRequireRoles(nil, models.RoleAdmin)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
