package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
	RoleStaff   UserRole = "STAFF"
)

// Valid reports whether the role is one of the known variants.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleStaff:
		return true
	}
	return false
}

// Gender enumerates stored gender values.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// User represents a directory entry stored in the users table.
type User struct {
	ID             string    `db:"id" json:"id"`
	LastName       string    `db:"last_name" json:"last_name"`
	FirstName      string    `db:"first_name" json:"first_name"`
	MiddleName     *string   `db:"middle_name" json:"middle_name,omitempty"`
	Login          string    `db:"login" json:"login"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	Role           UserRole  `db:"role" json:"role"`
	Gender         Gender    `db:"gender" json:"gender"`
	ClassName      *string   `db:"class_name" json:"class_name,omitempty"`
	GraduationYear *int      `db:"graduation_year" json:"graduation_year,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CreateUserRequest is the payload for creating a directory entry.
type CreateUserRequest struct {
	LastName       string  `json:"last_name" validate:"required,max=100"`
	FirstName      string  `json:"first_name" validate:"required,max=100"`
	MiddleName     *string `json:"middle_name,omitempty" validate:"omitempty,max=100"`
	Login          string  `json:"login" validate:"required,min=3,max=64"`
	Password       string  `json:"password" validate:"required,min=8,max=128"`
	Role           string  `json:"role" validate:"required,oneof=ADMIN TEACHER STUDENT STAFF"`
	Gender         string  `json:"gender" validate:"required,oneof=MALE FEMALE"`
	ClassName      *string `json:"class_name,omitempty" validate:"omitempty,max=16"`
	GraduationYear *int    `json:"graduation_year,omitempty" validate:"omitempty,min=1990,max=2100"`
}

// UpdateUserRequest is the payload for a partial update. Nil fields are left
// untouched.
type UpdateUserRequest struct {
	Login          *string `json:"login,omitempty" validate:"omitempty,min=3,max=64"`
	LastName       *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	FirstName      *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	MiddleName     *string `json:"middle_name,omitempty" validate:"omitempty,max=100"`
	Password       *string `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
	Role           *string `json:"role,omitempty" validate:"omitempty,oneof=ADMIN TEACHER STUDENT STAFF"`
	Gender         *string `json:"gender,omitempty" validate:"omitempty,oneof=MALE FEMALE"`
	ClassName      *string `json:"class_name,omitempty" validate:"omitempty,max=16"`
	GraduationYear *int    `json:"graduation_year,omitempty" validate:"omitempty,min=1990,max=2100"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
