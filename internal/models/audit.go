package models

import "time"

// AuditAction identifies an auditable event.
type AuditAction string

const (
	AuditActionLogin      AuditAction = "LOGIN"
	AuditActionRefresh    AuditAction = "TOKEN_REFRESH"
	AuditActionLogout     AuditAction = "LOGOUT"
	AuditActionUserCreate AuditAction = "USER_CREATE"
	AuditActionUserUpdate AuditAction = "USER_UPDATE"
	AuditActionUserDelete AuditAction = "USER_DELETE"
)

// AuditLog stores a security-relevant event for later review.
type AuditLog struct {
	ID         string      `db:"id" json:"id"`
	UserID     *string     `db:"user_id" json:"user_id,omitempty"`
	Action     AuditAction `db:"action" json:"action"`
	Resource   string      `db:"resource" json:"resource"`
	ResourceID *string     `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte      `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string      `db:"ip_address" json:"ip_address"`
	UserAgent  string      `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}
