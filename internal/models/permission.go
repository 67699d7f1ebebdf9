package models

// Permission names a single capability embedded into access tokens.
type Permission string

const (
	PermUsersRead    Permission = "users:read"
	PermUsersWrite   Permission = "users:write"
	PermUsersDelete  Permission = "users:delete"
	PermUsersExport  Permission = "users:export"
	PermTokensRevoke Permission = "tokens:revoke"
	PermProfileRead  Permission = "profile:read"
)

// rolePermissions is the static role to capability table. It is resolved once
// at token issue time and carried inside the token, so verification never
// needs a directory lookup.
var rolePermissions = map[UserRole][]Permission{
	RoleAdmin: {
		PermUsersRead,
		PermUsersWrite,
		PermUsersDelete,
		PermUsersExport,
		PermTokensRevoke,
		PermProfileRead,
	},
	RoleTeacher: {PermProfileRead},
	RoleStaff:   {PermProfileRead},
	RoleStudent: {PermProfileRead},
}

// PermissionsForRole returns the capability set for a role as claim strings.
// Unknown roles carry no permissions.
func PermissionsForRole(role UserRole) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
