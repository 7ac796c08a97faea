package auth

import "errors"

// Role is an authorisation tier.
type Role string

const (
	// RoleViewer may read state but not change it.
	RoleViewer Role = "viewer"

	// RoleOperator has full control of the loop and the device.
	RoleOperator Role = "operator"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return r == RoleViewer || r == RoleOperator
}

// Permission is a named capability.
type Permission string

const (
	PermStatsRead     Permission = "stats:read"
	PermControl       Permission = "loop:control"
	PermDeviceOperate Permission = "device:operate"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermStatsRead},
	RoleOperator: {PermStatsRead, PermControl, PermDeviceOperate},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
)
