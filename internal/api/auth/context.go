package auth

import "errors"

// ErrInsufficientPermissions is returned when the acting user's role does
// not allow an operation.
var ErrInsufficientPermissions = errors.New("auth: insufficient permissions")

// AuthContext is the explicit per-request actor passed into handlers. It is
// built once by the middleware from the validated token; handlers never read
// ambient session state.
type AuthContext struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Permission represents a specific permission.
type Permission string

const (
	PermissionViewLicenses   Permission = "view_licenses"
	PermissionManageLicenses Permission = "manage_licenses"
	PermissionRevokeLicenses Permission = "revoke_licenses"
	PermissionDeleteLicenses Permission = "delete_licenses"
	PermissionViewLogs       Permission = "view_logs"
	PermissionManageSettings Permission = "manage_settings"
)

// HasPermission checks whether the actor's role grants a permission.
// Viewers read, managers run the day-to-day lifecycle, admins also get the
// terminal operations and settings.
func (ac *AuthContext) HasPermission(permission Permission) bool {
	switch permission {
	case PermissionViewLicenses, PermissionViewLogs:
		return ac.Role == RoleAdmin || ac.Role == RoleManager || ac.Role == RoleViewer
	case PermissionManageLicenses:
		return ac.Role == RoleAdmin || ac.Role == RoleManager
	case PermissionRevokeLicenses, PermissionDeleteLicenses, PermissionManageSettings:
		return ac.Role == RoleAdmin
	default:
		return false
	}
}

// RequirePermission returns ErrInsufficientPermissions when the permission
// is not granted.
func (ac *AuthContext) RequirePermission(permission Permission) error {
	if !ac.HasPermission(permission) {
		return ErrInsufficientPermissions
	}
	return nil
}
