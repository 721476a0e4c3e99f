package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionMatrix(t *testing.T) {
	tests := []struct {
		role       string
		permission Permission
		want       bool
	}{
		{RoleViewer, PermissionViewLicenses, true},
		{RoleViewer, PermissionViewLogs, true},
		{RoleViewer, PermissionManageLicenses, false},
		{RoleViewer, PermissionRevokeLicenses, false},
		{RoleViewer, PermissionManageSettings, false},

		{RoleManager, PermissionViewLicenses, true},
		{RoleManager, PermissionManageLicenses, true},
		{RoleManager, PermissionRevokeLicenses, false},
		{RoleManager, PermissionDeleteLicenses, false},
		{RoleManager, PermissionManageSettings, false},

		{RoleAdmin, PermissionViewLicenses, true},
		{RoleAdmin, PermissionManageLicenses, true},
		{RoleAdmin, PermissionRevokeLicenses, true},
		{RoleAdmin, PermissionDeleteLicenses, true},
		{RoleAdmin, PermissionManageSettings, true},
	}

	for _, tt := range tests {
		ac := &AuthContext{Role: tt.role}
		assert.Equal(t, tt.want, ac.HasPermission(tt.permission), "%s / %s", tt.role, tt.permission)
	}
}

func TestRequirePermission(t *testing.T) {
	ac := &AuthContext{Role: RoleViewer}
	assert.NoError(t, ac.RequirePermission(PermissionViewLicenses))
	assert.ErrorIs(t, ac.RequirePermission(PermissionDeleteLicenses), ErrInsufficientPermissions)
}

func TestUnknownPermissionDenied(t *testing.T) {
	ac := &AuthContext{Role: RoleAdmin}
	assert.False(t, ac.HasPermission(Permission("launch_missiles")))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	assert.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "wrong password"))
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleAdmin))
	assert.True(t, ValidRole(RoleManager))
	assert.True(t, ValidRole(RoleViewer))
	assert.False(t, ValidRole("root"))
	assert.False(t, ValidRole(""))
}
