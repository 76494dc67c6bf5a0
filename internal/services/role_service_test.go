package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

func TestRoleLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	role, err := f.roles.Create(ctx, "alice", RoleInput{
		Name:        "analyst",
		Description: "Reads and writes",
		Permissions: []string{permissions.ExecuteSQLWrite, permissions.ExecuteSQLRead, permissions.ExecuteSQLRead},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{permissions.ExecuteSQLRead, permissions.ExecuteSQLWrite}, role.PermissionList())

	_, err = f.roles.Create(ctx, "alice", RoleInput{Name: "analyst"})
	require.ErrorIs(t, err, ErrRoleExists)

	updated, err := f.roles.Update(ctx, "alice", "analyst", RoleInput{Permissions: []string{permissions.ExecuteSQLRead}})
	require.NoError(t, err)
	require.Equal(t, []string{permissions.ExecuteSQLRead}, updated.PermissionList())

	require.NoError(t, f.roles.Delete(ctx, "alice", "analyst"))
	_, err = f.roles.Get(ctx, "alice", "analyst")
	require.ErrorIs(t, err, ErrRoleNotFound)
}

func TestRoleRejectsUnknownPermission(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")

	_, err := f.roles.Create(context.Background(), "alice", RoleInput{Name: "odd", Permissions: []string{"launch_rockets"}})
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	require.Contains(t, err.Error(), "launch_rockets")
}

func TestSystemRolesAreImmutable(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	_, err := f.roles.Update(ctx, "alice", permissions.RoleViewer, RoleInput{Permissions: []string{permissions.ExecuteSQLDDL}})
	require.ErrorIs(t, err, ErrSystemRoleImmutable)

	err = f.roles.Delete(ctx, "alice", permissions.RoleEditor)
	require.ErrorIs(t, err, ErrSystemRoleImmutable)

	roles, err := f.roles.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, roles, 3)
	for _, role := range roles {
		require.True(t, role.IsSystem)
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")
	ctx := context.Background()

	_, err := f.roles.Create(ctx, "alice", RoleInput{Name: "auditor", Permissions: []string{permissions.APIAccess}})
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.Grant{Username: "bob", ResourceID: "res000000001", RoleName: "auditor"}).Error)

	err = f.roles.Delete(ctx, "alice", "auditor")
	require.ErrorIs(t, err, ErrRoleInUse)

	require.NoError(t, f.db.Where("role_name = ?", "auditor").Delete(&models.Grant{}).Error)
	_, err = f.users.SetRole(ctx, "alice", "bob", "auditor")
	require.NoError(t, err)

	err = f.roles.Delete(ctx, "alice", "auditor")
	require.ErrorIs(t, err, ErrRoleInUse)
}

func TestRoleManagementRequiresPermission(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")

	_, err := f.roles.List(context.Background(), "bob")
	require.Error(t, err)
	require.Contains(t, err.Error(), permissions.ManageRoles)
}
