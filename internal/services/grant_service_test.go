package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

func saveWarehouse(t *testing.T, f *serviceFixture, conns *ConnectionService) string {
	t.Helper()
	f.mockHandle(t)
	res, err := conns.Save(context.Background(), "alice", warehouseInput())
	require.NoError(t, err)
	return res.ID
}

func TestGrantUpsertUpdatesInPlace(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")
	id := saveWarehouse(t, f, f.connections(t, ConnectionPolicy{}))
	ctx := context.Background()

	grant, err := f.grants.Upsert(ctx, "alice", id, GrantInput{Username: "Bob", Role: permissions.RoleViewer})
	require.NoError(t, err)
	require.Equal(t, "bob", grant.Username)
	require.Equal(t, "alice", grant.GrantedBy)

	grant, err = f.grants.Upsert(ctx, "alice", id, GrantInput{Username: "bob", Role: permissions.RoleEditor})
	require.NoError(t, err)
	require.Equal(t, permissions.RoleEditor, grant.RoleName)

	var count int64
	require.NoError(t, f.db.Model(&models.Grant{}).Where("resource_id = ?", id).Count(&count).Error)
	require.EqualValues(t, 1, count)

	perms, err := f.engine.PermissionsFor(ctx, "bob", id)
	require.NoError(t, err)
	require.True(t, perms.Has(permissions.ExecuteSQLWrite))

	ids, err := f.grants.ResourcesGrantedTo(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	grantees, err := f.grants.GranteesOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, grantees)
}

func TestGrantRequiresExistingUserAndRole(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")
	id := saveWarehouse(t, f, f.connections(t, ConnectionPolicy{}))
	ctx := context.Background()

	_, err := f.grants.Upsert(ctx, "alice", id, GrantInput{Username: "ghost", Role: permissions.RoleViewer})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.grants.Upsert(ctx, "alice", id, GrantInput{Username: "bob", Role: "ghost"})
	require.ErrorIs(t, err, ErrRoleNotFound)

	_, err = f.grants.Upsert(ctx, "alice", id, GrantInput{Username: "alice", Role: permissions.RoleViewer})
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = f.grants.Upsert(ctx, "alice", "unknown00000", GrantInput{Username: "bob", Role: permissions.RoleViewer})
	require.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestGrantManagementIsOwnerOnly(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")
	f.register(t, "carol")
	id := saveWarehouse(t, f, f.connections(t, ConnectionPolicy{}))
	ctx := context.Background()

	_, err := f.grants.Upsert(ctx, "alice", id, GrantInput{Username: "bob", Role: permissions.RoleViewer})
	require.NoError(t, err)

	_, err = f.grants.Upsert(ctx, "bob", id, GrantInput{Username: "carol", Role: permissions.RoleViewer})
	require.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	_, err = f.grants.ListForResource(ctx, "bob", id)
	require.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	own, err := f.grants.ListForUser(ctx, "bob", "bob")
	require.NoError(t, err)
	require.Len(t, own, 1)

	_, err = f.grants.ListForUser(ctx, "bob", "carol")
	require.Error(t, err)

	require.NoError(t, f.grants.Delete(ctx, "alice", id, "bob"))
	require.ErrorIs(t, f.grants.Delete(ctx, "alice", id, "bob"), ErrGrantNotFound)
}
