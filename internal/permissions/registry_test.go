package permissions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterPreventsDuplicates(t *testing.T) {
	id := "test_unique_permission"
	require.NoError(t, Register(&Permission{ID: id}))
	t.Cleanup(func() { removePermission(id) })

	require.Error(t, Register(&Permission{ID: id}))
	require.Error(t, Register(&Permission{ID: "  "}))
	require.Error(t, Register(nil))
}

func TestAllFollowsVocabularyOrder(t *testing.T) {
	require.Equal(t, []string{
		APIAccess,
		ManageUsers,
		ManageRoles,
		ManageConnections,
		ExecuteSQLRead,
		ExecuteSQLWrite,
		ExecuteSQLDDL,
	}, All())
}

func TestValidateRejectsUnknownTokens(t *testing.T) {
	cleaned, err := Validate([]string{ExecuteSQLWrite, " api_access ", ExecuteSQLWrite, ""})
	require.NoError(t, err)
	require.Equal(t, []string{APIAccess, ExecuteSQLWrite}, cleaned)

	_, err = Validate([]string{"drop_everything"})
	require.True(t, errors.Is(err, ErrUnknownPermission))
}

func TestSystemRoles(t *testing.T) {
	roles := SystemRoles()
	require.Len(t, roles, 3)
	require.Equal(t, RoleAdmin, roles[0].Name)
	require.Equal(t, All(), roles[0].Permissions)
	for _, role := range roles {
		require.True(t, IsSystemRole(role.Name))
		_, err := Validate(role.Permissions)
		require.NoError(t, err)
	}
	require.False(t, IsSystemRole("auditor"))
}

func TestSetMissingUsesVocabularyOrder(t *testing.T) {
	s := NewSet(APIAccess, ExecuteSQLRead)

	missing, ok := s.Missing(ExecuteSQLDDL, ExecuteSQLWrite, APIAccess)
	require.True(t, ok)
	require.Equal(t, ExecuteSQLWrite, missing)

	_, ok = s.Missing(ExecuteSQLRead)
	require.False(t, ok)

	union := s.Union(NewSet(ManageUsers))
	require.Equal(t, []string{APIAccess, ManageUsers, ExecuteSQLRead}, union.Slice())
	require.False(t, s.Has(ManageUsers))
}
