package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/handlers/testutil"
	"github.com/charlesng35/dbwarden/internal/permissions"
)

func TestPermissionVocabulary(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Register("alice")

	w := env.Request(http.MethodGet, "/api/permissions", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var perms []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &perms)

	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	require.Contains(t, ids, permissions.ExecuteSQLRead)
	require.Contains(t, ids, permissions.ManageRoles)
}

func TestRoleLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	viewer := env.Register("bob")

	payload := map[string]any{
		"name":        "analyst",
		"description": "Read and write data",
		"permissions": []string{permissions.ExecuteSQLRead, permissions.ExecuteSQLWrite},
	}

	w := env.Request(http.MethodPost, "/api/roles", payload, viewer)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodPost, "/api/roles", payload, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/roles/analyst", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var role struct {
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
		IsSystem    bool     `json:"is_system"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &role)
	require.Equal(t, "analyst", role.Name)
	require.False(t, role.IsSystem)
	require.ElementsMatch(t, []string{permissions.ExecuteSQLRead, permissions.ExecuteSQLWrite}, role.Permissions)

	w = env.Request(http.MethodPut, "/api/roles/"+permissions.RoleAdmin, payload, admin)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodDelete, "/api/roles/analyst", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/roles/analyst", nil, admin)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserAdministration(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	viewer := env.Register("bob")

	w := env.Request(http.MethodGet, "/api/users", nil, viewer)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodPost, "/api/users", map[string]string{
		"username": "carol",
		"password": "carol-pass",
		"role":     permissions.RoleEditor,
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/users?page=1&per_page=2", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	require.Equal(t, 3, resp.Meta.Total)
	var users []struct {
		Username string `json:"username"`
	}
	testutil.DecodeInto(t, resp.Data, &users)
	require.Len(t, users, 2)

	w = env.Request(http.MethodPut, "/api/users/bob/role", map[string]string{"role": permissions.RoleEditor}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, permissions.RoleEditor, env.Login("bob", testutil.DefaultPassword).User.Role)

	w = env.Request(http.MethodPut, "/api/users/alice/role", map[string]string{"role": permissions.RoleViewer}, admin)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "LAST_ADMIN", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodDelete, "/api/users/carol", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.Request(http.MethodGet, "/api/users/carol", nil, admin)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangeOwnPassword(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Register("alice")

	w := env.Request(http.MethodPut, "/api/profile/password", map[string]string{
		"old_password": "wrong",
		"new_password": "fresh-secret",
	}, token)
	require.NotEqual(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodPut, "/api/profile/password", map[string]string{
		"old_password": testutil.DefaultPassword,
		"new_password": "fresh-secret",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.Login("alice", "fresh-secret")
}

func TestAuditListing(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	viewer := env.Register("bob")

	w := env.Request(http.MethodGet, "/api/audit", nil, viewer)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodGet, "/api/audit?action=user.register", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, 2, resp.Meta.Total)

	var entries []struct {
		Username string `json:"username"`
		Action   string `json:"action"`
		Result   string `json:"result"`
	}
	testutil.DecodeInto(t, resp.Data, &entries)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.Equal(t, "user.register", entry.Action)
		require.Equal(t, "success", entry.Result)
	}
}

func TestSecurityPostureReport(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	viewer := env.Register("bob")

	w := env.Request(http.MethodGet, "/api/security/audit", nil, viewer)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodGet, "/api/security/audit", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		Checks []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"checks"`
		Summary map[string]int `json:"summary"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &report)
	require.NotEmpty(t, report.Checks)
	require.Equal(t, "admin_present", report.Checks[0].ID)
	require.Equal(t, "pass", report.Checks[0].Status)
}
