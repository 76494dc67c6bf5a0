package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/handlers/testutil"
	"github.com/charlesng35/dbwarden/internal/permissions"
)

func TestAuthRegisterLoginAndMe(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/auth/registration", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Open bool `json:"open"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &status)
	require.True(t, status.Open)

	adminToken := env.Register("Alice")
	viewer := env.Register("bob")
	require.NotEmpty(t, viewer)

	login := env.Login("alice", testutil.DefaultPassword)
	require.Equal(t, "alice", login.User.Username)
	require.Equal(t, permissions.RoleAdmin, login.User.Role)
	require.Contains(t, login.Permissions, permissions.ManageUsers)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me struct {
		Username    string   `json:"username"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &me)
	require.Equal(t, "alice", me.Username)

	bob := env.Login("bob", testutil.DefaultPassword)
	require.Equal(t, permissions.RoleViewer, bob.User.Role)
	require.NotContains(t, bob.Permissions, permissions.ManageUsers)
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("alice")

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{"username": "alice"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthDuplicateRegistrationRejected(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("alice")

	w := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"username": "ALICE",
		"password": testutil.DefaultPassword,
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Equal(t, "USER_EXISTS", testutil.DecodeResponse(t, w).Error.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, path := range []string{"/api/connections", "/api/auth/me", "/api/roles", "/api/audit"} {
		w := env.Request(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := env.Request(http.MethodGet, "/api/connections", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/does-not-exist", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "ROUTE_NOT_FOUND", resp.Error.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := env.Request(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		require.Contains(t, w.Body.String(), `"status":"up"`)
	}
}
