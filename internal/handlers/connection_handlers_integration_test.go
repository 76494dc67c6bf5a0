package handlers_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/handlers/testutil"
	"github.com/charlesng35/dbwarden/internal/permissions"
)

type savedConnection struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

type listedConnection struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Owned  bool   `json:"owned"`
	Fields struct {
		Host     string `json:"host"`
		Password string `json:"password"`
	} `json:"fields"`
}

func warehousePayload() map[string]any {
	return map[string]any{
		"name": "Warehouse",
		"type": "postgresql",
		"fields": map[string]string{
			"host":     "db.internal",
			"port":     "5432",
			"username": "etl",
			"password": "hunter2",
			"database": "warehouse",
		},
		"group": "analytics",
	}
}

func saveWarehouse(t *testing.T, env *testutil.Env, token string) (string, sqlmock.Sqlmock) {
	t.Helper()
	mock := env.MockHandle()

	w := env.Request(http.MethodPost, "/api/connections", warehousePayload(), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var saved savedConnection
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &saved)
	require.True(t, saved.Created)
	require.Len(t, saved.ID, 12)
	return saved.ID, mock
}

func TestConnectionSaveListAndRedaction(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	viewer := env.Register("bob")

	id, _ := saveWarehouse(t, env, admin)

	w := env.Request(http.MethodGet, "/api/connections", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []listedConnection
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, id, listed[0].ID)
	require.True(t, listed[0].Owned)
	require.Equal(t, "db.internal", listed[0].Fields.Host)
	require.NotEqual(t, "hunter2", listed[0].Fields.Password)

	w = env.Request(http.MethodGet, "/api/connections", nil, viewer)
	require.Equal(t, http.StatusOK, w.Code)
	listed = nil
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &listed)
	require.Empty(t, listed)
}

func TestViewerCannotSaveConnections(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("alice")
	viewer := env.Register("bob")

	w := env.Request(http.MethodPost, "/api/connections", warehousePayload(), viewer)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}

func TestConnectionTestReportsOutcome(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")

	w := env.Request(http.MethodPost, "/api/connections/test", warehousePayload(), admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "Connection successful", testutil.DecodeResponse(t, w).Message)

	env.Tester.SetErr(errors.New("connection refused"))
	w = env.Request(http.MethodPost, "/api/connections/test", warehousePayload(), admin)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Contains(t, resp.Error.Message, "connection refused")
}

func TestGrantedViewerQueryPermissions(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	viewer := env.Register("bob")

	id, mock := saveWarehouse(t, env, admin)
	path := "/api/connections/" + id + "/query"

	// Without a grant the connection is invisible.
	w := env.Request(http.MethodPost, path, map[string]string{"sql": "SELECT 1"}, viewer)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/connections/"+id+"/grants", map[string]string{
		"username": "bob",
		"role":     permissions.RoleViewer,
	}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, path, map[string]string{"sql": "UPDATE orders SET status = 'void'"}, viewer)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	w = env.Request(http.MethodPost, path, map[string]string{"sql": "SELECT id FROM orders"}, viewer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Columns  []string `json:"columns"`
		Rows     [][]any  `json:"rows"`
		RowCount int      `json:"row_count"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	require.Equal(t, []string{"id"}, result.Columns)
	require.Equal(t, 1, result.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())

	w = env.Request(http.MethodGet, "/api/connections/"+id+"/grants", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var grants []struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &grants)
	require.Len(t, grants, 1)
	require.Equal(t, "bob", grants[0].Username)

	w = env.Request(http.MethodDelete, "/api/connections/"+id+"/grants/bob", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, path, map[string]string{"sql": "SELECT 1"}, viewer)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryRequiresSQL(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	id, _ := saveWarehouse(t, env, admin)

	w := env.Request(http.MethodPost, "/api/connections/"+id+"/query", map[string]string{}, admin)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnectionDelete(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.Register("alice")
	id, _ := saveWarehouse(t, env, admin)

	w := env.Request(http.MethodDelete, "/api/connections/"+id, nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodDelete, "/api/connections/"+id, nil, admin)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodGet, "/api/connections", nil, admin)
	var listed []listedConnection
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &listed)
	require.Empty(t, listed)
}
