package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/api"
	"github.com/charlesng35/dbwarden/internal/app"
	iauth "github.com/charlesng35/dbwarden/internal/auth"
	sharedtestutil "github.com/charlesng35/dbwarden/internal/database/testutil"
	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/internal/monitoring"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/realtime"
	"github.com/charlesng35/dbwarden/internal/registry"
	"github.com/charlesng35/dbwarden/internal/security"
	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/internal/store"
	"github.com/charlesng35/dbwarden/internal/vault"
	"github.com/charlesng35/dbwarden/pkg/crypto"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// DefaultPassword is used by Register when no password is supplied.
const DefaultPassword = "correct-horse"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Registry *registry.Registry
	Store    *store.ConnectionStore
	Tester   *StubTester
	Hub      *realtime.Hub

	opener *QueueOpener
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Server: app.ServerConfig{MetricsEnabled: true},
		Auth: app.AuthConfig{
			JWT:               app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
			AllowRegistration: true,
		},
	}

	v, err := vault.New(vault.Options{
		Key:    "handler-test-key",
		Derive: []vault.DeriveOption{vault.WithArgon2Parameters(crypto.Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 32})},
	})
	require.NoError(t, err)
	connStore := store.New(db, v)

	engine, err := permissions.NewEngine(db, nil)
	require.NoError(t, err)

	hub := realtime.NewHub()
	opener := &QueueOpener{}
	reg := registry.New(registry.Options{
		Store:     connStore,
		Opener:    opener,
		Grants:    engine,
		Publisher: realtime.NewStatusBroadcaster(hub, engine),
	})
	engine.BindOwners(reg)
	t.Cleanup(func() { _ = reg.Close() })

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	users, err := services.NewUserService(db, engine, audit, services.UserPolicy{AllowRegistration: true})
	require.NoError(t, err)
	roles, err := services.NewRoleService(db, engine, audit)
	require.NoError(t, err)
	grants, err := services.NewGrantService(db, engine, audit)
	require.NoError(t, err)

	tester := &StubTester{}
	conns, err := services.NewConnectionService(reg, engine, tester, connStore, grants, audit, services.ConnectionPolicy{})
	require.NoError(t, err)
	queries, err := services.NewQueryService(reg, engine, audit, services.QueryPolicy{Timeout: 5 * time.Second})
	require.NoError(t, err)
	introspection, err := services.NewIntrospectionService(reg, engine, 5*time.Second)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Deps{
		Config:        cfg,
		JWT:           jwtSvc,
		Engine:        engine,
		Loader:        reg,
		Users:         users,
		Roles:         roles,
		Grants:        grants,
		Connections:   conns,
		Queries:       queries,
		Introspection: introspection,
		Audit:         audit,
		Hub:           hub,
		Health:        monitoring.NewHealthManager(),
		Posture:       security.NewPostureService(db, jwtSvc, v, cfg),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Registry: reg,
		Store:    connStore,
		Tester:   tester,
		Hub:      hub,
		opener:   opener,
	}
}

// MockHandle queues a sqlmock-backed handle for the next live connection the registry opens.
func (e *Env) MockHandle() sqlmock.Sqlmock {
	e.T.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(e.T, err)
	e.opener.Push(db)
	return mock
}

// Register creates an account through the public endpoint and returns its access token.
func (e *Env) Register(username string) string {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"password": DefaultPassword,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	return e.Login(username, DefaultPassword).AccessToken
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	Permissions []string `json:"permissions"`
	User        struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

// Login authenticates and returns the issued token.
func (e *Env) Login(username, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Equal(e.T, "Bearer", result.TokenType)
	require.Greater(e.T, result.ExpiresIn, 0)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// QueueOpener hands out pre-built handles in FIFO order.
type QueueOpener struct {
	mu  sync.Mutex
	dbs []*sql.DB
}

// Push appends db to the queue.
func (o *QueueOpener) Push(db *sql.DB) {
	o.mu.Lock()
	o.dbs = append(o.dbs, db)
	o.mu.Unlock()
}

// Open implements registry.Opener.
func (o *QueueOpener) Open(context.Context, drivers.Config) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.dbs) == 0 {
		return nil, errors.New("no handle available")
	}
	db := o.dbs[0]
	o.dbs = o.dbs[1:]
	return db, nil
}

// StubTester answers connection tests with Err.
type StubTester struct {
	mu  sync.Mutex
	Err error
}

// SetErr changes the outcome of later tests.
func (s *StubTester) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// Test implements services.ConnectionTester.
func (s *StubTester) Test(context.Context, drivers.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}
