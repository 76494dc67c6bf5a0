package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/database/testutil"
	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/registry"
	"github.com/charlesng35/dbwarden/internal/store"
	"github.com/charlesng35/dbwarden/internal/vault"
	"github.com/charlesng35/dbwarden/pkg/crypto"
)

type serviceFixture struct {
	db       *gorm.DB
	engine   *permissions.Engine
	registry *registry.Registry
	store    *store.ConnectionStore
	opener   *queueOpener
	tester   *stubTester
	audit    *AuditService
	users    *UserService
	roles    *RoleService
	grants   *GrantService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	userPolicy UserPolicy
}

func withUserPolicy(policy UserPolicy) fixtureOption {
	return func(cfg *fixtureConfig) { cfg.userPolicy = policy }
}

func newServiceFixture(t *testing.T, opts ...fixtureOption) *serviceFixture {
	t.Helper()

	cfg := fixtureConfig{userPolicy: UserPolicy{AllowRegistration: true}}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	v, err := vault.New(vault.Options{
		Key:    "service-test-key",
		Derive: []vault.DeriveOption{vault.WithArgon2Parameters(crypto.Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 32})},
	})
	require.NoError(t, err)
	connStore := store.New(db, v)

	engine, err := permissions.NewEngine(db, nil)
	require.NoError(t, err)

	opener := &queueOpener{}
	reg := registry.New(registry.Options{Store: connStore, Opener: opener, Grants: engine})
	engine.BindOwners(reg)
	t.Cleanup(func() { _ = reg.Close() })

	audit, err := NewAuditService(db)
	require.NoError(t, err)
	users, err := NewUserService(db, engine, audit, cfg.userPolicy)
	require.NoError(t, err)
	roles, err := NewRoleService(db, engine, audit)
	require.NoError(t, err)
	grants, err := NewGrantService(db, engine, audit)
	require.NoError(t, err)

	return &serviceFixture{
		db:       db,
		engine:   engine,
		registry: reg,
		store:    connStore,
		opener:   opener,
		tester:   &stubTester{},
		audit:    audit,
		users:    users,
		roles:    roles,
		grants:   grants,
	}
}

func (f *serviceFixture) register(t *testing.T, username string) {
	t.Helper()
	_, err := f.users.Register(context.Background(), RegisterInput{Username: username, Password: "secret-pass"})
	require.NoError(t, err)
}

func (f *serviceFixture) connections(t *testing.T, policy ConnectionPolicy) *ConnectionService {
	t.Helper()
	svc, err := NewConnectionService(f.registry, f.engine, f.tester, f.store, f.grants, f.audit, policy)
	require.NoError(t, err)
	return svc
}

// mockHandle queues a sqlmock handle for the next registry open.
func (f *serviceFixture) mockHandle(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	f.opener.push(db)
	return mock
}

func warehouseInput() SaveInput {
	return SaveInput{
		Name: "Warehouse",
		Kind: "postgresql",
		Fields: drivers.Fields{
			Host:     "db.internal",
			Port:     "5432",
			Username: "etl",
			Password: "hunter2",
			Database: "warehouse",
		},
	}
}

type queueOpener struct {
	mu  sync.Mutex
	dbs []*sql.DB
}

func (o *queueOpener) push(db *sql.DB) {
	o.mu.Lock()
	o.dbs = append(o.dbs, db)
	o.mu.Unlock()
}

func (o *queueOpener) Open(context.Context, drivers.Config) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.dbs) == 0 {
		return nil, errors.New("no handle available")
	}
	db := o.dbs[0]
	o.dbs = o.dbs[1:]
	return db, nil
}

type stubTester struct {
	mu    sync.Mutex
	err   error
	calls []drivers.Config
}

func (s *stubTester) Test(_ context.Context, cfg drivers.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cfg)
	return s.err
}

func (s *stubTester) last() drivers.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return drivers.Config{}
	}
	return s.calls[len(s.calls)-1]
}
