package registry

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/drivers"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]drivers.Config
	saveErr error
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]drivers.Config{}}
}

func (s *memoryStore) Save(_ context.Context, cfg drivers.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[cfg.ID] = cfg
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.deleted = append(s.deleted, id)
	return ok, nil
}

func (s *memoryStore) UpdateMetadata(_ context.Context, id string, group *string, sortOrder *int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.records[id]
	if !ok {
		return false, nil
	}
	if group != nil {
		cfg.Group = *group
	}
	if sortOrder != nil {
		cfg.SortOrder = *sortOrder
	}
	s.records[id] = cfg
	return true, nil
}

func (s *memoryStore) LoadAll(_ context.Context, ownerID string) ([]drivers.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []drivers.Config
	for _, cfg := range s.records {
		if ownerID == "" || cfg.OwnerID == ownerID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

type queueOpener struct {
	mu    sync.Mutex
	dbs   []*sql.DB
	calls int
}

func (o *queueOpener) Open(context.Context, drivers.Config) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if len(o.dbs) == 0 {
		return nil, errors.New("no handle available")
	}
	db := o.dbs[0]
	o.dbs = o.dbs[1:]
	return db, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *recordingPublisher) PublishStatus(_ context.Context, ev StatusEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type staticGrants map[string][]string

func (g staticGrants) ResourcesGrantedTo(_ context.Context, username string) ([]string, error) {
	return g[username], nil
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func warehouse() drivers.Config {
	return drivers.Config{
		OwnerID: "alice",
		Name:    "Warehouse",
		Kind:    drivers.KindPostgreSQL,
		Fields:  drivers.Fields{Host: "db", Username: "etl", Password: "pw", Database: "warehouse"},
	}
}

func TestRegisterGeneratesIDAndProbes(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()

	store := newMemoryStore()
	pub := &recordingPublisher{}
	reg := New(Options{Store: store, Opener: &queueOpener{dbs: []*sql.DB{db}}, Publisher: pub})

	id, err := reg.Register(context.Background(), warehouse(), true)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[a-z0-9]{12}$`), id)

	cfg, ok := reg.Config(id)
	require.True(t, ok)
	require.Equal(t, "postgresql://etl:pw@db:5432/warehouse", cfg.URL)
	require.False(t, cfg.CreatedAt.IsZero())

	status, ok := reg.Status(id)
	require.True(t, ok)
	require.True(t, status.Up())
	require.Empty(t, status.Error)

	require.Contains(t, store.records, id)
	require.Equal(t, 1, pub.count())
	require.NoError(t, mock.ExpectationsWereMet())

	handle, ok := reg.Handle(context.Background(), id)
	require.True(t, ok)
	require.Same(t, db, handle)
}

func TestFailedProbeEvictsHandle(t *testing.T) {
	first, firstMock := newMockDB(t)
	firstMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	firstMock.ExpectClose()

	second, secondMock := newMockDB(t)
	secondMock.ExpectPing()

	opener := &queueOpener{dbs: []*sql.DB{first, second}}
	pub := &recordingPublisher{}
	reg := New(Options{Opener: opener, Publisher: pub})

	id, err := reg.Register(context.Background(), warehouse(), false)
	require.NoError(t, err)

	status, _ := reg.Status(id)
	require.True(t, status.Known())
	require.False(t, status.Up())
	require.Contains(t, status.Error, "connection refused")
	require.NoError(t, firstMock.ExpectationsWereMet())

	status = reg.CheckStatus(context.Background(), id)
	require.True(t, status.Up())
	require.Equal(t, 2, opener.calls)
	require.NoError(t, secondMock.ExpectationsWereMet())
	require.Equal(t, 2, pub.count())
}

func TestUnchangedStatusIsNotPublished(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectPing()

	pub := &recordingPublisher{}
	reg := New(Options{Opener: &queueOpener{dbs: []*sql.DB{db}}, Publisher: pub})

	id, err := reg.Register(context.Background(), warehouse(), false)
	require.NoError(t, err)
	reg.CheckStatus(context.Background(), id)

	require.Equal(t, 1, pub.count())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFolderNeverHasHandle(t *testing.T) {
	opener := &queueOpener{}
	reg := New(Options{Opener: opener})

	id, err := reg.Register(context.Background(), drivers.Config{OwnerID: "alice", Name: "Analytics", Kind: drivers.KindFolder}, false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		status := reg.CheckStatus(context.Background(), id)
		require.True(t, status.Up())
		_, ok := reg.Handle(context.Background(), id)
		require.False(t, ok)
	}
	require.Zero(t, opener.calls)

	cfg, _ := reg.Config(id)
	require.Equal(t, "folder://", cfg.URL)
}

func TestRegisterKeepsEntryWhenPersistFails(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("disk full")
	reg := New(Options{Store: store})

	id, err := reg.Register(context.Background(), drivers.Config{OwnerID: "alice", Name: "Folder", Kind: drivers.KindFolder}, true)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindPersistence))
	require.NotEmpty(t, id)

	_, ok := reg.Config(id)
	require.True(t, ok)
}

func TestUnregisterClosesHandleAndDeletes(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectClose()

	store := newMemoryStore()
	reg := New(Options{Store: store, Opener: &queueOpener{dbs: []*sql.DB{db}}})

	id, err := reg.Register(context.Background(), warehouse(), true)
	require.NoError(t, err)

	existed, err := reg.Unregister(context.Background(), id)
	require.NoError(t, err)
	require.True(t, existed)
	require.NoError(t, mock.ExpectationsWereMet())

	_, ok := reg.Config(id)
	require.False(t, ok)
	_, ok = reg.Status(id)
	require.False(t, ok)
	require.NotContains(t, store.records, id)

	existed, err = reg.Unregister(context.Background(), "unknown")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestListForIncludesOwnedAndGranted(t *testing.T) {
	reg := New(Options{Grants: staticGrants{"bob": {"shared"}}})
	ctx := context.Background()

	for _, cfg := range []drivers.Config{
		{ID: "zeta", OwnerID: "alice", Name: "Zeta", Kind: drivers.KindFolder, SortOrder: 1},
		{ID: "alpha", OwnerID: "alice", Name: "Alpha", Kind: drivers.KindFolder, SortOrder: 1},
		{ID: "first", OwnerID: "alice", Name: "Zzz", Kind: drivers.KindFolder},
		{ID: "shared", OwnerID: "carol", Name: "Shared", Kind: drivers.KindFolder},
		{ID: "private", OwnerID: "carol", Name: "Private", Kind: drivers.KindFolder},
	} {
		_, err := reg.Register(ctx, cfg, false)
		require.NoError(t, err)
	}

	var names []string
	for _, cfg := range reg.ListFor(ctx, "alice") {
		names = append(names, cfg.Name)
	}
	require.Equal(t, []string{"Zzz", "Alpha", "Zeta"}, names)

	bob := reg.ListFor(ctx, "bob")
	require.Len(t, bob, 1)
	require.Equal(t, "shared", bob[0].ID)

	owner, ok := reg.OwnerOf("shared")
	require.True(t, ok)
	require.Equal(t, "carol", owner)
	require.Len(t, reg.IDs(), 5)
}

func TestLoadForUserMergesWithoutClearing(t *testing.T) {
	store := newMemoryStore()
	store.records["stored000001"] = drivers.Config{ID: "stored000001", OwnerID: "alice", Name: "Stored", Kind: drivers.KindFolder}
	store.records["stored000002"] = drivers.Config{ID: "stored000002", OwnerID: "bob", Name: "Other", Kind: drivers.KindFolder}

	reg := New(Options{Store: store})
	_, err := reg.Register(context.Background(), drivers.Config{ID: "memory000001", OwnerID: "carol", Name: "Mem", Kind: drivers.KindFolder}, false)
	require.NoError(t, err)

	n, err := reg.LoadForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"memory000001", "stored000001"}, reg.IDs())

	status, ok := reg.Status("stored000001")
	require.True(t, ok)
	require.False(t, status.Known())
}

func TestUpdateMetadata(t *testing.T) {
	store := newMemoryStore()
	reg := New(Options{Store: store})
	ctx := context.Background()

	id, err := reg.Register(ctx, drivers.Config{OwnerID: "alice", Name: "F", Kind: drivers.KindFolder, Group: "old"}, true)
	require.NoError(t, err)

	group, order := "", 4
	ok, err := reg.UpdateMetadata(ctx, id, &group, &order)
	require.NoError(t, err)
	require.True(t, ok)

	cfg, _ := reg.Config(id)
	require.Empty(t, cfg.Group)
	require.Equal(t, 4, cfg.SortOrder)
	require.Equal(t, 4, store.records[id].SortOrder)

	ok, err = reg.UpdateMetadata(ctx, "missing", &group, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCloseClosesAllHandles(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectClose()

	reg := New(Options{Opener: &queueOpener{dbs: []*sql.DB{db}}})
	_, err := reg.Register(context.Background(), warehouse(), false)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	require.Zero(t, km.size())
}

type gatedStore struct {
	*memoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, cfg drivers.Config) error {
	close(s.entered)
	<-s.release
	return s.memoryStore.Save(ctx, cfg)
}

func TestUnregisterDuringPersistLeavesNoRecord(t *testing.T) {
	store := &gatedStore{memoryStore: newMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	reg := New(Options{Store: store})

	cfg := warehouse()
	cfg.ID = "wh0000000001"

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		_, _ = reg.Register(context.Background(), cfg, true)
	}()
	<-store.entered

	unregistered := make(chan struct{})
	go func() {
		defer close(unregistered)
		_, _ = reg.Unregister(context.Background(), cfg.ID)
	}()

	select {
	case <-unregistered:
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	<-registered
	<-unregistered

	_, inMemory := reg.Config(cfg.ID)
	require.False(t, inMemory)

	loaded, err := store.LoadAll(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, loaded)
}

type countingOpener struct {
	mu    sync.Mutex
	calls int
	t     *testing.T
}

func (o *countingOpener) Open(context.Context, drivers.Config) (*sql.DB, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
	db, _, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	o.t.Cleanup(func() { _ = db.Close() })
	return db, nil
}

func TestConcurrentAccessOpensSingleHandle(t *testing.T) {
	opener := &countingOpener{t: t}
	reg := New(Options{Opener: opener})

	cfg := warehouse()
	cfg.ID = "wh0000000002"
	reg.mu.Lock()
	reg.configs[cfg.ID] = cfg
	reg.statuses[cfg.ID] = Status{}
	reg.mu.Unlock()

	var wg sync.WaitGroup
	handles := make(chan *sql.DB, 32)
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if db, ok := reg.Handle(context.Background(), cfg.ID); ok {
				handles <- db
			}
		}()
		go func() {
			defer wg.Done()
			reg.CheckStatus(context.Background(), cfg.ID)
		}()
	}
	wg.Wait()
	close(handles)

	opener.mu.Lock()
	require.Equal(t, 1, opener.calls)
	opener.mu.Unlock()

	reg.mu.RLock()
	cached := reg.handles[cfg.ID]
	require.Len(t, reg.handles, 1)
	reg.mu.RUnlock()

	for db := range handles {
		require.Same(t, cached, db)
	}
	require.True(t, reg.statuses[cfg.ID].Up())
}
