// Package registry holds the live view of every loaded connection: its config,
// its lazily opened handle and its last probe result.
package registry

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/pkg/crypto"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/logger"
	"github.com/charlesng35/dbwarden/pkg/metrics"
)

const (
	idLength   = 12
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// DefaultProbeTimeout bounds a single status probe.
	DefaultProbeTimeout = 5 * time.Second
)

// Store is the durable side of the registry.
type Store interface {
	Save(ctx context.Context, cfg drivers.Config) error
	Delete(ctx context.Context, id string) (bool, error)
	UpdateMetadata(ctx context.Context, id string, group *string, sortOrder *int) (bool, error)
	LoadAll(ctx context.Context, ownerID string) ([]drivers.Config, error)
}

// GrantLookup resolves the resources a user holds grants on.
type GrantLookup interface {
	ResourcesGrantedTo(ctx context.Context, username string) ([]string, error)
}

// Publisher receives status changes. Implementations must not block.
type Publisher interface {
	PublishStatus(ctx context.Context, event StatusEvent)
}

// Status is the last probe outcome of a connection. A nil Reachable means not yet probed.
type Status struct {
	Reachable *bool     `json:"reachable"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Known reports whether the connection has been probed.
func (s Status) Known() bool { return s.Reachable != nil }

// Up reports a successful last probe.
func (s Status) Up() bool { return s.Reachable != nil && *s.Reachable }

func (s Status) sameOutcome(other Status) bool {
	if s.Known() != other.Known() {
		return false
	}
	return s.Up() == other.Up() && s.Error == other.Error
}

// StatusEvent is emitted when a connection's status changes.
type StatusEvent struct {
	ResourceID string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
}

// Options wires a Registry.
type Options struct {
	Store        Store
	Opener       drivers.Opener
	Grants       GrantLookup
	Publisher    Publisher
	ProbeTimeout time.Duration
}

// Registry is safe for concurrent use by the monitor and request goroutines.
type Registry struct {
	store        Store
	opener       drivers.Opener
	grants       GrantLookup
	publisher    Publisher
	probeTimeout time.Duration
	log          *zap.Logger
	timeNow      func() time.Time

	locks *keyedMutex

	mu       sync.RWMutex
	configs  map[string]drivers.Config
	handles  map[string]*sql.DB
	statuses map[string]Status
}

// New constructs an empty registry.
func New(opts Options) *Registry {
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Registry{
		store:        opts.Store,
		opener:       opts.Opener,
		grants:       opts.Grants,
		publisher:    opts.Publisher,
		probeTimeout: timeout,
		log:          logger.WithModule("registry"),
		timeNow:      time.Now,
		locks:        newKeyedMutex(),
		configs:      make(map[string]drivers.Config),
		handles:      make(map[string]*sql.DB),
		statuses:     make(map[string]Status),
	}
}

// NewID allocates a fresh resource id.
func NewID() (string, error) {
	return crypto.RandomString(idLength, idAlphabet)
}

// Register adds or replaces cfg, optionally persists it, and probes it once.
// A persistence failure is returned alongside the id; the in-memory registration stays.
func (r *Registry) Register(ctx context.Context, cfg drivers.Config, persist bool) (string, error) {
	if cfg.ID == "" {
		id, err := NewID()
		if err != nil {
			return "", apperrors.ErrInternalServer.WithInternal(err)
		}
		cfg.ID = id
	}
	if cfg.URL == "" {
		if built, ok := drivers.BuildURL(cfg.Kind, cfg.Fields); ok {
			cfg.URL = built
		}
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.timeNow().UTC()
	}

	unlock := r.locks.Lock(cfg.ID)
	r.mu.Lock()
	stale := r.handles[cfg.ID]
	delete(r.handles, cfg.ID)
	r.configs[cfg.ID] = cfg
	r.statuses[cfg.ID] = Status{}
	r.mu.Unlock()

	closeHandle(r.log, cfg.ID, stale)

	// The write stays under the id lock so a concurrent Unregister cannot be undone by it.
	var persistErr error
	if persist && r.store != nil {
		if err := r.store.Save(ctx, cfg); err != nil {
			metrics.StoreFailures.WithLabelValues("save").Inc()
			r.log.Warn("failed to persist connection", zap.String("resource", cfg.ID), zap.Error(err))
			persistErr = asPersistence("failed to persist connection", err)
		}
	}
	unlock()

	r.CheckStatus(ctx, cfg.ID)
	return cfg.ID, persistErr
}

// Unregister drops id from memory, closes its handle and deletes the stored record.
// It reports whether id was known in memory or in the store.
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	unlock := r.locks.Lock(id)
	r.mu.Lock()
	_, known := r.configs[id]
	handle := r.handles[id]
	delete(r.configs, id)
	delete(r.handles, id)
	delete(r.statuses, id)
	r.mu.Unlock()
	defer unlock()

	closeHandle(r.log, id, handle)
	metrics.ConnectionReachable.DeleteLabelValues(id)

	if r.store == nil {
		return known, nil
	}
	existed, err := r.store.Delete(ctx, id)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("delete").Inc()
		r.log.Warn("failed to delete persisted connection", zap.String("resource", id), zap.Error(err))
		return known, nil
	}
	return known || existed, nil
}

// Handle returns the live handle for id, opening it on first use.
// Folders, unknown ids and open failures yield (nil, false).
func (r *Registry) Handle(ctx context.Context, id string) (*sql.DB, bool) {
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.handleLocked(ctx, id)
}

func (r *Registry) handleLocked(ctx context.Context, id string) (*sql.DB, bool) {
	r.mu.RLock()
	cfg, known := r.configs[id]
	handle := r.handles[id]
	r.mu.RUnlock()

	if !known || cfg.Kind.IsFolder() {
		return nil, false
	}
	if handle != nil {
		return handle, true
	}
	if r.opener == nil {
		return nil, false
	}

	handle, err := r.opener.Open(ctx, cfg)
	if err != nil {
		r.log.Warn("failed to open connection handle", zap.String("resource", id), zap.Error(err))
		return nil, false
	}

	r.mu.Lock()
	r.handles[id] = handle
	r.mu.Unlock()
	return handle, true
}

// CheckStatus probes id and records the outcome. A failed probe evicts the handle.
func (r *Registry) CheckStatus(ctx context.Context, id string) Status {
	unlock := r.locks.Lock(id)

	r.mu.RLock()
	cfg, known := r.configs[id]
	previous := r.statuses[id]
	r.mu.RUnlock()

	if !known {
		unlock()
		return Status{}
	}

	var status Status
	switch {
	case cfg.Kind.IsFolder():
		status = r.newStatus(true, "")
	default:
		status = r.probeLocked(ctx, id)
	}

	r.mu.Lock()
	_, stillKnown := r.configs[id]
	if stillKnown {
		r.statuses[id] = status
	}
	r.mu.Unlock()
	unlock()

	if stillKnown && !status.sameOutcome(previous) && r.publisher != nil {
		r.publisher.PublishStatus(ctx, StatusEvent{
			ResourceID: id,
			OwnerID:    cfg.OwnerID,
			Name:       cfg.Name,
			Status:     status,
		})
	}
	return status
}

func (r *Registry) probeLocked(ctx context.Context, id string) Status {
	handle, ok := r.handleLocked(ctx, id)
	if !ok {
		return r.newStatus(false, "connection failed")
	}

	if err := drivers.Ping(ctx, handle, r.probeTimeout); err != nil {
		r.mu.Lock()
		if r.handles[id] == handle {
			delete(r.handles, id)
		}
		r.mu.Unlock()
		closeHandle(r.log, id, handle)
		return r.newStatus(false, err.Error())
	}
	return r.newStatus(true, "")
}

func (r *Registry) newStatus(reachable bool, errText string) Status {
	return Status{Reachable: &reachable, Error: errText, CheckedAt: r.timeNow().UTC()}
}

// ListFor returns the configs owned by or granted to userID, ordered by sort order then name.
func (r *Registry) ListFor(ctx context.Context, userID string) []drivers.Config {
	granted := map[string]struct{}{}
	if r.grants != nil {
		ids, err := r.grants.ResourcesGrantedTo(ctx, userID)
		if err != nil {
			r.log.Warn("failed to resolve grants", zap.String("user", userID), zap.Error(err))
		}
		for _, id := range ids {
			granted[id] = struct{}{}
		}
	}

	r.mu.RLock()
	out := make([]drivers.Config, 0, len(r.configs))
	for id, cfg := range r.configs {
		if _, ok := granted[id]; ok || cfg.OwnerID == userID {
			out = append(out, cfg)
		}
	}
	r.mu.RUnlock()

	SortConfigs(out)
	return out
}

// SortConfigs orders by sort order then name.
func SortConfigs(cfgs []drivers.Config) {
	sort.SliceStable(cfgs, func(i, j int) bool {
		if cfgs[i].SortOrder != cfgs[j].SortOrder {
			return cfgs[i].SortOrder < cfgs[j].SortOrder
		}
		return cfgs[i].Name < cfgs[j].Name
	})
}

// LoadForUser merges ownerID's stored connections into memory and returns how many were loaded.
func (r *Registry) LoadForUser(ctx context.Context, ownerID string) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	cfgs, err := r.store.LoadAll(ctx, ownerID)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("load").Inc()
		return 0, asPersistence("failed to load connections", err)
	}

	for _, cfg := range cfgs {
		unlock := r.locks.Lock(cfg.ID)
		r.mu.Lock()
		r.configs[cfg.ID] = cfg
		if _, ok := r.statuses[cfg.ID]; !ok {
			r.statuses[cfg.ID] = Status{}
		}
		r.mu.Unlock()
		unlock()
	}

	if len(cfgs) > 0 {
		r.log.Info("loaded saved connections", zap.String("owner", ownerID), zap.Int("count", len(cfgs)))
	}
	return len(cfgs), nil
}

// Config returns the registered config for id.
func (r *Registry) Config(id string) (drivers.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// OwnerOf returns the owner of id.
func (r *Registry) OwnerOf(id string) (string, bool) {
	cfg, ok := r.Config(id)
	if !ok {
		return "", false
	}
	return cfg.OwnerID, true
}

// Status returns the last recorded status for id.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.statuses[id]
	return st, ok
}

// IDs returns a snapshot of every registered id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// UpdateMetadata patches group and sort order in memory and in the store.
func (r *Registry) UpdateMetadata(ctx context.Context, id string, group *string, sortOrder *int) (bool, error) {
	unlock := r.locks.Lock(id)
	r.mu.Lock()
	cfg, ok := r.configs[id]
	if ok {
		if group != nil {
			cfg.Group = *group
		}
		if sortOrder != nil {
			cfg.SortOrder = *sortOrder
		}
		r.configs[id] = cfg
	}
	r.mu.Unlock()
	defer unlock()

	if !ok {
		return false, nil
	}
	if r.store == nil {
		return true, nil
	}
	if _, err := r.store.UpdateMetadata(ctx, id, group, sortOrder); err != nil {
		metrics.StoreFailures.WithLabelValues("update").Inc()
		r.log.Warn("failed to persist metadata", zap.String("resource", id), zap.Error(err))
		return true, asPersistence("failed to persist metadata", err)
	}
	return true, nil
}

// Close closes every live handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*sql.DB)
	r.mu.Unlock()

	var errs error
	for _, handle := range handles {
		errs = multierr.Append(errs, handle.Close())
	}
	return errs
}

func closeHandle(log *zap.Logger, id string, handle *sql.DB) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		log.Debug("failed to close handle", zap.String("resource", id), zap.Error(err))
	}
}

func asPersistence(msg string, err error) error {
	if apperrors.IsKind(err, apperrors.KindPersistence) {
		return err
	}
	return apperrors.Persistence(msg, err)
}
