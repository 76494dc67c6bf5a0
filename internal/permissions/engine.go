package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/models"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/metrics"
)

// OwnerResolver reports the owner of a registered resource.
type OwnerResolver interface {
	OwnerOf(resourceID string) (string, bool)
}

// Engine computes effective permissions from global roles, per-resource grants and ownership.
type Engine struct {
	db *gorm.DB

	mu     sync.RWMutex
	owners OwnerResolver
}

// NewEngine constructs an authorization engine backed by db. owners may be bound later with BindOwners.
func NewEngine(db *gorm.DB, owners OwnerResolver) (*Engine, error) {
	if db == nil {
		return nil, errors.New("permission engine: db is required")
	}
	return &Engine{db: db, owners: owners}, nil
}

// BindOwners sets the resolver used for ownership checks.
func (e *Engine) BindOwners(owners OwnerResolver) {
	e.mu.Lock()
	e.owners = owners
	e.mu.Unlock()
}

// OwnerOf resolves the owner of resourceID through the bound resolver.
func (e *Engine) OwnerOf(resourceID string) (string, bool) {
	e.mu.RLock()
	owners := e.owners
	e.mu.RUnlock()
	if owners == nil || resourceID == "" {
		return "", false
	}
	return owners.OwnerOf(resourceID)
}

// PermissionsFor returns the effective permission set of username, optionally scoped to a resource.
// Unknown users get the empty set. Owners get the full vocabulary on their own resources.
func (e *Engine) PermissionsFor(ctx context.Context, username, resourceID string) (Set, error) {
	ctx = ensureContext(ctx)
	username = normaliseUsername(username)
	resourceID = strings.TrimSpace(resourceID)
	if username == "" {
		return Set{}, nil
	}

	var user models.User
	err := e.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission engine: load user: %w", err)
	}

	if resourceID != "" {
		if owner, ok := e.OwnerOf(resourceID); ok && owner == username {
			return FullSet(), nil
		}
	}

	perms, err := e.rolePermissions(ctx, user.RoleName)
	if err != nil {
		return nil, err
	}

	if resourceID == "" {
		return perms, nil
	}

	var grant models.Grant
	err = e.db.WithContext(ctx).
		Where("username = ? AND resource_id = ?", username, resourceID).
		Take(&grant).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return perms, nil
	case err != nil:
		return nil, fmt.Errorf("permission engine: load grant: %w", err)
	}

	granted, err := e.rolePermissions(ctx, grant.RoleName)
	if err != nil {
		return nil, err
	}
	return perms.Union(granted), nil
}

// Require fails with a MISSING_PERMISSION error naming the first absent token.
func (e *Engine) Require(ctx context.Context, username, resourceID string, needed ...string) error {
	perms, err := e.PermissionsFor(ctx, username, resourceID)
	if err != nil {
		observe(needed, "error")
		return apperrors.Persistence("failed to evaluate permissions", err)
	}
	if missing, ok := perms.Missing(needed...); ok {
		metrics.PermissionChecks.WithLabelValues(missing, "denied").Inc()
		return apperrors.MissingPermission(missing)
	}
	observe(needed, "allowed")
	return nil
}

// Can reports whether username holds every needed permission on resourceID.
func (e *Engine) Can(ctx context.Context, username, resourceID string, needed ...string) (bool, error) {
	perms, err := e.PermissionsFor(ctx, username, resourceID)
	if err != nil {
		return false, err
	}
	_, missing := perms.Missing(needed...)
	return !missing, nil
}

// RequireOwner fails unless username owns resourceID.
func (e *Engine) RequireOwner(username, resourceID string) error {
	owner, ok := e.OwnerOf(resourceID)
	if !ok {
		return apperrors.ErrNotFound
	}
	if owner != normaliseUsername(username) {
		return apperrors.Authorization("only the owner can modify this connection")
	}
	return nil
}

// HasAccess reports whether username owns or holds a grant on resourceID.
func (e *Engine) HasAccess(ctx context.Context, username, resourceID string) (bool, error) {
	username = normaliseUsername(username)
	if owner, ok := e.OwnerOf(resourceID); ok && owner == username {
		return true, nil
	}

	var count int64
	if err := e.db.WithContext(ensureContext(ctx)).
		Model(&models.Grant{}).
		Where("username = ? AND resource_id = ?", username, resourceID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("permission engine: count grants: %w", err)
	}
	return count > 0, nil
}

// ResourcesGrantedTo lists resource IDs username holds a grant on.
func (e *Engine) ResourcesGrantedTo(ctx context.Context, username string) ([]string, error) {
	var ids []string
	if err := e.db.WithContext(ensureContext(ctx)).
		Model(&models.Grant{}).
		Where("username = ?", normaliseUsername(username)).
		Order("resource_id").
		Pluck("resource_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("permission engine: list granted resources: %w", err)
	}
	return ids, nil
}

// GranteesOf lists usernames holding a grant on resourceID.
func (e *Engine) GranteesOf(ctx context.Context, resourceID string) ([]string, error) {
	var names []string
	if err := e.db.WithContext(ensureContext(ctx)).
		Model(&models.Grant{}).
		Where("resource_id = ?", resourceID).
		Order("username").
		Pluck("username", &names).Error; err != nil {
		return nil, fmt.Errorf("permission engine: list grantees: %w", err)
	}
	return names, nil
}

func (e *Engine) rolePermissions(ctx context.Context, name string) (Set, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Set{}, nil
	}

	var role models.Role
	err := e.db.WithContext(ctx).Where("name = ?", name).Take(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission engine: load role %q: %w", name, err)
	}

	out := make(Set)
	for _, id := range role.PermissionList() {
		if IsKnown(id) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func observe(perms []string, result string) {
	for _, perm := range perms {
		metrics.PermissionChecks.WithLabelValues(perm, result).Inc()
	}
}

func normaliseUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
