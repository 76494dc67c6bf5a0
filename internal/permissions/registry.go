package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Permission describes one token of the permission vocabulary.
type Permission struct {
	ID          string
	Description string
	order       int
}

type permissionRegistry struct {
	mu          sync.RWMutex
	permissions map[string]*Permission
}

var globalRegistry = &permissionRegistry{
	permissions: make(map[string]*Permission),
}

var (
	// ErrUnknownPermission indicates a token outside the registered vocabulary.
	ErrUnknownPermission = errors.New("permission: unknown permission")

	errNilPermission = errors.New("permission: nil definition")
	errEmptyID       = errors.New("permission: id is required")
	errDuplicateID   = errors.New("permission: already registered")
)

// Register adds a permission to the vocabulary. Registration order is the canonical ordering.
func Register(perm *Permission) error {
	if perm == nil {
		return errNilPermission
	}

	id := strings.TrimSpace(perm.ID)
	if id == "" {
		return errEmptyID
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.permissions[id]; exists {
		return fmt.Errorf("%w: %s", errDuplicateID, id)
	}

	globalRegistry.permissions[id] = &Permission{
		ID:          id,
		Description: strings.TrimSpace(perm.Description),
		order:       len(globalRegistry.permissions),
	}
	return nil
}

// Get returns a copy of the permission definition when registered.
func Get(id string) (*Permission, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	perm, ok := globalRegistry.permissions[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	cp := *perm
	return &cp, true
}

// IsKnown reports whether id belongs to the vocabulary.
func IsKnown(id string) bool {
	_, ok := Get(id)
	return ok
}

// All returns every registered permission ID in canonical order.
func All() []string {
	defs := Definitions()
	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.ID
	}
	return ids
}

// Definitions returns copies of every registered permission in canonical order.
func Definitions() []Permission {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]Permission, 0, len(globalRegistry.permissions))
	for _, perm := range globalRegistry.permissions {
		out = append(out, *perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Validate rejects tokens outside the vocabulary and returns the cleaned, de-duplicated list.
func Validate(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !IsKnown(id) {
			return nil, fmt.Errorf("%w %q", ErrUnknownPermission, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return NewSet(out...).Slice(), nil
}

func removePermission(id string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	delete(globalRegistry.permissions, id)
}
