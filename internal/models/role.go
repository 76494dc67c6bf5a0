package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"gorm.io/datatypes"
)

// Role is a named permission set. System roles are seeded and immutable.
type Role struct {
	BaseModel

	Name        string         `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description string         `json:"description"`
	Permissions datatypes.JSON `json:"permissions"`
	IsSystem    bool           `gorm:"default:false" json:"is_system"`
}

// PermissionList decodes the stored permission tokens. Malformed JSON yields nil.
func (r *Role) PermissionList() []string {
	if r == nil || len(r.Permissions) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(r.Permissions, &out); err != nil {
		return nil
	}
	return out
}

// SetPermissions stores tokens sorted and de-duplicated.
func (r *Role) SetPermissions(perms []string) error {
	seen := make(map[string]struct{}, len(perms))
	unique := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	sort.Strings(unique)

	encoded, err := json.Marshal(unique)
	if err != nil {
		return fmt.Errorf("role: encode permissions: %w", err)
	}
	r.Permissions = datatypes.JSON(encoded)
	return nil
}
