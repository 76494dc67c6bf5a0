package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/validator"
)

// RoleInput describes the mutable attributes of a custom role.
type RoleInput struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions"`
}

// RoleService manages custom roles. Seeded system roles are read-only.
type RoleService struct {
	db     *gorm.DB
	engine *permissions.Engine
	audit  *AuditService
}

// NewRoleService constructs a RoleService.
func NewRoleService(db *gorm.DB, engine *permissions.Engine, audit *AuditService) (*RoleService, error) {
	if db == nil {
		return nil, errors.New("role service: db is required")
	}
	if engine == nil {
		return nil, errors.New("role service: permission engine is required")
	}
	return &RoleService{db: db, engine: engine, audit: audit}, nil
}

// List returns every role, system roles first.
func (s *RoleService) List(ctx context.Context, actor string) ([]models.Role, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageRoles); err != nil {
		return nil, err
	}

	var roles []models.Role
	if err := s.db.WithContext(ctx).
		Order("is_system DESC").
		Order("name ASC").
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("role service: list roles: %w", err)
	}
	return roles, nil
}

// Get loads a role by name.
func (s *RoleService) Get(ctx context.Context, actor, name string) (*models.Role, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageRoles); err != nil {
		return nil, err
	}
	return findRole(s.db.WithContext(ctx), strings.TrimSpace(name))
}

// Create stores a new custom role after validating its permission tokens.
func (s *RoleService) Create(ctx context.Context, actor string, input RoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageRoles); err != nil {
		return nil, err
	}

	role, err := buildRole(input)
	if err != nil {
		return nil, err
	}
	if permissions.IsSystemRole(role.Name) {
		return nil, ErrRoleExists
	}

	err = s.db.WithContext(ctx).Create(role).Error
	if err != nil && isUniqueConstraintError(err) {
		err = ErrRoleExists
	} else if err != nil {
		err = fmt.Errorf("role service: create role: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "role.create",
		Resource: role.Name,
		Result:   auditResult(err),
		Metadata: map[string]any{"permissions": role.PermissionList()},
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// Update replaces the description and permission set of a custom role.
func (s *RoleService) Update(ctx context.Context, actor, name string, input RoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageRoles); err != nil {
		return nil, err
	}

	input.Name = strings.TrimSpace(name)
	desired, err := buildRole(input)
	if err != nil {
		return nil, err
	}

	var role *models.Role
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findRole(tx, desired.Name)
		if err != nil {
			return err
		}
		if existing.IsSystem {
			return ErrSystemRoleImmutable
		}
		if err := tx.Model(existing).Updates(map[string]any{
			"description": desired.Description,
			"permissions": desired.Permissions,
		}).Error; err != nil {
			return fmt.Errorf("role service: update role: %w", err)
		}
		existing.Description = desired.Description
		existing.Permissions = desired.Permissions
		role = existing
		return nil
	})

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "role.update",
		Resource: desired.Name,
		Result:   auditResult(err),
		Metadata: map[string]any{"permissions": desired.PermissionList()},
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// Delete removes a custom role that no user or grant references.
func (s *RoleService) Delete(ctx context.Context, actor, name string) error {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageRoles); err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, err := findRole(tx, name)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}

		var users, grants int64
		if err := tx.Model(&models.User{}).Where("role_name = ?", name).Count(&users).Error; err != nil {
			return fmt.Errorf("role service: count users: %w", err)
		}
		if err := tx.Model(&models.Grant{}).Where("role_name = ?", name).Count(&grants).Error; err != nil {
			return fmt.Errorf("role service: count grants: %w", err)
		}
		if users > 0 || grants > 0 {
			return ErrRoleInUse
		}

		if err := tx.Delete(role).Error; err != nil {
			return fmt.Errorf("role service: delete role: %w", err)
		}
		return nil
	})

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "role.delete",
		Resource: name,
		Result:   auditResult(err),
	})
	return err
}

func buildRole(input RoleInput) (*models.Role, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := validator.Check(input); err != nil {
		return nil, err
	}

	perms, err := permissions.Validate(input.Permissions)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	role := &models.Role{Name: input.Name, Description: input.Description}
	if err := role.SetPermissions(perms); err != nil {
		return nil, err
	}
	return role, nil
}

func findRole(tx *gorm.DB, name string) (*models.Role, error) {
	if name == "" {
		return nil, ErrRoleNotFound
	}
	var role models.Role
	err := tx.Where("name = ?", name).Take(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	return &role, nil
}
