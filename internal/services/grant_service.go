package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

// GrantInput names the grantee and the role they receive on one connection.
type GrantInput struct {
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// GrantService delegates roles on individual connections to users who do not own them.
type GrantService struct {
	db     *gorm.DB
	engine *permissions.Engine
	audit  *AuditService
}

// NewGrantService constructs a GrantService.
func NewGrantService(db *gorm.DB, engine *permissions.Engine, audit *AuditService) (*GrantService, error) {
	if db == nil {
		return nil, errors.New("grant service: db is required")
	}
	if engine == nil {
		return nil, errors.New("grant service: permission engine is required")
	}
	return &GrantService{db: db, engine: engine, audit: audit}, nil
}

// Upsert creates the grant or replaces its role when one already exists for the pair.
func (s *GrantService) Upsert(ctx context.Context, actor, resourceID string, input GrantInput) (*models.Grant, error) {
	ctx = ensureContext(ctx)
	if err := s.requireManager(ctx, actor, resourceID); err != nil {
		return nil, err
	}

	username := normaliseUsername(input.Username)
	roleName := strings.TrimSpace(input.Role)
	if username == "" || roleName == "" {
		return nil, apperrors.Validation("username and role are required")
	}
	if owner, ok := s.engine.OwnerOf(resourceID); ok && owner == username {
		return nil, apperrors.Validation("the owner already has full access")
	}

	grant := &models.Grant{
		Username:   username,
		ResourceID: resourceID,
		RoleName:   roleName,
		GrantedBy:  normaliseUsername(actor),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&users).Error; err != nil {
			return fmt.Errorf("grant service: load user: %w", err)
		}
		if users == 0 {
			return ErrUserNotFound
		}
		if err := ensureRoleExists(tx, roleName); err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role_name", "granted_by", "updated_at"}),
		}).Create(grant).Error; err != nil {
			return fmt.Errorf("grant service: upsert grant: %w", err)
		}
		var stored models.Grant
		if err := tx.Where("username = ? AND resource_id = ?", username, resourceID).Take(&stored).Error; err != nil {
			return fmt.Errorf("grant service: reload grant: %w", err)
		}
		*grant = stored
		return nil
	})

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "grant.upsert",
		Resource: resourceID,
		Result:   auditResult(err),
		Metadata: map[string]any{"grantee": username, "role": roleName},
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// Delete revokes the grant held by username on resourceID.
func (s *GrantService) Delete(ctx context.Context, actor, resourceID, username string) error {
	ctx = ensureContext(ctx)
	if err := s.requireManager(ctx, actor, resourceID); err != nil {
		return err
	}

	username = normaliseUsername(username)
	result := s.db.WithContext(ctx).
		Where("username = ? AND resource_id = ?", username, resourceID).
		Delete(&models.Grant{})

	var err error
	switch {
	case result.Error != nil:
		err = fmt.Errorf("grant service: delete grant: %w", result.Error)
	case result.RowsAffected == 0:
		err = ErrGrantNotFound
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "grant.delete",
		Resource: resourceID,
		Result:   auditResult(err),
		Metadata: map[string]any{"grantee": username},
	})
	return err
}

// ListForResource returns the grants on one connection.
func (s *GrantService) ListForResource(ctx context.Context, actor, resourceID string) ([]models.Grant, error) {
	ctx = ensureContext(ctx)
	if err := s.requireManager(ctx, actor, resourceID); err != nil {
		return nil, err
	}

	var grants []models.Grant
	if err := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("username ASC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("grant service: list grants: %w", err)
	}
	return grants, nil
}

// ListForUser returns the grants held by username. Callers may list their own grants.
func (s *GrantService) ListForUser(ctx context.Context, actor, username string) ([]models.Grant, error) {
	ctx = ensureContext(ctx)
	username = normaliseUsername(username)
	if normaliseUsername(actor) != username {
		if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
			return nil, err
		}
	}

	var grants []models.Grant
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("resource_id ASC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("grant service: list grants: %w", err)
	}
	return grants, nil
}

// ResourcesGrantedTo lists the connection IDs username holds a grant on.
func (s *GrantService) ResourcesGrantedTo(ctx context.Context, username string) ([]string, error) {
	return s.engine.ResourcesGrantedTo(ctx, username)
}

// GranteesOf lists the users holding a grant on resourceID.
func (s *GrantService) GranteesOf(ctx context.Context, resourceID string) ([]string, error) {
	return s.engine.GranteesOf(ctx, resourceID)
}

// DeleteForResource removes every grant on resourceID and reports how many were removed.
func (s *GrantService) DeleteForResource(ctx context.Context, resourceID string) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("resource_id = ?", resourceID).
		Delete(&models.Grant{})
	if result.Error != nil {
		return 0, fmt.Errorf("grant service: delete grants: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// requireManager allows the owner, or a holder of manage_users, to administer grants.
func (s *GrantService) requireManager(ctx context.Context, actor, resourceID string) error {
	err := s.engine.RequireOwner(actor, resourceID)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return ErrConnectionNotFound
	}
	if ok, checkErr := s.engine.Can(ctx, actor, "", permissions.ManageUsers); checkErr == nil && ok {
		return nil
	}
	return err
}
