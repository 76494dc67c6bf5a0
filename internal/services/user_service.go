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
	"github.com/charlesng35/dbwarden/pkg/crypto"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/validator"
)

// UserPolicy controls self-registration.
type UserPolicy struct {
	DefaultRole       string
	AllowRegistration bool
}

// RegisterInput describes a self-registration request.
type RegisterInput struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=4,max=128"`
}

// CreateUserInput describes an administrator provisioning a user.
type CreateUserInput struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=4,max=128"`
	Role     string `json:"role"`
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Query    string
}

// UserService manages accounts, passwords and global role assignment.
type UserService struct {
	db     *gorm.DB
	engine *permissions.Engine
	audit  *AuditService
	policy UserPolicy
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, engine *permissions.Engine, audit *AuditService, policy UserPolicy) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if engine == nil {
		return nil, errors.New("user service: permission engine is required")
	}
	if strings.TrimSpace(policy.DefaultRole) == "" {
		policy.DefaultRole = permissions.RoleViewer
	}
	return &UserService{db: db, engine: engine, audit: audit, policy: policy}, nil
}

// RegistrationOpen reports whether self-registration is currently accepted.
// Registration is always open while no account exists.
func (s *UserService) RegistrationOpen(ctx context.Context) (bool, error) {
	if s.policy.AllowRegistration {
		return true, nil
	}
	count, err := s.countUsers(s.db.WithContext(ensureContext(ctx)))
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Register creates an account. The first account ever created becomes admin.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)
	input.Username = normaliseUsername(input.Username)
	if err := validator.Check(input); err != nil {
		return nil, err
	}

	var user *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent registrations queue on the admin role row so only one can see an empty table.
		if err := lockAdminRole(tx); err != nil {
			return err
		}
		count, err := s.countUsers(tx)
		if err != nil {
			return err
		}

		role := s.policy.DefaultRole
		switch {
		case count == 0:
			role = permissions.RoleAdmin
		case !s.policy.AllowRegistration:
			return ErrRegistrationClosed
		}

		created, err := s.insertUser(tx, input.Username, input.Password, role)
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		recordAudit(s.audit, ctx, AuditEntry{
			Username: input.Username,
			Action:   "user.register",
			Resource: input.Username,
			Result:   AuditFailure,
			Metadata: map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: user.Username,
		Action:   "user.register",
		Resource: user.Username,
		Result:   AuditSuccess,
		Metadata: map[string]any{"role": user.RoleName},
	})
	return user, nil
}

// Create provisions an account on behalf of an administrator.
func (s *UserService) Create(ctx context.Context, actor string, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		return nil, err
	}

	input.Username = normaliseUsername(input.Username)
	input.Role = strings.TrimSpace(input.Role)
	if err := validator.Check(input); err != nil {
		return nil, err
	}
	if input.Role == "" {
		input.Role = s.policy.DefaultRole
	}

	var user *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.insertUser(tx, input.Username, input.Password, input.Role)
		if err != nil {
			return err
		}
		user = created
		return nil
	})

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "user.create",
		Resource: input.Username,
		Result:   auditResult(err),
		Metadata: map[string]any{"role": input.Role},
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies credentials and returns the matching account.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	ctx = ensureContext(ctx)
	username = normaliseUsername(username)

	user, err := s.findUser(s.db.WithContext(ctx), username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if user == nil || !crypto.VerifyPassword(user.PasswordHash, password) {
		recordAudit(s.audit, ctx, AuditEntry{
			Username: username,
			Action:   "auth.login",
			Resource: username,
			Result:   AuditFailure,
		})
		return nil, apperrors.ErrInvalidCredentials
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: username,
		Action:   "auth.login",
		Resource: username,
		Result:   AuditSuccess,
	})
	return user, nil
}

// ChangePassword replaces the caller's password after verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	ctx = ensureContext(ctx)
	username = normaliseUsername(username)

	user, err := s.findUser(s.db.WithContext(ctx), username)
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(user.PasswordHash, oldPassword) {
		return apperrors.Validation("current password is incorrect")
	}

	err = s.setPassword(ctx, user, newPassword)
	recordAudit(s.audit, ctx, AuditEntry{
		Username: username,
		Action:   "user.password.change",
		Resource: username,
		Result:   auditResult(err),
	})
	return err
}

// ResetPassword overwrites another user's password without the old one.
func (s *UserService) ResetPassword(ctx context.Context, actor, username, newPassword string) error {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		return err
	}

	user, err := s.findUser(s.db.WithContext(ctx), normaliseUsername(username))
	if err != nil {
		return err
	}

	err = s.setPassword(ctx, user, newPassword)
	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "user.password.reset",
		Resource: user.Username,
		Result:   auditResult(err),
	})
	return err
}

// SetRole assigns a global role. Demoting the last admin is rejected.
func (s *UserService) SetRole(ctx context.Context, actor, username, roleName string) (*models.User, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		return nil, err
	}

	username = normaliseUsername(username)
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return nil, apperrors.Validation("role is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.findUser(tx, username)
		if err != nil {
			return err
		}
		if err := ensureRoleExists(tx, roleName); err != nil {
			return err
		}
		if found.RoleName == permissions.RoleAdmin && roleName != permissions.RoleAdmin {
			if err := ensureAnotherAdmin(tx); err != nil {
				return err
			}
		}
		if err := tx.Model(found).Update("role_name", roleName).Error; err != nil {
			return fmt.Errorf("user service: update role: %w", err)
		}
		found.RoleName = roleName
		user = *found
		return nil
	})

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "user.role.update",
		Resource: username,
		Result:   auditResult(err),
		Metadata: map[string]any{"role": roleName},
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Delete removes an account and its grants. Deleting the last admin is rejected.
func (s *UserService) Delete(ctx context.Context, actor, username string) error {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		return err
	}

	username = normaliseUsername(username)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.findUser(tx, username)
		if err != nil {
			return err
		}
		if user.RoleName == permissions.RoleAdmin {
			if err := ensureAnotherAdmin(tx); err != nil {
				return err
			}
		}
		if err := tx.Where("username = ?", username).Delete(&models.Grant{}).Error; err != nil {
			return fmt.Errorf("user service: delete grants: %w", err)
		}
		if err := tx.Delete(user).Error; err != nil {
			return fmt.Errorf("user service: delete user: %w", err)
		}
		return nil
	})

	recordAudit(s.audit, ctx, AuditEntry{
		Username: actor,
		Action:   "user.delete",
		Resource: username,
		Result:   auditResult(err),
	})
	return err
}

// List returns accounts ordered by username.
func (s *UserService) List(ctx context.Context, actor string, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)
	if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		return nil, 0, err
	}

	page, perPage := pagination(opts.Page, opts.PageSize)
	query := s.db.WithContext(ctx).Model(&models.User{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		query = query.Where("username LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.Order("username ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}
	return users, total, nil
}

// Get loads a single account.
func (s *UserService) Get(ctx context.Context, actor, username string) (*models.User, error) {
	ctx = ensureContext(ctx)
	username = normaliseUsername(username)
	if normaliseUsername(actor) != username {
		if err := s.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
			return nil, err
		}
	}
	return s.findUser(s.db.WithContext(ctx), username)
}

func (s *UserService) insertUser(tx *gorm.DB, username, password, role string) (*models.User, error) {
	if err := ensureRoleExists(tx, role); err != nil {
		return nil, err
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{Username: username, PasswordHash: hashed, RoleName: role}
	if err := tx.Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

func (s *UserService) setPassword(ctx context.Context, user *models.User, password string) error {
	if len(password) < 4 {
		return apperrors.Validation("password must be at least 4 characters")
	}
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("user service: hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", hashed).Error; err != nil {
		return fmt.Errorf("user service: update password: %w", err)
	}
	user.PasswordHash = hashed
	return nil
}

func (s *UserService) findUser(tx *gorm.DB, username string) (*models.User, error) {
	if username == "" {
		return nil, ErrUserNotFound
	}
	var user models.User
	err := tx.Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// lockAdminRole takes a row lock on the seeded admin role. SQLite ignores the
// clause and serialises writers on its database lock instead.
func lockAdminRole(tx *gorm.DB) error {
	var role models.Role
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", permissions.RoleAdmin).
		First(&role).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("user service: lock admin role: %w", err)
	}
	return nil
}

func (s *UserService) countUsers(tx *gorm.DB) (int64, error) {
	var count int64
	if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("user service: count users: %w", err)
	}
	return count, nil
}

func ensureRoleExists(tx *gorm.DB, name string) error {
	var count int64
	if err := tx.Model(&models.Role{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	if count == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func ensureAnotherAdmin(tx *gorm.DB) error {
	var admins int64
	if err := tx.Model(&models.User{}).
		Where("role_name = ?", permissions.RoleAdmin).
		Count(&admins).Error; err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins <= 1 {
		return ErrLastAdmin
	}
	return nil
}
