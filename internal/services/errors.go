package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUserExists indicates the username is taken.
	ErrUserExists = apperrors.New("USER_EXISTS", "Username already exists", http.StatusBadRequest)
	// ErrLastAdmin protects the last holder of the admin role.
	ErrLastAdmin = apperrors.New("LAST_ADMIN", "The last admin cannot be removed or demoted", http.StatusBadRequest)
	// ErrRegistrationClosed rejects self-registration when disabled.
	ErrRegistrationClosed = apperrors.New("REGISTRATION_CLOSED", "Registration is disabled", http.StatusForbidden)

	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = apperrors.New("ROLE_NOT_FOUND", "Role not found", http.StatusNotFound)
	// ErrRoleExists indicates the role name is taken.
	ErrRoleExists = apperrors.New("ROLE_EXISTS", "Role already exists", http.StatusBadRequest)
	// ErrSystemRoleImmutable guards the seeded roles.
	ErrSystemRoleImmutable = apperrors.New("ROLE_SYSTEM_IMMUTABLE", "System roles cannot be modified", http.StatusBadRequest)
	// ErrRoleInUse blocks deleting a role referenced by a user or grant.
	ErrRoleInUse = apperrors.New("ROLE_IN_USE", "Role is assigned to users or grants", http.StatusBadRequest)

	// ErrGrantNotFound indicates no grant exists for the pair.
	ErrGrantNotFound = apperrors.New("GRANT_NOT_FOUND", "Grant not found", http.StatusNotFound)
	// ErrConnectionNotFound hides connections the caller may not see.
	ErrConnectionNotFound = apperrors.New("CONNECTION_NOT_FOUND", "Connection not found", http.StatusNotFound)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") || strings.Contains(lower, "duplicate")
}
