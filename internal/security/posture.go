package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/app"
	"github.com/charlesng35/dbwarden/internal/database"
	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/vault"
)

// CheckStatus captures the outcome of a posture check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const (
	minSecretBytes         = 32
	recommendedSecretBytes = 48
	maxRecommendedTokenTTL = 24 * time.Hour
)

// Check contains the result of a single verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// SecretSizer exposes the JWT signing secret length.
type SecretSizer interface {
	SecretLength() int
	AccessTokenTTL() time.Duration
}

// KeyInfo describes the active vault key.
type KeyInfo interface {
	Source() vault.Source
	Fingerprint() string
}

// PostureService evaluates the deployment's security-relevant configuration.
type PostureService struct {
	db    *gorm.DB
	jwt   SecretSizer
	vault KeyInfo
	cfg   *app.Config
	now   func() time.Time
}

// NewPostureService constructs the service. Missing inputs degrade the affected checks to warnings.
func NewPostureService(db *gorm.DB, jwt SecretSizer, key KeyInfo, cfg *app.Config) *PostureService {
	return &PostureService{
		db:    db,
		jwt:   jwt,
		vault: key,
		cfg:   cfg,
		now:   time.Now,
	}
}

// WithClock overrides the clock used in results (primarily for testing).
func (s *PostureService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all checks and returns their outcome.
func (s *PostureService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkAdminPresent(ctx),
		s.checkJWTSecret(),
		s.checkTokenTTL(),
		s.checkVaultKey(ctx),
		s.checkTransport(),
		s.checkRegistration(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *PostureService) checkAdminPresent(ctx context.Context) Check {
	const id = "admin_present"
	if s.db == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Database unavailable, unable to confirm an administrator exists.",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	var users, admins int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Count(&users).Error
	if err == nil {
		err = s.db.WithContext(ctx).Model(&models.User{}).
			Where("role_name = ?", permissions.RoleAdmin).
			Count(&admins).Error
	}
	if err != nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not count administrators: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	switch {
	case users == 0:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "No accounts yet. The first registered account becomes admin.",
			Remediation: "Register the administrator account before exposing the service.",
		}
	case admins == 0:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "No account holds the admin role.",
			Remediation: "Assign the admin role to a trusted account directly in the database.",
		}
	}
	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: "Administrator present.",
		Details: map[string]any{"count": admins},
	}
}

func (s *PostureService) checkJWTSecret() Check {
	const id = "jwt_secret_strength"
	if s.jwt == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "JWT service not initialised, unable to assess signing secret strength.",
			Remediation: "Initialise the JWT service with a strong secret.",
		}
	}

	length := s.jwt.SecretLength()
	switch {
	case length == 0:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < minSecretBytes:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < recommendedSecretBytes:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of DBWARDEN_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	}
	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
		Details: map[string]any{"length": length},
	}
}

func (s *PostureService) checkTokenTTL() Check {
	const id = "access_token_ttl"
	if s.jwt == nil {
		return Check{ID: id, Status: StatusWarn, Message: "JWT service not initialised, unable to read token lifetime."}
	}

	ttl := s.jwt.AccessTokenTTL()
	if ttl > maxRecommendedTokenTTL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedTokenTTL),
			Remediation: "Tokens cannot be revoked; keep auth.jwt.access_token_ttl short.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}
	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: fmt.Sprintf("Access token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *PostureService) checkVaultKey(ctx context.Context) Check {
	const id = "vault_key"
	if s.vault == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Vault not initialised, unable to verify the credential key.",
			Remediation: "Configure vault.encryption_key or vault.key_file.",
		}
	}

	fingerprint := s.vault.Fingerprint()
	if s.db != nil {
		stored, err := database.GetSystemSetting(ctx, s.db, database.VaultFingerprintSetting)
		if err == nil && stored != "" && stored != fingerprint {
			return Check{
				ID:          id,
				Status:      StatusFail,
				Message:     "Vault key does not match the key that sealed stored credentials.",
				Remediation: "Restore the original key; affected connections are skipped on load.",
				Details:     map[string]any{"fingerprint": fingerprint},
			}
		}
	}

	if s.vault.Source() == vault.SourceKeyFile {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Vault key is read from a file inside the data directory.",
			Remediation: "Supply DBWARDEN_VAULT_ENCRYPTION_KEY from a secret manager so backups do not carry the key.",
			Details:     map[string]any{"fingerprint": fingerprint},
		}
	}
	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: "Vault key supplied externally.",
		Details: map[string]any{"fingerprint": fingerprint},
	}
}

func (s *PostureService) checkTransport() Check {
	const id = "connection_transport"
	if s.cfg == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Configuration not loaded, unable to evaluate transport settings."}
	}
	if !s.cfg.Connections.EnforceSSL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Encrypted transport is not enforced for network data sources.",
			Remediation: "Set connections.enforce_ssl to require TLS for postgresql and mysql.",
		}
	}
	details := map[string]any{}
	if ca := strings.TrimSpace(s.cfg.Connections.SSLCABundle); ca != "" {
		details["ca_bundle"] = ca
	}
	return Check{ID: id, Status: StatusPass, Message: "Encrypted transport enforced.", Details: details}
}

func (s *PostureService) checkRegistration() Check {
	const id = "open_registration"
	if s.cfg == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Configuration not loaded, unable to evaluate registration."}
	}
	if s.cfg.Auth.AllowRegistration {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Self-registration is open; new accounts receive the %q role.", s.cfg.Auth.DefaultRole),
			Remediation: "Disable auth.allow_registration once all users are provisioned.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Self-registration disabled."}
}
