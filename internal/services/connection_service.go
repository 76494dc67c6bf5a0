package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/registry"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/logger"
	"github.com/charlesng35/dbwarden/pkg/validator"
)

// Empty-field policies applied to non-password fields when a connection is updated.
const (
	EmptyFieldsClear = "clear"
	EmptyFieldsKeep  = "keep"
)

// ConnectionTester performs a one-shot reachability check.
type ConnectionTester interface {
	Test(ctx context.Context, cfg drivers.Config) error
}

// SavedConnections reads a single persisted connection.
type SavedConnections interface {
	Get(ctx context.Context, id string) (drivers.Config, bool, error)
}

// ConnectionPolicy tunes how updates treat blank form fields.
type ConnectionPolicy struct {
	EmptyFieldPolicy string
}

// SaveInput is the create-or-update payload for a connection.
type SaveInput struct {
	ID        string         `json:"id"`
	Name      string         `json:"name" validate:"required,max=128"`
	Kind      string         `json:"type" validate:"required"`
	Fields    drivers.Fields `json:"fields"`
	ExtraJSON string         `json:"extra_json"`
	Group     string         `json:"group" validate:"max=128"`
}

// SaveResult reports the registered id and its first probe.
type SaveResult struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Created bool            `json:"created"`
	Status  registry.Status `json:"status"`
}

// ReorderItem patches placement of one connection. Nil fields are left unchanged.
type ReorderItem struct {
	ID        string  `json:"id"`
	Group     *string `json:"group"`
	SortOrder *int    `json:"sort_order"`
}

// ConnectionView is a redacted connection with its live status.
type ConnectionView struct {
	drivers.Config
	Status registry.Status `json:"status"`
	Owned  bool            `json:"owned"`
}

// ConnectionService implements the connection lifecycle on top of the registry.
type ConnectionService struct {
	registry *registry.Registry
	engine   *permissions.Engine
	tester   ConnectionTester
	saved    SavedConnections
	grants   *GrantService
	audit    *AuditService
	policy   ConnectionPolicy
}

// NewConnectionService constructs a ConnectionService.
func NewConnectionService(
	reg *registry.Registry,
	engine *permissions.Engine,
	tester ConnectionTester,
	saved SavedConnections,
	grants *GrantService,
	audit *AuditService,
	policy ConnectionPolicy,
) (*ConnectionService, error) {
	if reg == nil {
		return nil, errors.New("connection service: registry is required")
	}
	if engine == nil {
		return nil, errors.New("connection service: permission engine is required")
	}
	if tester == nil {
		return nil, errors.New("connection service: tester is required")
	}
	switch strings.ToLower(strings.TrimSpace(policy.EmptyFieldPolicy)) {
	case "", EmptyFieldsClear:
		policy.EmptyFieldPolicy = EmptyFieldsClear
	case EmptyFieldsKeep:
		policy.EmptyFieldPolicy = EmptyFieldsKeep
	default:
		return nil, fmt.Errorf("connection service: unknown empty field policy %q", policy.EmptyFieldPolicy)
	}
	return &ConnectionService{
		registry: reg,
		engine:   engine,
		tester:   tester,
		saved:    saved,
		grants:   grants,
		audit:    audit,
		policy:   policy,
	}, nil
}

// List returns the caller's own and granted connections with passwords blanked.
func (s *ConnectionService) List(ctx context.Context, user string) ([]ConnectionView, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	if err := s.engine.Require(ctx, user, "", permissions.APIAccess); err != nil {
		return nil, err
	}

	cfgs := s.registry.ListFor(ctx, user)
	views := make([]ConnectionView, 0, len(cfgs))
	for _, cfg := range cfgs {
		status, _ := s.registry.Status(cfg.ID)
		views = append(views, ConnectionView{
			Config: cfg.Redacted(),
			Status: status,
			Owned:  cfg.OwnerID == user,
		})
	}
	return views, nil
}

// Save tests and registers a new connection, or replaces one the caller owns.
func (s *ConnectionService) Save(ctx context.Context, user string, input SaveInput) (*SaveResult, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	if err := s.engine.Require(ctx, user, "", permissions.ManageConnections); err != nil {
		return nil, err
	}

	cfg, existing, err := s.buildConfig(ctx, user, input)
	if err != nil {
		return nil, err
	}

	if !cfg.Kind.IsFolder() {
		if err := s.tester.Test(ctx, cfg); err != nil {
			recordAudit(s.audit, ctx, AuditEntry{
				Username: user,
				Action:   saveAction(existing),
				Resource: cfg.ID,
				Result:   AuditFailure,
				Metadata: map[string]any{"name": cfg.Name, "type": string(cfg.Kind), "error": err.Error()},
			})
			return nil, apperrors.Connectivity("connection test failed", err)
		}
	}

	id, err := s.registry.Register(ctx, cfg, true)
	if err != nil {
		if id == "" || !apperrors.IsKind(err, apperrors.KindPersistence) {
			return nil, err
		}
		logger.WithModule("connections").Warn("connection registered without persistence",
			zap.String("resource", id),
			zap.Error(err),
		)
	}

	if group := strings.TrimSpace(cfg.Group); group != "" && !cfg.Kind.IsFolder() {
		s.ensureFolder(ctx, user, group)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: user,
		Action:   saveAction(existing),
		Resource: id,
		Result:   AuditSuccess,
		Metadata: map[string]any{"name": cfg.Name, "type": string(cfg.Kind)},
	})

	status, _ := s.registry.Status(id)
	return &SaveResult{ID: id, Name: cfg.Name, Created: existing == nil, Status: status}, nil
}

// Test checks reachability of a connection payload without registering it.
func (s *ConnectionService) Test(ctx context.Context, user string, input SaveInput) error {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	if err := s.engine.Require(ctx, user, "", permissions.ManageConnections); err != nil {
		return err
	}

	cfg, _, err := s.buildConfig(ctx, user, input)
	if err != nil {
		return err
	}
	if err := s.tester.Test(ctx, cfg); err != nil {
		return apperrors.Connectivity("connection test failed", err)
	}
	return nil
}

// Disconnect removes a connection owned by the caller together with its grants.
func (s *ConnectionService) Disconnect(ctx context.Context, user, id string) error {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	cfg, err := s.ownedConfig(user, id)
	if err != nil {
		return err
	}

	existed, err := s.registry.Unregister(ctx, id)
	if err != nil {
		logger.WithModule("connections").Warn("connection removed from memory only",
			zap.String("resource", id),
			zap.Error(err),
		)
	}
	if !existed {
		return ErrConnectionNotFound
	}
	if s.grants != nil {
		if _, err := s.grants.DeleteForResource(ctx, id); err != nil {
			logger.WithModule("connections").Warn("failed to remove grants",
				zap.String("resource", id),
				zap.Error(err),
			)
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: user,
		Action:   "connection.delete",
		Resource: id,
		Result:   AuditSuccess,
		Metadata: map[string]any{"name": cfg.Name},
	})
	return nil
}

// Reorder applies placement patches to connections the caller owns and returns how many changed.
// Items naming connections the caller does not own are skipped.
func (s *ConnectionService) Reorder(ctx context.Context, user string, items []ReorderItem) (int, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	if err := s.engine.Require(ctx, user, "", permissions.ManageConnections); err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, apperrors.Validation("no updates supplied")
	}

	updated := 0
	for _, item := range items {
		if item.ID == "" || s.engine.RequireOwner(user, item.ID) != nil {
			continue
		}
		group := item.Group
		if group != nil {
			trimmed := strings.TrimSpace(*group)
			group = &trimmed
		}
		ok, err := s.registry.UpdateMetadata(ctx, item.ID, group, item.SortOrder)
		if err != nil && !apperrors.IsKind(err, apperrors.KindPersistence) {
			return updated, err
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}

// DeleteFolder moves the folder's children to the root and removes the folder.
// It returns the number of connections moved.
func (s *ConnectionService) DeleteFolder(ctx context.Context, user, id string) (int, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	folder, err := s.ownedConfig(user, id)
	if err != nil {
		return 0, err
	}
	if !folder.Kind.IsFolder() {
		return 0, apperrors.Validation("connection is not a folder")
	}

	root := ""
	moved := 0
	for _, cfg := range s.registry.ListFor(ctx, user) {
		if cfg.ID == folder.ID || cfg.OwnerID != user || cfg.Group != folder.Name {
			continue
		}
		if ok, _ := s.registry.UpdateMetadata(ctx, cfg.ID, &root, nil); ok {
			moved++
		}
	}

	if _, err := s.registry.Unregister(ctx, id); err != nil {
		logger.WithModule("connections").Warn("folder removed from memory only",
			zap.String("resource", id),
			zap.Error(err),
		)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Username: user,
		Action:   "folder.delete",
		Resource: id,
		Result:   AuditSuccess,
		Metadata: map[string]any{"name": folder.Name, "moved": moved},
	})
	return moved, nil
}

// Recheck probes a connection the caller owns or holds a grant on.
func (s *ConnectionService) Recheck(ctx context.Context, user, id string) (registry.Status, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	if err := requireAccess(ctx, s.engine, s.registry, user, id); err != nil {
		return registry.Status{}, err
	}
	return s.registry.CheckStatus(ctx, id), nil
}

// buildConfig validates input and merges it with the stored connection on update.
func (s *ConnectionService) buildConfig(ctx context.Context, user string, input SaveInput) (drivers.Config, *drivers.Config, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Group = strings.TrimSpace(input.Group)
	input.ID = strings.TrimSpace(input.ID)
	if err := validator.Check(input); err != nil {
		return drivers.Config{}, nil, err
	}

	kind, ok := drivers.ParseKind(input.Kind)
	if !ok {
		return drivers.Config{}, nil, apperrors.Validation(fmt.Sprintf("unsupported database type: %s", input.Kind))
	}
	if !kind.IsFolder() && input.Fields == (drivers.Fields{}) && input.ID == "" {
		return drivers.Config{}, nil, apperrors.Validation("connection fields are required")
	}

	opts, err := drivers.ParseOptions(strings.TrimSpace(input.ExtraJSON))
	if err != nil {
		return drivers.Config{}, nil, apperrors.Validation("invalid extra_json: must be a JSON object")
	}

	cfg := drivers.Config{
		ID:      input.ID,
		OwnerID: user,
		Name:    input.Name,
		Kind:    kind,
		Fields:  input.Fields,
		Options: opts,
		Group:   input.Group,
	}

	var existing *drivers.Config
	if input.ID != "" {
		stored, err := s.lookup(ctx, input.ID)
		if err != nil {
			return drivers.Config{}, nil, err
		}
		if stored.OwnerID != user {
			return drivers.Config{}, nil, apperrors.Authorization("only the owner can modify this connection")
		}
		existing = &stored
		cfg = s.merge(cfg, stored, strings.TrimSpace(input.ExtraJSON) == "")
	}

	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	url, ok := drivers.BuildURL(cfg.Kind, cfg.Fields)
	if !ok {
		return drivers.Config{}, nil, apperrors.Validation(fmt.Sprintf("unsupported database type: %s", cfg.Kind))
	}
	cfg.URL = url
	return cfg, existing, nil
}

func (s *ConnectionService) merge(cfg, stored drivers.Config, optionsBlank bool) drivers.Config {
	cfg.SortOrder = stored.SortOrder
	cfg.CreatedAt = stored.CreatedAt
	if cfg.Fields.Password == "" {
		cfg.Fields.Password = stored.Fields.Password
	}
	if s.policy.EmptyFieldPolicy != EmptyFieldsKeep {
		return cfg
	}

	keep := func(current *string, previous string) {
		if *current == "" {
			*current = previous
		}
	}
	keep(&cfg.Fields.Host, stored.Fields.Host)
	keep(&cfg.Fields.Port, stored.Fields.Port)
	keep(&cfg.Fields.Username, stored.Fields.Username)
	keep(&cfg.Fields.Database, stored.Fields.Database)
	keep(&cfg.Fields.FilePath, stored.Fields.FilePath)
	keep(&cfg.Fields.Driver, stored.Fields.Driver)
	if optionsBlank {
		cfg.Options = stored.Options.Clone()
	}
	return cfg
}

func (s *ConnectionService) lookup(ctx context.Context, id string) (drivers.Config, error) {
	if cfg, ok := s.registry.Config(id); ok {
		return cfg, nil
	}
	if s.saved == nil {
		return drivers.Config{}, ErrConnectionNotFound
	}
	cfg, ok, err := s.saved.Get(ctx, id)
	if err != nil {
		return drivers.Config{}, err
	}
	if !ok {
		return drivers.Config{}, ErrConnectionNotFound
	}
	return cfg, nil
}

func (s *ConnectionService) ownedConfig(user, id string) (drivers.Config, error) {
	if err := s.engine.RequireOwner(user, id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return drivers.Config{}, ErrConnectionNotFound
		}
		return drivers.Config{}, err
	}
	cfg, ok := s.registry.Config(id)
	if !ok {
		return drivers.Config{}, ErrConnectionNotFound
	}
	return cfg, nil
}

// ensureFolder registers a folder named group unless the caller already owns one.
func (s *ConnectionService) ensureFolder(ctx context.Context, user, group string) {
	for _, cfg := range s.registry.ListFor(ctx, user) {
		if cfg.OwnerID == user && cfg.Kind.IsFolder() && cfg.Name == group {
			return
		}
	}

	folder := drivers.Config{
		OwnerID:   user,
		Name:      group,
		Kind:      drivers.KindFolder,
		Group:     group,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.registry.Register(ctx, folder, true); err != nil {
		logger.WithModule("connections").Warn("failed to create folder",
			zap.String("folder", group),
			zap.Error(err),
		)
	}
}

func saveAction(existing *drivers.Config) string {
	if existing != nil {
		return "connection.update"
	}
	return "connection.create"
}
