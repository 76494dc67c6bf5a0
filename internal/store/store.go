// Package store persists connection configs with every credential field
// encrypted into its own column.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/vault"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/logger"
	"github.com/charlesng35/dbwarden/pkg/metrics"
)

var upsertColumns = []string{
	"owner_id", "name", "kind", "group_name", "sort_order",
	"host_enc", "port_enc", "username_enc", "password_enc", "database_enc",
	"file_path_enc", "driver_enc", "url_enc", "options_enc", "updated_at",
}

// ConnectionStore is the durable side of the connection registry.
type ConnectionStore struct {
	db    *gorm.DB
	vault *vault.Vault
	log   *zap.Logger
}

// New constructs a store. Both dependencies are required before first use.
func New(db *gorm.DB, v *vault.Vault) *ConnectionStore {
	return &ConnectionStore{db: db, vault: v, log: logger.WithModule("store")}
}

// Save inserts or replaces the record keyed by cfg.ID.
func (s *ConnectionStore) Save(ctx context.Context, cfg drivers.Config) error {
	s.mustBeReady()
	if cfg.ID == "" {
		return apperrors.Validation("connection id is required")
	}

	row, err := s.encrypt(cfg)
	if err != nil {
		return apperrors.Persistence("failed to encrypt connection", err)
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(row).Error
	if err != nil {
		return apperrors.Persistence("failed to save connection", err)
	}
	return nil
}

// Delete removes the record and the grants pointing at it. It reports whether a row existed.
func (s *ConnectionStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mustBeReady()

	res := s.db.WithContext(ctx).Delete(&models.SavedConnection{ID: id})
	if res.Error != nil {
		return false, apperrors.Persistence("failed to delete connection", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateMetadata patches the group and sort order. Nil arguments are left untouched.
func (s *ConnectionStore) UpdateMetadata(ctx context.Context, id string, group *string, sortOrder *int) (bool, error) {
	s.mustBeReady()

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SavedConnection{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, apperrors.Persistence("failed to look up connection", err)
	}
	if count == 0 {
		return false, nil
	}

	updates := map[string]any{}
	if group != nil {
		updates["group_name"] = *group
	}
	if sortOrder != nil {
		updates["sort_order"] = *sortOrder
	}
	if len(updates) == 0 {
		return true, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.SavedConnection{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return false, apperrors.Persistence("failed to update connection metadata", err)
	}
	return true, nil
}

// LoadAll decrypts the records owned by ownerID, or every record when ownerID is empty.
// Records that fail to decrypt are logged and skipped.
func (s *ConnectionStore) LoadAll(ctx context.Context, ownerID string) ([]drivers.Config, error) {
	s.mustBeReady()

	query := s.db.WithContext(ctx).Order("sort_order ASC").Order("name ASC")
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}

	var rows []models.SavedConnection
	if err := query.Find(&rows).Error; err != nil {
		return nil, apperrors.Persistence("failed to load connections", err)
	}

	out := make([]drivers.Config, 0, len(rows))
	for i := range rows {
		cfg, err := s.decrypt(&rows[i])
		if err != nil {
			metrics.StoreFailures.WithLabelValues("decrypt").Inc()
			s.log.Warn("skipping unreadable connection record",
				zap.String("resource", rows[i].ID),
				zap.String("owner", rows[i].OwnerID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Get loads and decrypts one record.
func (s *ConnectionStore) Get(ctx context.Context, id string) (drivers.Config, bool, error) {
	s.mustBeReady()

	var row models.SavedConnection
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return drivers.Config{}, false, nil
	}
	if err != nil {
		return drivers.Config{}, false, apperrors.Persistence("failed to load connection", err)
	}

	cfg, err := s.decrypt(&row)
	if err != nil {
		return drivers.Config{}, false, apperrors.Persistence("failed to decrypt connection", err)
	}
	return cfg, true, nil
}

func (s *ConnectionStore) encrypt(cfg drivers.Config) (*models.SavedConnection, error) {
	row := &models.SavedConnection{
		ID:        cfg.ID,
		OwnerID:   cfg.OwnerID,
		Name:      cfg.Name,
		Kind:      string(cfg.Kind),
		GroupName: cfg.Group,
		SortOrder: cfg.SortOrder,
		CreatedAt: cfg.CreatedAt,
	}

	var options string
	if len(cfg.Options) > 0 {
		raw, err := json.Marshal(cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("encode options: %w", err)
		}
		options = string(raw)
	}

	fields := []struct {
		dst   *string
		plain string
	}{
		{&row.HostEnc, cfg.Fields.Host},
		{&row.PortEnc, cfg.Fields.Port},
		{&row.UsernameEnc, cfg.Fields.Username},
		{&row.PasswordEnc, cfg.Fields.Password},
		{&row.DatabaseEnc, cfg.Fields.Database},
		{&row.FilePathEnc, cfg.Fields.FilePath},
		{&row.DriverEnc, cfg.Fields.Driver},
		{&row.URLEnc, cfg.URL},
		{&row.OptionsEnc, options},
	}
	for _, f := range fields {
		token, err := s.vault.Encrypt(f.plain)
		if err != nil {
			return nil, err
		}
		*f.dst = token
	}
	return row, nil
}

func (s *ConnectionStore) decrypt(row *models.SavedConnection) (drivers.Config, error) {
	cfg := drivers.Config{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		Kind:      drivers.Kind(row.Kind),
		Group:     row.GroupName,
		SortOrder: row.SortOrder,
		CreatedAt: row.CreatedAt,
	}

	var options string
	fields := []struct {
		dst   *string
		token string
	}{
		{&cfg.Fields.Host, row.HostEnc},
		{&cfg.Fields.Port, row.PortEnc},
		{&cfg.Fields.Username, row.UsernameEnc},
		{&cfg.Fields.Password, row.PasswordEnc},
		{&cfg.Fields.Database, row.DatabaseEnc},
		{&cfg.Fields.FilePath, row.FilePathEnc},
		{&cfg.Fields.Driver, row.DriverEnc},
		{&cfg.URL, row.URLEnc},
		{&options, row.OptionsEnc},
	}
	for _, f := range fields {
		plain, err := s.vault.Decrypt(f.token)
		if err != nil {
			return drivers.Config{}, err
		}
		*f.dst = plain
	}

	opts, err := drivers.ParseOptions(options)
	if err != nil {
		return drivers.Config{}, err
	}
	cfg.Options = opts
	return cfg, nil
}

func (s *ConnectionStore) mustBeReady() {
	if s == nil || s.db == nil || s.vault == nil {
		panic("store: used before initialisation")
	}
}

