package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultAuditSpec          = "@daily"
	defaultGrantSpec          = "@daily"
)

// LiveResources reports connection ids that are registered but may not be persisted.
type LiveResources func() []string

// Cleaner coordinates background maintenance: pruning stale audit logs and
// removing grants whose connection no longer exists.
type Cleaner struct {
	db        *gorm.DB
	audit     *services.AuditService
	live      LiveResources
	cron      *cron.Cron
	log       *zap.Logger
	enabled   bool
	retention int

	auditSchedule string
	grantSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithGrantSchedule overrides the cron specification for orphan grant removal.
func WithGrantSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.grantSchedule = spec
		}
	}
}

// WithLiveResources protects grants on connections that exist only in memory.
func WithLiveResources(live LiveResources) Option {
	return func(cleaner *Cleaner) {
		cleaner.live = live
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(db *gorm.DB, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		audit:         audit,
		retention:     defaultAuditRetentionDays,
		auditSchedule: defaultAuditSpec,
		grantSchedule: defaultGrantSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.audit != nil || cleaner.db != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			removed, err := c.audit.CleanupOlderThan(context.Background(), c.retention)
			if err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
				return
			}
			c.log.Debug("audit cleanup finished", zap.Int64("removed", removed))
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.grantSchedule, func() {
			removed, err := CleanupOrphanGrants(context.Background(), c.db, c.liveIDs())
			if err != nil {
				c.log.Warn("orphan grant cleanup failed", zap.Error(err))
				return
			}
			if removed > 0 {
				c.log.Info("removed orphan grants", zap.Int64("removed", removed))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := CleanupOrphanGrants(ctx, c.db, c.liveIDs()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) liveIDs() []string {
	if c.live == nil {
		return nil
	}
	return c.live()
}

// CleanupOrphanGrants deletes grants whose resource is neither persisted nor listed in live.
func CleanupOrphanGrants(ctx context.Context, db *gorm.DB, live []string) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup grants: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	saved := db.Model(&models.SavedConnection{}).Select("id")
	query := db.WithContext(ctx).Where("resource_id NOT IN (?)", saved)
	if len(live) > 0 {
		query = query.Where("resource_id NOT IN ?", live)
	}

	result := query.Delete(&models.Grant{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup grants: %w", result.Error)
	}
	return result.RowsAffected, nil
}
