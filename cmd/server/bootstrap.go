package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/api"
	"github.com/charlesng35/dbwarden/internal/app"
	"github.com/charlesng35/dbwarden/internal/app/maintenance"
	iauth "github.com/charlesng35/dbwarden/internal/auth"
	"github.com/charlesng35/dbwarden/internal/database"
	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/internal/monitoring"
	"github.com/charlesng35/dbwarden/internal/monitoring/checks"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/realtime"
	"github.com/charlesng35/dbwarden/internal/registry"
	"github.com/charlesng35/dbwarden/internal/security"
	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/internal/store"
	"github.com/charlesng35/dbwarden/internal/vault"
	"github.com/charlesng35/dbwarden/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher *realtime.RedisPublisher
	Registry  *registry.Registry
	Cleaner   *maintenance.Cleaner
	Router    *gin.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// bootstrapRuntime initialises the control-plane database, the vault, the registry,
// background workers and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	workerCtx, cancel := context.WithCancel(context.Background())
	stack.cancel = cancel

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(vault.Options{Key: cfg.Vault.EncryptionKey, KeyFile: cfg.Vault.KeyFile})
	if err != nil {
		return nil, fmt.Errorf("initialise vault: %w", err)
	}
	matches, err := database.CheckVaultFingerprint(ctx, stack.DB, v.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("verify vault key: %w", err)
	}
	if !matches {
		log.Warn("vault key differs from the one that sealed stored credentials; affected connections will be skipped",
			zap.String("source", string(v.Source())))
	}
	connStore := store.New(stack.DB, v)

	engine, err := permissions.NewEngine(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise permission engine: %w", err)
	}

	hub := realtime.NewHub()
	var broadcasterOpts []realtime.BroadcasterOption
	if cfg.Redis.Enabled {
		stack.Redis, err = realtime.NewRedisClient(ctx, realtime.RedisOptions{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("redis unavailable; status fan-out disabled", zap.Error(err))
		} else {
			stack.Publisher = realtime.NewRedisPublisher(stack.Redis, cfg.Redis.Channel)
			stack.Publisher.Start(workerCtx)
			broadcasterOpts = append(broadcasterOpts, realtime.WithFanout(stack.Publisher))
			log.Info("redis connected", zap.String("addr", cfg.Redis.Address))
		}
	}

	opener := drivers.NewOpener(
		drivers.WithEnforceSSL(cfg.Connections.EnforceSSL),
		drivers.WithCABundle(cfg.Connections.SSLCABundle),
		drivers.WithConnectTimeout(cfg.Connections.ConnectTimeout),
	)

	stack.Registry = registry.New(registry.Options{
		Store:        connStore,
		Opener:       opener,
		Grants:       engine,
		Publisher:    realtime.NewStatusBroadcaster(hub, engine, broadcasterOpts...),
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
	})
	engine.BindOwners(stack.Registry)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	deps, err := buildServices(stack.DB, engine, stack.Registry, opener, connStore, cfg)
	if err != nil {
		return nil, err
	}
	deps.JWT = jwtSvc
	deps.Hub = hub
	deps.Health = buildHealth(stack, hub, cfg)
	deps.Posture = security.NewPostureService(stack.DB, jwtSvc, v, cfg)
	logPosture(ctx, deps.Posture, log)

	if cfg.Monitor.Enabled {
		monitor := monitoring.NewMonitor(stack.Registry, monitoring.WithInterval(cfg.Monitor.Interval))
		stack.wg.Add(1)
		go func() {
			defer stack.wg.Done()
			monitor.Run(workerCtx)
		}()
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB, deps.Audit,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
		maintenance.WithAuditSchedule(cfg.Audit.CleanupSpec),
		maintenance.WithLiveResources(stack.Registry.IDs),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildServices(db *gorm.DB, engine *permissions.Engine, reg *registry.Registry, tester services.ConnectionTester, saved *store.ConnectionStore, cfg *app.Config) (api.Deps, error) {
	deps := api.Deps{Config: cfg, Engine: engine, Loader: reg}
	var err error

	if deps.Audit, err = services.NewAuditService(db); err != nil {
		return deps, fmt.Errorf("initialise audit service: %w", err)
	}
	if deps.Users, err = services.NewUserService(db, engine, deps.Audit, services.UserPolicy{
		DefaultRole:       cfg.Auth.DefaultRole,
		AllowRegistration: cfg.Auth.AllowRegistration,
	}); err != nil {
		return deps, fmt.Errorf("initialise user service: %w", err)
	}
	if deps.Roles, err = services.NewRoleService(db, engine, deps.Audit); err != nil {
		return deps, fmt.Errorf("initialise role service: %w", err)
	}
	if deps.Grants, err = services.NewGrantService(db, engine, deps.Audit); err != nil {
		return deps, fmt.Errorf("initialise grant service: %w", err)
	}
	if deps.Connections, err = services.NewConnectionService(reg, engine, tester, saved, deps.Grants, deps.Audit, services.ConnectionPolicy{
		EmptyFieldPolicy: cfg.Connections.EmptyFieldPolicy,
	}); err != nil {
		return deps, fmt.Errorf("initialise connection service: %w", err)
	}
	if deps.Queries, err = services.NewQueryService(reg, engine, deps.Audit, services.QueryPolicy{
		Timeout: cfg.Query.Timeout,
		MaxRows: cfg.Query.MaxRows,
	}); err != nil {
		return deps, fmt.Errorf("initialise query service: %w", err)
	}
	if deps.Introspection, err = services.NewIntrospectionService(reg, engine, cfg.Query.Timeout); err != nil {
		return deps, fmt.Errorf("initialise introspection service: %w", err)
	}
	return deps, nil
}

func buildHealth(stack *runtimeStack, hub *realtime.Hub, cfg *app.Config) *monitoring.HealthManager {
	health := monitoring.NewHealthManager()
	health.RegisterLiveness(checks.Realtime(hub))
	health.RegisterReadiness(checks.ControlPlane(stack.DB, cfg.Monitor.ProbeTimeout))
	health.RegisterReadiness(checks.Connections(stack.Registry))

	var pinger checks.Pinger
	if stack.Publisher != nil {
		pinger = stack.Publisher
	}
	health.RegisterReadiness(checks.Redis(pinger, cfg.Redis.Enabled, cfg.Monitor.ProbeTimeout))
	return health
}

func logPosture(ctx context.Context, posture *security.PostureService, log *zap.Logger) {
	for _, check := range posture.Run(ctx).Checks {
		switch check.Status {
		case security.StatusFail:
			log.Error("security check failed", zap.String("check", check.ID), zap.String("message", check.Message))
		case security.StatusWarn:
			log.Warn("security check warning", zap.String("check", check.ID), zap.String("message", check.Message))
		}
	}
}

// Shutdown stops background workers and releases resources in reverse start order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}
	var errs error

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.Registry != nil {
		errs = multierr.Append(errs, s.Registry.Close())
	}
	// The publisher owns the redis client once created.
	switch {
	case s.Publisher != nil:
		errs = multierr.Append(errs, s.Publisher.Close())
	case s.Redis != nil:
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver:   strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:     strings.TrimSpace(cfg.Database.Path),
		DSN:      strings.TrimSpace(cfg.Database.DSN),
		Host:     strings.TrimSpace(cfg.Database.Host),
		Port:     cfg.Database.Port,
		Name:     strings.TrimSpace(cfg.Database.Name),
		User:     strings.TrimSpace(cfg.Database.User),
		Password: cfg.Database.Password,
		Options:  cfg.Database.Options,
	}

	switch dbCfg.Driver {
	case "", "sqlite", "sqlite3":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}
