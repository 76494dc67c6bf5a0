package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/dbwarden/internal/app"
	iauth "github.com/charlesng35/dbwarden/internal/auth"
	"github.com/charlesng35/dbwarden/internal/handlers"
	"github.com/charlesng35/dbwarden/internal/middleware"
	"github.com/charlesng35/dbwarden/internal/monitoring"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/realtime"
	"github.com/charlesng35/dbwarden/internal/security"
	"github.com/charlesng35/dbwarden/internal/services"
)

// Deps bundles everything the HTTP surface dispatches to.
type Deps struct {
	Config *app.Config
	JWT    *iauth.JWTService
	Engine *permissions.Engine
	Loader handlers.ConnectionLoader

	Users         *services.UserService
	Roles         *services.RoleService
	Grants        *services.GrantService
	Connections   *services.ConnectionService
	Queries       *services.QueryService
	Introspection *services.IntrospectionService
	Audit         *services.AuditService

	Hub     *realtime.Hub
	Health  *monitoring.HealthManager
	Posture *security.PostureService
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("api: config must be provided")
	case d.JWT == nil:
		return errors.New("api: jwt service must be provided")
	case d.Engine == nil:
		return errors.New("api: permission engine must be provided")
	case d.Users == nil || d.Roles == nil || d.Grants == nil:
		return errors.New("api: user, role and grant services must be provided")
	case d.Connections == nil || d.Queries == nil || d.Introspection == nil:
		return errors.New("api: connection services must be provided")
	case d.Audit == nil:
		return errors.New("api: audit service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
// Permission guards live in the services; routes only require authentication.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	if deps.Config.Server.MetricsEnabled {
		r.Use(middleware.Metrics())
	}
	r.Use(middleware.SecurityHeaders())

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager()
	}
	registerHealthRoutes(r, handlers.NewHealthHandler(health))

	authHandler := handlers.NewAuthHandler(deps.Users, deps.Engine, deps.Loader, deps.JWT)
	registerAuthRoutes(r, authHandler, deps.JWT, deps.Config.Auth.LoginRateLimit)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerConnectionRoutes(api,
		handlers.NewConnectionHandler(deps.Connections),
		handlers.NewQueryHandler(deps.Queries, deps.Introspection),
		handlers.NewGrantHandler(deps.Grants),
	)
	registerUserRoutes(api, handlers.NewUserHandler(deps.Users, deps.Grants))
	registerRoleRoutes(api, handlers.NewRoleHandler(deps.Roles))
	var postureHandler *handlers.SecurityHandler
	if deps.Posture != nil {
		postureHandler = handlers.NewSecurityHandler(deps.Posture, deps.Engine)
	}
	registerAuditRoutes(api, handlers.NewAuditHandler(deps.Audit, deps.Engine), postureHandler)

	if deps.Hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.JWT, realtime.StreamConnectionStatus)
		r.GET("/ws", realtimeHandler.Stream)
	}

	if deps.Config.Server.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerHealthRoutes(r *gin.Engine, handler *handlers.HealthHandler) {
	r.GET("/health", handler.Summary)
	r.GET("/health/live", handler.Live)
	r.GET("/health/ready", handler.Ready)
}

func registerAuthRoutes(r *gin.Engine, handler *handlers.AuthHandler, jwt *iauth.JWTService, perMinute int) {
	auth := r.Group("/api/auth")
	auth.Use(middleware.RateLimit(perMinute, time.Minute))
	{
		auth.GET("/registration", handler.RegistrationStatus)
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
	}
	r.GET("/api/auth/me", middleware.Auth(jwt), handler.Me)
}
