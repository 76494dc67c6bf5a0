package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/dbwarden/internal/auth"
	"github.com/charlesng35/dbwarden/internal/models"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/logger"
	"github.com/charlesng35/dbwarden/pkg/metrics"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// ConnectionLoader restores a user's saved connections into the runtime registry.
type ConnectionLoader interface {
	LoadForUser(ctx context.Context, ownerID string) (int, error)
}

// AuthHandler manages registration, login and the current identity.
type AuthHandler struct {
	users  *services.UserService
	engine *permissions.Engine
	loader ConnectionLoader
	jwt    *iauth.JWTService
}

func NewAuthHandler(users *services.UserService, engine *permissions.Engine, loader ConnectionLoader, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, engine: engine, loader: loader, jwt: jwt}
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	User        userView `json:"user"`
	Permissions []string `json:"permissions"`
}

type userView struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, userView{Username: user.Username, Role: user.RoleName})
}

// GET /api/auth/registration
func (h *AuthHandler) RegistrationStatus(c *gin.Context) {
	open, err := h.users.RegistrationOpen(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"open": open})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	if h.loader != nil {
		if _, err := h.loader.LoadForUser(ctx, user.Username); err != nil {
			logger.WithModule("auth").Warn("failed to restore saved connections",
				zap.String("username", user.Username),
				zap.Error(err),
			)
		}
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		Username: user.Username,
		Role:     user.RoleName,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}
	metrics.AuthAttempts.WithLabelValues("success").Inc()

	perms, err := h.permissionsOf(ctx, user)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.jwt.AccessTokenTTL().Seconds()),
		User:        userView{Username: user.Username, Role: user.RoleName},
		Permissions: perms,
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	username, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	user, err := h.users.Get(ctx, username, username)
	if err != nil {
		response.Error(c, err)
		return
	}

	perms, err := h.permissionsOf(ctx, user)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"username":    user.Username,
		"role":        user.RoleName,
		"permissions": perms,
		"created_at":  user.CreatedAt,
	})
}

func (h *AuthHandler) permissionsOf(ctx context.Context, user *models.User) ([]string, error) {
	set, err := h.engine.PermissionsFor(ctx, user.Username, "")
	if err != nil {
		return nil, err
	}
	return set.Slice(), nil
}
