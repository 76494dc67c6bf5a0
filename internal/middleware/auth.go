package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/auditctx"
	iauth "github.com/charlesng35/dbwarden/internal/auth"
	"github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/response"
)

const (
	CtxClaimsKey   = "authClaims"
	CtxUsernameKey = "username"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		username := strings.ToLower(strings.TrimSpace(claims.Username))
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUsernameKey, username)

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			Username:  username,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CurrentUser returns the authenticated username set by Auth.
func CurrentUser(c *gin.Context) (string, bool) {
	username := c.GetString(CtxUsernameKey)
	return username, username != ""
}
