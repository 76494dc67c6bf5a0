package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/middleware"
	"github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser returns the authenticated username or writes a 401 and returns false.
func currentUser(c *gin.Context) (string, bool) {
	username, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return username, true
}
