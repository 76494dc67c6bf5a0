package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/handlers"
)

func registerAuditRoutes(api *gin.RouterGroup, handler *handlers.AuditHandler, posture *handlers.SecurityHandler) {
	api.GET("/audit", handler.List)
	if posture != nil {
		api.GET("/security/audit", posture.Audit)
	}
}
