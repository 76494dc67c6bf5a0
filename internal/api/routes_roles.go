package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/handlers"
)

func registerRoleRoutes(api *gin.RouterGroup, handler *handlers.RoleHandler) {
	api.GET("/permissions", handler.Vocabulary)

	roles := api.Group("/roles")
	{
		roles.GET("", handler.List)
		roles.POST("", handler.Create)
		roles.GET("/:name", handler.Get)
		roles.PUT("/:name", handler.Update)
		roles.DELETE("/:name", handler.Delete)
	}
}
