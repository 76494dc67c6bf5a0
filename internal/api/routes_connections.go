package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/handlers"
)

func registerConnectionRoutes(api *gin.RouterGroup, conns *handlers.ConnectionHandler, queries *handlers.QueryHandler, grants *handlers.GrantHandler) {
	group := api.Group("/connections")
	{
		group.GET("", conns.List)
		group.POST("", conns.Save)
		group.POST("/test", conns.Test)
		group.POST("/reorder", conns.Reorder)
		group.DELETE("/folders/:id", conns.DeleteFolder)
		group.DELETE("/:id", conns.Delete)
		group.POST("/:id/check", conns.Check)

		group.POST("/:id/query", queries.Execute)
		group.GET("/:id/schemas", queries.Schemas)
		group.GET("/:id/tables", queries.Tables)
		group.GET("/:id/tables/:table", queries.TableInfo)
		group.GET("/:id/views", queries.Views)

		group.GET("/:id/grants", grants.List)
		group.POST("/:id/grants", grants.Upsert)
		group.DELETE("/:id/grants/:username", grants.Delete)
	}
}
