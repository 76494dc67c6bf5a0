package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	users := api.Group("/users")
	{
		users.GET("", handler.List)
		users.POST("", handler.Create)
		users.GET("/:username", handler.Get)
		users.DELETE("/:username", handler.Delete)
		users.PUT("/:username/role", handler.SetRole)
		users.PUT("/:username/password", handler.ResetPassword)
		users.GET("/:username/grants", handler.Grants)
	}

	api.PUT("/profile/password", handler.ChangePassword)
}
