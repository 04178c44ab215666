package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler   *handlers.AuthHandler
	DeviceHandler *handlers.DeviceHandler
}

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, deps authRouteDeps) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/login", deps.AuthHandler.Login)
		auth.POST("/refresh", deps.AuthHandler.Refresh)
		auth.POST("/logout", deps.AuthHandler.Logout)
		auth.POST("/devices/approve", deps.DeviceHandler.Approve)
		auth.POST("/devices/approve-link", deps.DeviceHandler.ApproveLink)
		auth.POST("/devices/deny", deps.DeviceHandler.Deny)
	}

	api.GET("/auth/me", deps.AuthHandler.Me)

	devices := api.Group("/devices")
	{
		devices.GET("", deps.DeviceHandler.List)
		devices.DELETE("", deps.DeviceHandler.RevokeAll)
		devices.DELETE("/:id", deps.DeviceHandler.Revoke)
	}
}
