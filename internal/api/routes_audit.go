package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/handlers"
)

func registerAuditRoutes(api *gin.RouterGroup, handler *handlers.AuditHandler) {
	if api == nil || handler == nil {
		return
	}
	api.GET("/audit", handler.List)
}
