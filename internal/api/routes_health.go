package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/handlers"
	"github.com/charlesng35/authguard/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cache monitoring.Exister) {
	manager := monitoring.NewHealthManager(0)
	manager.Register(monitoring.DatabaseCheck(db))
	if cache != nil {
		manager.Register(monitoring.CacheCheck(cache))
	}

	r.GET("/health", handlers.Health(manager))
	r.GET("/api/health", handlers.Health(manager))
}
