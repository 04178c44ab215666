package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserPermission{},
		&models.LoginPattern{},
		&models.Device{},
		&models.RefreshToken{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}
