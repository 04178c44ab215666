package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records a security-relevant event emitted by the authentication core.
type AuditLog struct {
	ID         string         `gorm:"primaryKey;type:uuid" json:"id"`
	Action     string         `gorm:"not null;index" json:"action"`
	ActorID    *string        `gorm:"type:uuid;index" json:"actor_id"`
	TargetID   *string        `gorm:"type:uuid;index" json:"target_id"`
	EntityType string         `gorm:"type:varchar(64);index" json:"entity_type"`
	EntityID   string         `gorm:"type:varchar(128)" json:"entity_id"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `gorm:"type:varchar(512)" json:"user_agent"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
