package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefreshToken is a single refresh-token issuance. Only a bcrypt verifier of the secret is stored.
type RefreshToken struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string  `gorm:"type:uuid;not null;index" json:"user_id"`
	UserType     string  `gorm:"type:varchar(32);not null" json:"user_type"`
	VerifierHash string  `gorm:"not null" json:"-"`
	FamilyID     string  `gorm:"type:uuid;not null;index" json:"family_id"`
	ParentID     *string `gorm:"type:uuid" json:"parent_id,omitempty"`
	DeviceID     *string `gorm:"type:uuid;index" json:"device_id,omitempty"`
	RememberMe   bool    `gorm:"not null;default:false" json:"remember_me"`

	ExpiresAt    time.Time  `gorm:"index" json:"expires_at"`
	RevokedAt    *time.Time `gorm:"index" json:"revoked_at"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.FamilyID == "" {
		t.FamilyID = t.ID
	}
	return nil
}

// IsActive reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}
