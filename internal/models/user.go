package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserTypeUser is the only user type whose refresh tokens are honoured end-to-end.
const UserTypeUser = "user"

// User is the credential-store view of an account consumed by the authentication core.
type User struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Type         string `gorm:"type:varchar(32);not null;default:user" json:"type"`

	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LockedUntil *time.Time `json:"-"`

	Permissions []UserPermission `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Type == "" {
		u.Type = UserTypeUser
	}
	return nil
}

// IsLocked reports whether an administrative lock is active at the supplied instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// UserPermission grants a named permission to a user.
type UserPermission struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission" json:"user_id"`
	Name   string `gorm:"type:varchar(128);not null;uniqueIndex:idx_user_permission" json:"name"`
}
