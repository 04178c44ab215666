package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LoginPattern is the rolling behavioural baseline kept for every user.
type LoginPattern struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	TypicalCountries   datatypes.JSONSlice[string] `json:"typical_countries"`
	TypicalCities      datatypes.JSONSlice[string] `json:"typical_cities"`
	TypicalHours       datatypes.JSONSlice[int]    `json:"typical_hours"`
	TypicalDeviceTypes datatypes.JSONSlice[string] `json:"typical_device_types"`

	LastLatitude  *float64   `json:"last_latitude"`
	LastLongitude *float64   `json:"last_longitude"`
	LastLocatedAt *time.Time `json:"last_located_at"`
	LastCountry   string     `json:"last_country"`
	LastIP        string     `json:"last_ip"`
	LastLoginAt   *time.Time `json:"last_login_at"`

	IsFirstLogin bool `gorm:"not null;default:true" json:"is_first_login"`
	LoginCount   int  `gorm:"not null;default:0" json:"login_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (p *LoginPattern) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
