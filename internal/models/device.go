package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DeviceStatus enumerates the device trust lifecycle.
type DeviceStatus string

const (
	DeviceStatusPending DeviceStatus = "pending_approval"
	DeviceStatusTrusted DeviceStatus = "trusted"
	DeviceStatusRevoked DeviceStatus = "revoked"
)

// Device is the device identity for a user. It also carries the per-device session state
// (activity and revocation) that refresh tokens link to through DeviceID.
type Device struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string `gorm:"type:uuid;not null;uniqueIndex:idx_device_user_device;index" json:"user_id"`
	DeviceID string `gorm:"type:varchar(128);not null;uniqueIndex:idx_device_user_device" json:"device_id"`

	Fingerprint    string `gorm:"type:varchar(128);index" json:"fingerprint,omitempty"`
	Name           string `json:"name"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	DeviceType     string `gorm:"type:varchar(32)" json:"device_type"`
	LastCountry    string `json:"last_country"`
	LastCity       string `json:"last_city"`
	LastIP         string `json:"last_ip"`

	Status DeviceStatus `gorm:"type:varchar(32);not null;index" json:"status"`

	ApprovalTokenHash *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	ApprovalCodeHash  *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	ApprovalLinkHash  *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	ApprovalAttempts  int        `gorm:"not null;default:0" json:"-"`
	ApprovalExpiresAt *time.Time `json:"approval_expires_at,omitempty"`

	// PendingSignals holds the login signals that put the device on hold. They join the
	// user's baseline once the device is approved.
	PendingSignals datatypes.JSON `json:"-"`

	RiskScore   int                         `json:"risk_score"`
	RiskFactors datatypes.JSONSlice[string] `json:"risk_factors"`

	LoginCount     int        `gorm:"not null;default:0" json:"login_count"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	TrustedAt      *time.Time `json:"trusted_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokeReason   string     `json:"revoke_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// IsTrusted reports whether the device may authenticate without an approval challenge.
func (d *Device) IsTrusted() bool {
	return d != nil && d.Status == DeviceStatusTrusted
}
