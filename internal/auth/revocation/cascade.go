package revocation

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/models"
)

// Revocation reasons recorded on refresh tokens and devices.
const (
	ReasonRotated        = "rotated"
	ReasonLogout         = "logout"
	ReasonDeviceRevoked  = "device_revoked"
	ReasonReuseDetected  = "reuse_detected"
	ReasonUserRevoked    = "user_revoked"
	ReasonApprovalDenied = "approval_denied"
	ReasonApprovalExpiry = "approval_expired"
)

// RevokeDeviceTokens revokes every non-revoked refresh token linked to the device and returns
// the rows it flipped. It must run inside the transaction that changes the device state.
func RevokeDeviceTokens(tx *gorm.DB, deviceID, reason string, now time.Time) ([]models.RefreshToken, error) {
	return revokeWhere(tx, "device_id = ?", deviceID, reason, now)
}

// RevokeUserTokens revokes every non-revoked refresh token owned by the user.
func RevokeUserTokens(tx *gorm.DB, userID, reason string, now time.Time) ([]models.RefreshToken, error) {
	return revokeWhere(tx, "user_id = ?", userID, reason, now)
}

// RevokeFamily revokes every non-revoked refresh token descended from the same login.
func RevokeFamily(tx *gorm.DB, familyID, reason string, now time.Time) ([]models.RefreshToken, error) {
	return revokeWhere(tx, "family_id = ?", familyID, reason, now)
}

func revokeWhere(tx *gorm.DB, condition string, value any, reason string, now time.Time) ([]models.RefreshToken, error) {
	var tokens []models.RefreshToken
	if err := tx.Where(condition, value).
		Where("revoked_at IS NULL").
		Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("revocation: load tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(tokens))
	for _, token := range tokens {
		ids = append(ids, token.ID)
	}

	if err := tx.Model(&models.RefreshToken{}).
		Where("id IN ? AND revoked_at IS NULL", ids).
		Updates(map[string]any{
			"revoked_at":    now,
			"revoke_reason": reason,
		}).Error; err != nil {
		return nil, fmt.Errorf("revocation: revoke tokens: %w", err)
	}

	for i := range tokens {
		revokedAt := now
		tokens[i].RevokedAt = &revokedAt
		tokens[i].RevokeReason = reason
	}
	return tokens, nil
}
