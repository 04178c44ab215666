package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeforeCreateGeneratesIDs(t *testing.T) {
	perm := &UserPermission{}
	require.NoError(t, perm.BeforeCreate(nil))
	require.NotEmpty(t, perm.ID)

	device := &Device{}
	require.NoError(t, device.BeforeCreate(nil))
	require.NotEmpty(t, device.ID)

	pattern := &LoginPattern{}
	require.NoError(t, pattern.BeforeCreate(nil))
	require.NotEmpty(t, pattern.ID)

	audit := &AuditLog{ID: "kept"}
	require.NoError(t, audit.BeforeCreate(nil))
	require.Equal(t, "kept", audit.ID)
}

func TestUserDefaultsType(t *testing.T) {
	u := &User{}
	require.NoError(t, u.BeforeCreate(nil))
	require.NotEmpty(t, u.ID)
	require.Equal(t, UserTypeUser, u.Type)

	svc := &User{Type: "service"}
	require.NoError(t, svc.BeforeCreate(nil))
	require.Equal(t, "service", svc.Type)
}

func TestUserIsLocked(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	u := &User{}
	require.False(t, u.IsLocked(now))

	until := now.Add(time.Minute)
	u.LockedUntil = &until
	require.True(t, u.IsLocked(now))
	require.False(t, u.IsLocked(until))
}

func TestRefreshTokenFamilyDefaultsToOwnID(t *testing.T) {
	root := &RefreshToken{}
	require.NoError(t, root.BeforeCreate(nil))
	require.Equal(t, root.ID, root.FamilyID)

	child := &RefreshToken{FamilyID: root.FamilyID}
	require.NoError(t, child.BeforeCreate(nil))
	require.NotEqual(t, child.ID, child.FamilyID)
	require.Equal(t, root.ID, child.FamilyID)
}

func TestRefreshTokenIsActive(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	token := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	require.True(t, token.IsActive(now))
	require.False(t, token.IsActive(now.Add(time.Hour)))

	token.RevokedAt = &now
	require.False(t, token.IsActive(now))
}

func TestDeviceIsTrusted(t *testing.T) {
	var missing *Device
	require.False(t, missing.IsTrusted())
	require.False(t, (&Device{Status: DeviceStatusPending}).IsTrusted())
	require.True(t, (&Device{Status: DeviceStatusTrusted}).IsTrusted())
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	require.False(t, (&CacheEntry{}).Expired(now))
	require.False(t, (&CacheEntry{ExpiresAt: now.Add(time.Second)}).Expired(now))
	require.True(t, (&CacheEntry{ExpiresAt: now}).Expired(now))
}
