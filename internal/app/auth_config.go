package app

import (
	"strings"
	"time"

	"github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/auth/devices"
	"github.com/charlesng35/authguard/internal/auth/lockout"
	"github.com/charlesng35/authguard/internal/auth/patterns"
	"github.com/charlesng35/authguard/internal/auth/risk"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters. The blacklist
// and device service are attached by the caller.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	return auth.SessionConfig{
		RefreshTokenTTL:   c.Session.RefreshTTL,
		RememberMeTTL:     c.Session.RememberMeTTL,
		VerifierLength:    c.Session.VerifierLength,
		BcryptCost:        c.Session.BcryptCost,
		SupportedUserType: strings.TrimSpace(c.Session.UserType),
	}
}

// RiskEngineConfig converts the risk section, starting from the stock weights so that a
// partially configured section keeps sensible values.
func (c AuthConfig) RiskEngineConfig() risk.Config {
	cfg := risk.DefaultConfig()
	r := c.Risk

	cfg.Enabled = r.Enabled
	cfg.Weights = risk.Weights{
		UntrustedDevice:      pick(r.Weights.UntrustedDevice, cfg.Weights.UntrustedDevice),
		ImpossibleTravel:     pick(r.Weights.ImpossibleTravel, cfg.Weights.ImpossibleTravel),
		NewCountry:           pick(r.Weights.NewCountry, cfg.Weights.NewCountry),
		NewCity:              pick(r.Weights.NewCity, cfg.Weights.NewCity),
		UnusualHour:          pick(r.Weights.UnusualHour, cfg.Weights.UnusualHour),
		UnfamiliarDeviceType: pick(r.Weights.UnfamiliarDeviceType, cfg.Weights.UnfamiliarDeviceType),
	}
	cfg.TrustedDeviceAdjustment = pick(r.TrustedDeviceAdjustment, cfg.TrustedDeviceAdjustment)
	cfg.MediumThreshold = pick(r.MediumThreshold, cfg.MediumThreshold)
	cfg.HighThreshold = pick(r.HighThreshold, cfg.HighThreshold)
	if r.MaxTravelSpeedKmh > 0 {
		cfg.MaxTravelSpeedKmh = r.MaxTravelSpeedKmh
	}
	return cfg
}

// PatternTrackerConfig converts the baseline bounds.
func (c AuthConfig) PatternTrackerConfig() patterns.Config {
	return patterns.Config{MaxSetSize: c.Risk.MaxSetSize}
}

// DeviceServiceConfig converts the device approval settings. Revoked-session markers must
// outlive the longest refresh token.
func (c AuthConfig) DeviceServiceConfig() devices.Config {
	marker := c.Session.RememberMeTTL
	if c.Session.RefreshTTL > marker {
		marker = c.Session.RefreshTTL
	}
	return devices.Config{
		ApprovalTTL:         c.Devices.ApprovalTTL,
		CodeLength:          c.Devices.CodeLength,
		TokenBytes:          c.Devices.TokenBytes,
		MaxApprovalAttempts: c.Devices.MaxApprovalAttempts,
		MaxRegeneration:     c.Devices.MaxRegeneration,
		SessionMarkerTTL:    marker,
	}
}

// LockoutGuardConfig converts the brute-force guard settings.
func (c AuthConfig) LockoutGuardConfig() lockout.Config {
	schedule := make([]time.Duration, 0, len(c.Lockout.Schedule))
	for _, d := range c.Lockout.Schedule {
		if d < 0 {
			d = 0
		}
		schedule = append(schedule, d)
	}
	if len(schedule) == 0 {
		schedule = lockout.DefaultSchedule
	}
	return lockout.Config{
		Schedule:         schedule,
		MaxAttempts:      c.Lockout.MaxAttempts,
		PermanentLockout: c.Lockout.PermanentLockout,
		Window:           c.Lockout.Window,
	}
}

func pick(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
