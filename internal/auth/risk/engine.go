// Package risk scores login attempts against the user's behavioural baseline.
package risk

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/authguard/internal/auth/patterns"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/metrics"
)

// Level is the thresholded risk classification.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Factor names a boolean contributor to a risk score.
type Factor string

const (
	FactorUntrustedDevice      Factor = "untrusted_device"
	FactorImpossibleTravel     Factor = "impossible_travel"
	FactorNewCountry           Factor = "new_country"
	FactorNewCity              Factor = "new_city"
	FactorUnusualHour          Factor = "unusual_hour"
	FactorUnfamiliarDeviceType Factor = "unfamiliar_device_type"
)

// DefaultMaxTravelSpeedKmh is the fastest plausible travel speed between two logins.
const DefaultMaxTravelSpeedKmh = 800.0

// Weights assigns points to each factor.
type Weights struct {
	UntrustedDevice      int
	ImpossibleTravel     int
	NewCountry           int
	NewCity              int
	UnusualHour          int
	UnfamiliarDeviceType int
}

// Config controls the engine. Use DefaultConfig as a starting point.
type Config struct {
	Enabled bool
	Weights Weights
	// TrustedDeviceAdjustment is subtracted from a positive score when the device is trusted.
	TrustedDeviceAdjustment int
	MediumThreshold         int
	HighThreshold           int
	MaxTravelSpeedKmh       float64
}

// DefaultConfig returns the stock weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Weights: Weights{
			UntrustedDevice:      20,
			ImpossibleTravel:     50,
			NewCountry:           30,
			NewCity:              10,
			UnusualHour:          10,
			UnfamiliarDeviceType: 15,
		},
		TrustedDeviceAdjustment: 20,
		MediumThreshold:         30,
		HighThreshold:           60,
		MaxTravelSpeedKmh:       DefaultMaxTravelSpeedKmh,
	}
}

// Assessment is the outcome of scoring one login.
type Assessment struct {
	Score   int
	Level   Level
	Factors []Factor
	// FirstLogin is set when no baseline existed; such logins seed device trust.
	FirstLogin bool
	DistanceKm *float64
	SpeedKmh   *float64
}

// SeedTrust reports whether the assessed device should be trusted without a challenge
// because no baseline exists yet.
func (a Assessment) SeedTrust() bool {
	return a.FirstLogin
}

// FactorNames returns the factors as plain strings for persistence.
func (a Assessment) FactorNames() []string {
	names := make([]string, 0, len(a.Factors))
	for _, f := range a.Factors {
		names = append(names, string(f))
	}
	return names
}

// Engine computes risk assessments.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// NewEngine validates cfg and constructs an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.MaxTravelSpeedKmh <= 0 {
		cfg.MaxTravelSpeedKmh = DefaultMaxTravelSpeedKmh
	}
	if cfg.TrustedDeviceAdjustment < 0 {
		cfg.TrustedDeviceAdjustment = -cfg.TrustedDeviceAdjustment
	}
	if cfg.MediumThreshold <= 0 || cfg.HighThreshold <= 0 {
		return nil, errors.New("risk: thresholds must be positive")
	}
	if cfg.MediumThreshold > cfg.HighThreshold {
		return nil, errors.New("risk: medium threshold exceeds high threshold")
	}
	return &Engine{cfg: cfg, log: logger.WithModule("auth.risk")}, nil
}

// Enabled reports whether scoring is active.
func (e *Engine) Enabled() bool {
	return e.cfg.Enabled
}

// Calculate scores a login against the pre-update baseline.
func (e *Engine) Calculate(pattern *models.LoginPattern, signals patterns.Signals, trustedDevice bool) Assessment {
	if !e.cfg.Enabled {
		return e.finish(Assessment{Level: LevelLow})
	}
	if pattern == nil || pattern.IsFirstLogin {
		return e.finish(Assessment{Level: LevelLow, FirstLogin: true})
	}

	var a Assessment
	w := e.cfg.Weights

	if !trustedDevice {
		a.add(FactorUntrustedDevice, w.UntrustedDevice)
	}

	a.DistanceKm = patterns.DistanceKm(pattern, signals.Latitude, signals.Longitude)
	elapsed := hoursSince(pattern.LastLocatedAt, signals.At)
	if a.DistanceKm != nil && elapsed > 0 {
		speed := *a.DistanceKm / elapsed
		a.SpeedKmh = &speed
	}

	if ImpossibleTravel(a.DistanceKm, elapsed, e.cfg.MaxTravelSpeedKmh) {
		a.add(FactorImpossibleTravel, w.ImpossibleTravel)
	} else if !patterns.IsTypicalCountry(pattern, signals.Country) {
		a.add(FactorNewCountry, w.NewCountry)
	} else if !patterns.IsTypicalCity(pattern, signals.City) {
		a.add(FactorNewCity, w.NewCity)
	}

	if !patterns.IsTypicalHour(pattern, signals.Hour) {
		a.add(FactorUnusualHour, w.UnusualHour)
	}
	if !patterns.IsTypicalDeviceType(pattern, signals.DeviceType) {
		a.add(FactorUnfamiliarDeviceType, w.UnfamiliarDeviceType)
	}

	if trustedDevice && a.Score > 0 {
		a.Score -= e.cfg.TrustedDeviceAdjustment
		if a.Score < 0 {
			a.Score = 0
		}
	}

	a.Level = e.LevelFor(a.Score)
	return e.finish(a)
}

// LevelFor thresholds a score.
func (e *Engine) LevelFor(score int) Level {
	switch {
	case score >= e.cfg.HighThreshold:
		return LevelHigh
	case score >= e.cfg.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// RequiresApproval reports whether a score demands a device approval challenge.
func (e *Engine) RequiresApproval(score int) bool {
	switch e.LevelFor(score) {
	case LevelMedium, LevelHigh:
		return true
	default:
		return false
	}
}

// ImpossibleTravel reports whether covering distanceKm in elapsedHours exceeds ceilingKmh.
// A missing distance or non-positive elapsed time never flags.
func ImpossibleTravel(distanceKm *float64, elapsedHours, ceilingKmh float64) bool {
	if distanceKm == nil || elapsedHours <= 0 {
		return false
	}
	return *distanceKm/elapsedHours > ceilingKmh
}

func (e *Engine) finish(a Assessment) Assessment {
	if a.Level == "" {
		a.Level = LevelLow
	}
	metrics.RiskEvaluations.WithLabelValues(string(a.Level)).Inc()
	if len(a.Factors) > 0 {
		e.log.Debug("risk factors detected",
			zap.Int("score", a.Score),
			zap.String("level", string(a.Level)),
			zap.Strings("factors", a.FactorNames()),
		)
	}
	return a
}

func (a *Assessment) add(f Factor, points int) {
	a.Factors = append(a.Factors, f)
	a.Score += points
}

func hoursSince(last *time.Time, at time.Time) float64 {
	if last == nil || at.IsZero() {
		return 0
	}
	return at.Sub(*last).Hours()
}
