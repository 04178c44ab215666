// Package patterns maintains the per-user behavioural baseline consumed by risk scoring.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/logger"
)

// DefaultMaxSetSize bounds each typical-value set; the oldest entries are evicted first.
const DefaultMaxSetSize = 20

const earthRadiusKm = 6371.0

// Config tunes the tracker.
type Config struct {
	MaxSetSize int
	Clock      func() time.Time
}

// Signals are the observations taken from a single login.
type Signals struct {
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
	Hour       int       `json:"hour"`
	DeviceType string    `json:"device_type,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	At         time.Time `json:"at"`
}

// HasCoordinates reports whether both coordinates are present.
func (s Signals) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Tracker reads and updates login patterns.
type Tracker struct {
	db      *gorm.DB
	maxSize int
	now     func() time.Time
	log     *zap.Logger
}

// NewTracker constructs a Tracker backed by the provided database.
func NewTracker(db *gorm.DB, cfg Config) (*Tracker, error) {
	if db == nil {
		return nil, errors.New("patterns: db is required")
	}
	size := cfg.MaxSetSize
	if size <= 0 {
		size = DefaultMaxSetSize
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}
	return &Tracker{
		db:      db,
		maxSize: size,
		now:     clock,
		log:     logger.WithModule("auth.patterns"),
	}, nil
}

// WithDB returns a copy of the tracker bound to tx, typically an open transaction.
func (t *Tracker) WithDB(tx *gorm.DB) *Tracker {
	clone := *t
	clone.db = tx
	return &clone
}

// GetOrCreate returns the user's pattern, creating an empty first-login pattern when none exists.
func (t *Tracker) GetOrCreate(ctx context.Context, userID string) (*models.LoginPattern, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("patterns: user id is required")
	}

	db := t.db.WithContext(ctx)

	var pattern models.LoginPattern
	err := db.Where("user_id = ?", userID).Take(&pattern).Error
	if err == nil {
		return &pattern, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("patterns: load pattern: %w", err)
	}

	pattern = models.LoginPattern{UserID: userID, IsFirstLogin: true}
	// A concurrent first login may have inserted the row already; keep theirs.
	if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&pattern).Error; err != nil {
		return nil, fmt.Errorf("patterns: create pattern: %w", err)
	}

	var stored models.LoginPattern
	if err := db.Where("user_id = ?", userID).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("patterns: reload pattern: %w", err)
	}
	return &stored, nil
}

// Record absorbs the signals of a successful login into the user's baseline.
func (t *Tracker) Record(ctx context.Context, userID string, signals Signals) (*models.LoginPattern, error) {
	pattern, err := t.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	at := signals.At
	if at.IsZero() {
		at = t.now()
	}
	at = at.UTC()

	pattern.TypicalCountries = appendBounded(pattern.TypicalCountries, strings.ToUpper(strings.TrimSpace(signals.Country)), t.maxSize)
	pattern.TypicalCities = appendBounded(pattern.TypicalCities, strings.TrimSpace(signals.City), t.maxSize)
	pattern.TypicalDeviceTypes = appendBounded(pattern.TypicalDeviceTypes, strings.ToLower(strings.TrimSpace(signals.DeviceType)), t.maxSize)
	if signals.Hour >= 0 && signals.Hour <= 23 {
		pattern.TypicalHours = appendHour(pattern.TypicalHours, signals.Hour)
	}

	if signals.HasCoordinates() {
		lat, lon := *signals.Latitude, *signals.Longitude
		pattern.LastLatitude = &lat
		pattern.LastLongitude = &lon
		pattern.LastLocatedAt = &at
	}
	if country := strings.TrimSpace(signals.Country); country != "" {
		pattern.LastCountry = strings.ToUpper(country)
	}
	pattern.LastIP = strings.TrimSpace(signals.IP)
	pattern.LastLoginAt = &at
	pattern.IsFirstLogin = false
	pattern.LoginCount++

	if err := t.db.WithContext(ctx).Save(pattern).Error; err != nil {
		return nil, fmt.Errorf("patterns: save pattern: %w", err)
	}

	t.log.Debug("login pattern updated",
		zap.String("user_id", pattern.UserID),
		zap.Int("login_count", pattern.LoginCount),
	)
	return pattern, nil
}

// IsTypicalCountry reports whether country is part of the baseline. An empty baseline or
// an unknown country carries no signal and counts as typical.
func IsTypicalCountry(p *models.LoginPattern, country string) bool {
	return containsFold(p.TypicalCountries, country)
}

// IsTypicalCity reports whether city is part of the baseline.
func IsTypicalCity(p *models.LoginPattern, city string) bool {
	return containsFold(p.TypicalCities, city)
}

// IsTypicalDeviceType reports whether the device type has been seen before.
func IsTypicalDeviceType(p *models.LoginPattern, deviceType string) bool {
	return containsFold(p.TypicalDeviceTypes, deviceType)
}

// IsTypicalHour reports whether hour (0-23) is part of the baseline.
func IsTypicalHour(p *models.LoginPattern, hour int) bool {
	if p == nil || len(p.TypicalHours) == 0 || hour < 0 || hour > 23 {
		return true
	}
	for _, h := range p.TypicalHours {
		if h == hour {
			return true
		}
	}
	return false
}

// DistanceKm returns the great-circle distance between the last known location and the
// supplied coordinates, or nil when either pair is missing.
func DistanceKm(p *models.LoginPattern, lat, lon *float64) *float64 {
	if p == nil || p.LastLatitude == nil || p.LastLongitude == nil || lat == nil || lon == nil {
		return nil
	}
	d := HaversineKm(*p.LastLatitude, *p.LastLongitude, *lat, *lon)
	return &d
}

// HaversineKm computes the great-circle distance between two points in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func containsFold(set []string, value string) bool {
	value = strings.TrimSpace(value)
	if len(set) == 0 || value == "" {
		return true
	}
	for _, item := range set {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// appendBounded adds value as the most recent member, moving an existing match to the end
// and evicting from the front once the set exceeds max.
func appendBounded(set []string, value string, max int) []string {
	if value == "" {
		return set
	}
	out := make([]string, 0, len(set)+1)
	for _, item := range set {
		if !strings.EqualFold(item, value) {
			out = append(out, item)
		}
	}
	out = append(out, value)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

func appendHour(set []int, hour int) []int {
	for _, h := range set {
		if h == hour {
			return set
		}
	}
	return append(set, hour)
}
