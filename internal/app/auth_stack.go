package app

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/auth/devices"
	"github.com/charlesng35/authguard/internal/auth/lockout"
	"github.com/charlesng35/authguard/internal/auth/patterns"
	"github.com/charlesng35/authguard/internal/auth/revocation"
	"github.com/charlesng35/authguard/internal/auth/risk"
	"github.com/charlesng35/authguard/internal/cache"
)

// AuthStack holds the services composing adaptive authentication.
type AuthStack struct {
	JWT       *auth.JWTService
	Users     *auth.GormUserStore
	Sessions  *auth.SessionService
	Devices   *devices.Service
	Blacklist *revocation.Blacklist
	Adaptive  *auth.AdaptiveService
}

// NewAuthStack assembles the auth services from configuration. store backs the token
// blacklist, revoked-session markers and the brute-force guard. deps supplies the
// out-of-process collaborators (GeoIP, user agents, audit, notifications, clock); the
// core services it names are built here and overwrite whatever the caller set.
func NewAuthStack(cfg *Config, db *gorm.DB, store cache.Store, deps auth.AdaptiveDeps) (*AuthStack, error) {
	if cfg == nil {
		return nil, errors.New("auth stack: config is required")
	}
	if store == nil {
		return nil, errors.New("auth stack: cache store is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	jwtCfg.Clock = clock
	jwtSvc, err := auth.NewJWTService(jwtCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	users, err := auth.NewGormUserStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise user store: %w", err)
	}

	blacklist := revocation.NewBlacklist(store)

	patternCfg := cfg.Auth.PatternTrackerConfig()
	patternCfg.Clock = clock
	tracker, err := patterns.NewTracker(db, patternCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise pattern tracker: %w", err)
	}

	deviceSvc, err := devices.NewService(db, blacklist, cfg.Auth.DeviceServiceConfig(),
		devices.WithClock(clock),
		devices.WithBaseline(tracker),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise device service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Clock = clock
	sessionCfg.Blacklist = blacklist
	sessionCfg.Devices = deviceSvc
	sessions, err := auth.NewSessionService(db, jwtSvc, users, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	engine, err := risk.NewEngine(cfg.Auth.RiskEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise risk engine: %w", err)
	}

	guardCfg := cfg.Auth.LockoutGuardConfig()
	guardCfg.Clock = clock
	guard, err := lockout.NewGuard(store, guardCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise lockout guard: %w", err)
	}

	deps.Users = users
	deps.Sessions = sessions
	deps.Devices = deviceSvc
	deps.Patterns = tracker
	deps.Risk = engine
	deps.Guard = guard
	deps.Clock = clock

	adaptive, err := auth.NewAdaptiveService(db, deps)
	if err != nil {
		return nil, fmt.Errorf("initialise adaptive service: %w", err)
	}

	return &AuthStack{
		JWT:       jwtSvc,
		Users:     users,
		Sessions:  sessions,
		Devices:   deviceSvc,
		Blacklist: blacklist,
		Adaptive:  adaptive,
	}, nil
}
