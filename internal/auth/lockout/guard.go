// Package lockout implements the per-identifier brute-force guard.
package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/metrics"
)

const (
	// DefaultMaxAttempts triggers the long fixed lockout.
	DefaultMaxAttempts = 10
	// DefaultPermanentLockout is the duration of the max-attempts lockout.
	DefaultPermanentLockout = 24 * time.Hour
	// DefaultMetadataBuffer extends metadata beyond the block flag so countdowns survive skew.
	DefaultMetadataBuffer = time.Minute

	kindProgressive = "progressive"
	kindPermanent   = "permanent"
)

// DefaultSchedule is the progressive delay applied per 1-based attempt number.
var DefaultSchedule = []time.Duration{0, 0, time.Minute, 2 * time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute}

var (
	// ErrIdentifierRequired is returned for an empty identifier.
	ErrIdentifierRequired = errors.New("lockout: identifier is required")
	// ErrStoreRequired is returned when no cache store is configured.
	ErrStoreRequired = errors.New("lockout: cache store is required")
)

// Config tunes the guard.
type Config struct {
	Schedule         []time.Duration
	MaxAttempts      int
	PermanentLockout time.Duration
	// Window is how long failed attempts are counted; defaults to PermanentLockout.
	Window         time.Duration
	MetadataBuffer time.Duration
	Clock          func() time.Time
}

// Status describes the lockout state of an identifier.
type Status struct {
	Attempts       int64
	IsLocked       bool
	LockoutSeconds int64
	LockedUntil    *time.Time
}

type metadata struct {
	Attempts       int64     `json:"attempts"`
	LockoutSeconds int64     `json:"lockout_seconds"`
	LockedUntil    time.Time `json:"locked_until"`
	Kind           string    `json:"kind"`
}

// Guard counts failed attempts per normalised email in the shared cache.
type Guard struct {
	store       cache.Store
	schedule    []time.Duration
	maxAttempts int64
	permanent   time.Duration
	window      time.Duration
	buffer      time.Duration
	now         func() time.Time
	log         *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(store cache.Store, cfg Config) (*Guard, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	schedule := cfg.Schedule
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	for _, d := range schedule {
		if d < 0 {
			return nil, errors.New("lockout: schedule entries must not be negative")
		}
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	permanent := cfg.PermanentLockout
	if permanent <= 0 {
		permanent = DefaultPermanentLockout
	}
	window := cfg.Window
	if window <= 0 {
		window = permanent
	}
	buffer := cfg.MetadataBuffer
	if buffer <= 0 {
		buffer = DefaultMetadataBuffer
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Guard{
		store:       store,
		schedule:    append([]time.Duration(nil), schedule...),
		maxAttempts: int64(maxAttempts),
		permanent:   permanent,
		window:      window,
		buffer:      buffer,
		now:         clock,
		log:         logger.WithModule("auth.lockout"),
	}, nil
}

// Normalize trims and lower-cases an identifier.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DelayFor returns the progressive delay for the 1-based attempt number.
// Attempts beyond the schedule reuse its last value.
func (g *Guard) DelayFor(attempt int64) time.Duration {
	if attempt <= 0 {
		return 0
	}
	idx := attempt - 1
	if last := int64(len(g.schedule) - 1); idx > last {
		idx = last
	}
	return g.schedule[idx]
}

// RecordFailedAttempt counts a failed login and applies any lockout it triggers.
func (g *Guard) RecordFailedAttempt(ctx context.Context, email string) (Status, error) {
	email = Normalize(email)
	if email == "" {
		return Status{}, ErrIdentifierRequired
	}

	attempts, _, err := g.store.IncrementWithTTL(ctx, attemptsKey(email), 1, g.window)
	if err != nil {
		return Status{}, fmt.Errorf("lockout: increment attempts: %w", err)
	}

	delay, kind := g.DelayFor(attempts), kindProgressive
	if attempts >= g.maxAttempts {
		delay, kind = g.permanent, kindPermanent
	}

	status := Status{Attempts: attempts}
	if delay <= 0 {
		return status, nil
	}

	lockedUntil := g.now().UTC().Add(delay)
	status.IsLocked = true
	status.LockoutSeconds = int64(delay / time.Second)
	status.LockedUntil = &lockedUntil

	if err := g.store.Set(ctx, blockKey(email), []byte("1"), delay); err != nil {
		return status, fmt.Errorf("lockout: set block flag: %w", err)
	}

	meta, _ := json.Marshal(metadata{
		Attempts:       attempts,
		LockoutSeconds: status.LockoutSeconds,
		LockedUntil:    lockedUntil,
		Kind:           kind,
	})
	if err := g.store.Set(ctx, metaKey(email), meta, delay+g.buffer); err != nil {
		// The block flag already enforces the lockout; metadata only drives countdowns.
		g.log.Warn("store lockout metadata failed", zap.Error(err))
	}

	metrics.Lockouts.WithLabelValues(kind).Inc()
	g.log.Info("identifier locked",
		zap.String("kind", kind),
		zap.Int64("attempts", attempts),
		zap.Duration("duration", delay),
	)

	return status, nil
}

// IsBlocked checks the block flag, falling back to the lockout metadata when the flag is
// missing.
func (g *Guard) IsBlocked(ctx context.Context, email string) (bool, error) {
	email = Normalize(email)
	if email == "" {
		return false, ErrIdentifierRequired
	}

	blocked, flagErr := g.store.Exists(ctx, blockKey(email))
	if flagErr == nil && blocked {
		return true, nil
	}

	meta, found, err := g.loadMetadata(ctx, email)
	if err != nil {
		if flagErr != nil {
			return false, fmt.Errorf("lockout: check block: %w", flagErr)
		}
		return false, fmt.Errorf("lockout: load metadata: %w", err)
	}
	if found && meta.LockedUntil.After(g.now()) {
		return true, nil
	}
	if flagErr != nil {
		return false, fmt.Errorf("lockout: check block: %w", flagErr)
	}
	return false, nil
}

// Status reports attempts and remaining lockout time for UI countdowns.
func (g *Guard) Status(ctx context.Context, email string) (Status, error) {
	email = Normalize(email)
	if email == "" {
		return Status{}, ErrIdentifierRequired
	}

	var status Status
	raw, found, err := g.store.Get(ctx, attemptsKey(email))
	if err != nil {
		return Status{}, fmt.Errorf("lockout: load attempts: %w", err)
	}
	if found {
		status.Attempts, _ = strconv.ParseInt(string(raw), 10, 64)
	}

	meta, found, err := g.loadMetadata(ctx, email)
	if err != nil {
		return status, fmt.Errorf("lockout: load metadata: %w", err)
	}
	if !found {
		return status, nil
	}
	if meta.Attempts > status.Attempts {
		status.Attempts = meta.Attempts
	}

	remaining := meta.LockedUntil.Sub(g.now())
	if remaining > 0 {
		lockedUntil := meta.LockedUntil
		status.IsLocked = true
		status.LockedUntil = &lockedUntil
		status.LockoutSeconds = int64(math.Ceil(remaining.Seconds()))
	}
	return status, nil
}

// Reset clears the attempt counter and metadata before the block flag, so a partial failure
// leaves the identifier locked.
func (g *Guard) Reset(ctx context.Context, email string) error {
	email = Normalize(email)
	if email == "" {
		return ErrIdentifierRequired
	}

	if _, err := g.store.DeleteByPattern(ctx, namespace(email)+"*"); err != nil {
		return fmt.Errorf("lockout: clear attempts: %w", err)
	}
	if err := g.store.Delete(ctx, blockKey(email)); err != nil {
		return fmt.Errorf("lockout: clear block flag: %w", err)
	}
	return nil
}

func (g *Guard) loadMetadata(ctx context.Context, email string) (metadata, bool, error) {
	raw, found, err := g.store.Get(ctx, metaKey(email))
	if err != nil || !found {
		return metadata{}, false, err
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		g.log.Warn("discarding malformed lockout metadata", zap.Error(err))
		return metadata{}, false, nil
	}
	return meta, true, nil
}

func namespace(email string) string { return "auth:lockout:" + email + ":" }

func attemptsKey(email string) string { return namespace(email) + "attempts" }

func metaKey(email string) string { return namespace(email) + "meta" }

func blockKey(email string) string { return "auth:blocked:" + email }
