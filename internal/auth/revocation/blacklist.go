// Package revocation holds the cache-resident revocation markers and the store-side
// cascade helpers shared by the device and session services.
package revocation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/logger"
)

const (
	blacklistPrefix      = "auth:blacklist:"
	revokedSessionPrefix = "auth:session:revoked:"
)

// DefaultSessionMarkerTTL bounds how long a revoked-session marker lives when the
// caller cannot derive a tighter window.
const DefaultSessionMarkerTTL = 30 * 24 * time.Hour

// Blacklist records token ids and session ids that must be treated as revoked regardless of
// the state held in the system of record. Cache failures are logged and swallowed; callers
// always combine a negative answer with the stored revoked flag.
type Blacklist struct {
	store cache.Store
	log   *zap.Logger
}

// NewBlacklist constructs a Blacklist. A nil store disables the cache layer.
func NewBlacklist(store cache.Store) *Blacklist {
	return &Blacklist{store: store, log: logger.WithModule("auth.revocation")}
}

// Add blacklists a token id for ttl. Tokens that have already expired are skipped.
func (b *Blacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) {
	if b == nil || b.store == nil || ttl <= 0 || strings.TrimSpace(tokenID) == "" {
		return
	}
	if err := b.store.Set(ctx, blacklistPrefix+tokenID, []byte("1"), ttl); err != nil {
		b.log.Warn("blacklist token failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

// AddTokens blacklists each token for its remaining validity at now.
func (b *Blacklist) AddTokens(ctx context.Context, tokens []models.RefreshToken, now time.Time) {
	for i := range tokens {
		b.Add(ctx, tokens[i].ID, tokens[i].ExpiresAt.Sub(now))
	}
}

// Contains reports whether the token id is blacklisted. A cache error yields false with
// the error so callers can fall back to the stored flag.
func (b *Blacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	if b == nil || b.store == nil {
		return false, nil
	}
	return b.store.Exists(ctx, blacklistPrefix+tokenID)
}

// MarkSessionRevoked sets the revoked-session marker used by access-token validation.
func (b *Blacklist) MarkSessionRevoked(ctx context.Context, sessionID string, ttl time.Duration) {
	if b == nil || b.store == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	if ttl <= 0 {
		ttl = DefaultSessionMarkerTTL
	}
	if err := b.store.Set(ctx, revokedSessionPrefix+sessionID, []byte("1"), ttl); err != nil {
		b.log.Warn("mark session revoked failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// ClearSessionRevoked removes the revoked-session marker so a re-armed device can authenticate.
func (b *Blacklist) ClearSessionRevoked(ctx context.Context, sessionID string) {
	if b == nil || b.store == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	if err := b.store.Delete(ctx, revokedSessionPrefix+sessionID); err != nil {
		b.log.Warn("clear session marker failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// IsSessionRevoked reports whether the revoked-session marker is present.
func (b *Blacklist) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	if b == nil || b.store == nil {
		return false, nil
	}
	return b.store.Exists(ctx, revokedSessionPrefix+sessionID)
}
