package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/auth/devices"
	"github.com/charlesng35/authguard/internal/auth/revocation"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/crypto"
	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/metrics"
)

const (
	// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
	DefaultRefreshTokenTTL = 24 * time.Hour
	// DefaultRememberMeTTL is the extended lifetime chosen with "remember me".
	DefaultRememberMeTTL = 30 * 24 * time.Hour

	defaultVerifierBytes = 32
	secretSeparator      = "."
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RememberMeTTL   time.Duration
	VerifierLength  int
	BcryptCost      int
	// SupportedUserType is the only user type whose tokens may be refreshed.
	SupportedUserType string
	Clock             func() time.Time
	Blacklist         *revocation.Blacklist
	Devices           *devices.Service
}

// IssueInput describes a refresh token issuance.
type IssueInput struct {
	UserID      string
	UserType    string
	DeviceID    *string
	RememberMe  bool
	Permissions []string
	FamilyID    string
	ParentID    *string
}

// RefreshInput carries the presented refresh secret and client context.
type RefreshInput struct {
	Secret    string
	IPAddress string
	UserAgent string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// ExpiresIn is the access token lifetime at issuance.
	ExpiresIn time.Duration
}

var (
	// ErrSessionNotFound indicates that no refresh token matches the presented secret.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a refresh token revoked or blacklisted.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
	// ErrTokenReused is returned when an already rotated token is presented again.
	ErrTokenReused = errors.New("session: token reused")
	// ErrUnsupportedUserType rejects tokens issued to a user type this flow does not serve.
	ErrUnsupportedUserType = errors.New("session: unsupported user type")
)

// TokenReuseError reports a replayed token whose family has been revoked.
type TokenReuseError struct {
	UserID   string
	FamilyID string
	Revoked  int
}

func (e *TokenReuseError) Error() string { return ErrTokenReused.Error() }

func (e *TokenReuseError) Unwrap() error { return ErrTokenReused }

// SessionService manages issuance, rotation and revocation of refresh tokens.
type SessionService struct {
	db          *gorm.DB
	jwt         *JWTService
	users       UserStore
	blacklist   *revocation.Blacklist
	devices     *devices.Service
	refreshTTL  time.Duration
	rememberTTL time.Duration
	verifierLen int
	cost        int
	userType    string
	now         func() time.Time
	log         *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, users UserStore, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}
	if users == nil {
		return nil, errors.New("session service: user store is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	remember := cfg.RememberMeTTL
	if remember <= 0 {
		remember = DefaultRememberMeTTL
	}
	length := cfg.VerifierLength
	if length <= 0 {
		length = defaultVerifierBytes
	}
	userType := strings.TrimSpace(cfg.SupportedUserType)
	if userType == "" {
		userType = models.UserTypeUser
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:          db,
		jwt:         jwtService,
		users:       users,
		blacklist:   cfg.Blacklist,
		devices:     cfg.Devices,
		refreshTTL:  ttl,
		rememberTTL: remember,
		verifierLen: length,
		cost:        cfg.BcryptCost,
		userType:    userType,
		now:         clock,
		log:         logger.WithModule("auth.sessions"),
	}, nil
}

// WithDB returns a copy of the service bound to tx.
func (s *SessionService) WithDB(tx *gorm.DB) *SessionService {
	clone := *s
	clone.db = tx
	if s.devices != nil {
		clone.devices = s.devices.WithDB(tx)
	}
	return &clone
}

// Issue creates a refresh token and a matching access token.
func (s *SessionService) Issue(ctx context.Context, in IssueInput) (TokenPair, *models.RefreshToken, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}
	if in.UserType == "" {
		in.UserType = s.userType
	}

	token, secret, err := s.newToken(in)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create refresh token: %w", err)
	}

	pair, err := s.pairFor(token, secret, in.Permissions)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, token, nil
}

// Refresh verifies the presented secret, rotates it and issues a new token pair. Revoking the
// old token and inserting its successor happen in one transaction.
func (s *SessionService) Refresh(ctx context.Context, in RefreshInput) (TokenPair, *models.RefreshToken, error) {
	pair, token, err := s.refresh(ctx, in)
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenReused):
		result = "reused"
	case errors.Is(err, ErrSessionExpired):
		result = "expired"
	case errors.Is(err, ErrSessionRevoked):
		result = "revoked"
	default:
		result = "rejected"
	}
	metrics.RefreshOutcomes.WithLabelValues(result).Inc()
	return pair, token, err
}

func (s *SessionService) refresh(ctx context.Context, in RefreshInput) (TokenPair, *models.RefreshToken, error) {
	secret := strings.TrimSpace(in.Secret)
	if secret == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	now := s.now().UTC()

	current, err := s.lookup(ctx, secret, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if current.RevokedAt != nil {
		// The verifier matched a token that was already rotated or revoked.
		return TokenPair{}, nil, s.revokeFamily(ctx, current, now)
	}
	if !current.ExpiresAt.After(now) {
		return TokenPair{}, nil, ErrSessionExpired
	}

	if listed, err := s.blacklist.Contains(ctx, current.ID); err != nil {
		s.log.Warn("blacklist lookup failed; relying on stored state", zap.Error(err))
	} else if listed {
		return TokenPair{}, nil, ErrSessionRevoked
	}

	if current.UserType != s.userType {
		return TokenPair{}, nil, ErrUnsupportedUserType
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return TokenPair{}, nil, ErrUserInactive
	}
	if err != nil {
		return TokenPair{}, nil, err
	}
	if err := checkUsable(user, now); err != nil {
		return TokenPair{}, nil, err
	}
	if user.Type != "" && user.Type != s.userType {
		return TokenPair{}, nil, ErrUnsupportedUserType
	}

	if current.DeviceID != nil {
		if err := s.ensureDeviceActive(ctx, *current.DeviceID); err != nil {
			return TokenPair{}, nil, err
		}
	}

	perms, err := s.users.GetPermissionNames(ctx, user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	next, nextSecret, err := s.newToken(IssueInput{
		UserID:     current.UserID,
		UserType:   current.UserType,
		DeviceID:   current.DeviceID,
		RememberMe: current.RememberMe,
		FamilyID:   current.FamilyID,
		ParentID:   &current.ID,
	})
	if err != nil {
		return TokenPair{}, nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", current.ID).
			Updates(map[string]any{
				"revoked_at":    now,
				"revoke_reason": revocation.ReasonRotated,
				"last_used_at":  now,
			})
		if result.Error != nil {
			return fmt.Errorf("session service: revoke rotated token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrTokenReused
		}

		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("session service: create refresh token: %w", err)
		}

		if next.DeviceID != nil && s.devices != nil {
			if err := s.devices.WithDB(tx).Touch(ctx, *next.DeviceID, in.IPAddress); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TokenPair{}, nil, err
	}

	s.blacklist.Add(ctx, current.ID, current.ExpiresAt.Sub(now))

	pair, err := s.pairFor(next, nextSecret, perms)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, next, nil
}

// Revoke revokes a single refresh token and blacklists it.
func (s *SessionService) Revoke(ctx context.Context, tokenID, reason string) error {
	if strings.TrimSpace(tokenID) == "" {
		return ErrSessionInvalidToken
	}

	now := s.now().UTC()
	var token models.RefreshToken
	if err := s.db.WithContext(ctx).Take(&token, "id = ?", tokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("session service: load token: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", tokenID).
		Updates(map[string]any{"revoked_at": now, "revoke_reason": reason})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionRevoked
	}

	s.blacklist.Add(ctx, token.ID, token.ExpiresAt.Sub(now))
	return nil
}

// RevokeBySecret revokes the token identified by a presented secret, as on logout.
func (s *SessionService) RevokeBySecret(ctx context.Context, secret, reason string) (*models.RefreshToken, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSessionInvalidToken
	}
	token, err := s.lookup(ctx, secret, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if token.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if err := s.Revoke(ctx, token.ID, reason); err != nil {
		return nil, err
	}
	return token, nil
}

// RevokeUserTokens revokes every active refresh token belonging to a user.
func (s *SessionService) RevokeUserTokens(ctx context.Context, userID, reason string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrSessionInvalidToken
	}

	now := s.now().UTC()
	var revoked []models.RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		revoked, err = revocation.RevokeUserTokens(tx, userID, reason, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("session service: revoke user tokens: %w", err)
	}

	s.blacklist.AddTokens(ctx, revoked, now)
	return len(revoked), nil
}

// CleanupExpired deletes expired tokens and revoked tokens past their expiry.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// lookup resolves the stored token for a secret. Secrets carry a "<id>.<verifier>" selector;
// selector-less secrets fall back to scanning the active tokens.
func (s *SessionService) lookup(ctx context.Context, secret string, now time.Time) (*models.RefreshToken, error) {
	db := s.db.WithContext(ctx)

	if id, verifier, ok := strings.Cut(secret, secretSeparator); ok {
		if _, err := uuid.Parse(id); err != nil || verifier == "" {
			return nil, ErrSessionInvalidToken
		}
		var token models.RefreshToken
		err := db.Take(&token, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("session service: find token: %w", err)
		}
		if !crypto.VerifySecret(token.VerifierHash, verifier) {
			return nil, ErrSessionNotFound
		}
		return &token, nil
	}

	var candidates []models.RefreshToken
	if err := db.Where("revoked_at IS NULL AND expires_at > ?", now).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("session service: scan tokens: %w", err)
	}
	for i := range candidates {
		if crypto.VerifySecret(candidates[i].VerifierHash, secret) {
			return &candidates[i], nil
		}
	}
	return nil, ErrSessionNotFound
}

func (s *SessionService) ensureDeviceActive(ctx context.Context, deviceID string) error {
	var statuses []string
	if err := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", deviceID).
		Pluck("status", &statuses).Error; err != nil {
		return fmt.Errorf("session service: load device: %w", err)
	}
	if len(statuses) == 0 || statuses[0] == string(models.DeviceStatusRevoked) {
		return ErrSessionRevoked
	}
	return nil
}

func (s *SessionService) revokeFamily(ctx context.Context, token *models.RefreshToken, now time.Time) error {
	reuse := &TokenReuseError{UserID: token.UserID, FamilyID: token.FamilyID}

	var revoked []models.RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		revoked, err = revocation.RevokeFamily(tx, token.FamilyID, revocation.ReasonReuseDetected, now)
		return err
	})
	if err != nil {
		s.log.Error("revoke reused token family failed", zap.String("family", token.FamilyID), zap.Error(err))
		return reuse
	}
	s.blacklist.AddTokens(ctx, revoked, now)
	s.log.Warn("refresh token reuse detected",
		zap.String("user_id", token.UserID),
		zap.String("family", token.FamilyID),
		zap.Int("revoked", len(revoked)),
	)
	reuse.Revoked = len(revoked)
	return reuse
}

func (s *SessionService) newToken(in IssueInput) (*models.RefreshToken, string, error) {
	verifier, err := crypto.GenerateToken(s.verifierLen)
	if err != nil {
		return nil, "", fmt.Errorf("session service: generate refresh secret: %w", err)
	}
	hash, err := crypto.HashSecret(verifier, s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("session service: hash refresh secret: %w", err)
	}

	ttl := s.refreshTTL
	if in.RememberMe {
		ttl = s.rememberTTL
	}

	id := uuid.NewString()
	return &models.RefreshToken{
		ID:           id,
		UserID:       in.UserID,
		UserType:     in.UserType,
		VerifierHash: hash,
		FamilyID:     in.FamilyID,
		ParentID:     in.ParentID,
		DeviceID:     in.DeviceID,
		RememberMe:   in.RememberMe,
		ExpiresAt:    s.now().UTC().Add(ttl),
	}, id + secretSeparator + verifier, nil
}

func (s *SessionService) pairFor(token *models.RefreshToken, secret string, perms []string) (TokenPair, error) {
	sessionID := ""
	if token.DeviceID != nil {
		sessionID = *token.DeviceID
	}
	access, expiresAt, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:      token.UserID,
		SessionID:   sessionID,
		UserType:    token.UserType,
		Permissions: perms,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: generate access token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		AccessExpiresAt:  expiresAt,
		RefreshExpiresAt: token.ExpiresAt,
		ExpiresIn:        s.jwt.TTL(),
	}, nil
}
