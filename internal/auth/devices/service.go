// Package devices implements the device trust state machine:
// pending_approval -> trusted, pending_approval -> revoked, trusted -> revoked.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/authguard/internal/auth/patterns"
	"github.com/charlesng35/authguard/internal/auth/revocation"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/crypto"
	"github.com/charlesng35/authguard/pkg/logger"
)

const (
	defaultApprovalTTL        = 15 * time.Minute
	defaultCodeLength         = 6
	defaultTokenBytes         = 32
	defaultMaxApprovalAttempt = 5
	defaultMaxRegeneration    = 5

	// linkPurpose separates approval link digests from approval token digests.
	linkPurpose = "device-approval-link"
)

var (
	// ErrDeviceNotFound indicates no device matches the lookup.
	ErrDeviceNotFound = errors.New("device: not found")
	// ErrDeviceNotTrusted is returned when a trusted-only operation meets a pending or revoked device.
	ErrDeviceNotTrusted = errors.New("device: not trusted")
	// ErrDeviceRevoked is returned when a transition out of the terminal revoked state is attempted.
	ErrDeviceRevoked = errors.New("device: revoked")
	// ErrApprovalNotFound covers unknown, expired and no-longer-pending approval tokens and links.
	ErrApprovalNotFound = errors.New("device: approval not found")
	// ErrApprovalMaxAttempts is returned once the approval code attempt budget is spent.
	ErrApprovalMaxAttempts = errors.New("device: approval attempts exhausted")
	// ErrApprovalCodeMismatch is returned for a wrong approval code.
	ErrApprovalCodeMismatch = errors.New("device: approval code mismatch")
	// ErrApprovalEntropy is returned when unique approval credentials could not be generated.
	ErrApprovalEntropy = errors.New("device: could not generate unique approval credentials")
)

// Config tunes the device service.
type Config struct {
	ApprovalTTL         time.Duration
	CodeLength          int
	TokenBytes          int
	MaxApprovalAttempts int
	MaxRegeneration     int
	// SessionMarkerTTL bounds the revoked-session marker; use the longest refresh lifetime.
	SessionMarkerTTL time.Duration
}

// Attributes identify and describe a device as observed at login.
type Attributes struct {
	DeviceID       string
	Fingerprint    string
	Name           string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	DeviceType     string
	Country        string
	City           string
	IP             string
}

// PendingInput describes a device that must pass an approval challenge.
type PendingInput struct {
	UserID string
	// ExistingID re-arms this exact row (e.g. one matched by fingerprint).
	ExistingID  string
	Attributes  Attributes
	RiskScore   int
	RiskFactors []string
	// Signals are the login observations absorbed into the baseline once the device is approved.
	Signals *patterns.Signals
}

// PendingApproval carries the plaintext approval credentials. They are returned once and
// never persisted. Token goes back to the waiting client and only works together with Code.
// Code and Link travel by email; Link approves or denies on its own.
type PendingApproval struct {
	Device    *models.Device
	Token     string
	Code      string
	Link      string
	ExpiresAt time.Time
}

// Option customises the Service.
type Option func(*Service)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithCredentialGenerator overrides how approval tokens and codes are produced.
func WithCredentialGenerator(token func() (string, error), code func() (string, error)) Option {
	return func(s *Service) {
		if token != nil {
			s.newToken = token
		}
		if code != nil {
			s.newCode = code
		}
	}
}

// WithBaseline records the signals of approved logins into the user's login pattern.
func WithBaseline(tracker *patterns.Tracker) Option {
	return func(s *Service) {
		s.baseline = tracker
	}
}

// Service manages device identities and their trust lifecycle.
type Service struct {
	db        *gorm.DB
	blacklist *revocation.Blacklist
	baseline  *patterns.Tracker
	cfg       Config
	now       func() time.Time
	newToken  func() (string, error)
	newCode   func() (string, error)
	newLink   func() (string, error)
	log       *zap.Logger
}

// NewService constructs a device service.
func NewService(db *gorm.DB, blacklist *revocation.Blacklist, cfg Config, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("device service: db is required")
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = defaultApprovalTTL
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaultTokenBytes
	}
	if cfg.MaxApprovalAttempts <= 0 {
		cfg.MaxApprovalAttempts = defaultMaxApprovalAttempt
	}
	if cfg.MaxRegeneration <= 0 {
		cfg.MaxRegeneration = defaultMaxRegeneration
	}
	if cfg.SessionMarkerTTL <= 0 {
		cfg.SessionMarkerTTL = revocation.DefaultSessionMarkerTTL
	}

	svc := &Service{
		db:        db,
		blacklist: blacklist,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.WithModule("auth.devices"),
	}
	svc.newToken = func() (string, error) { return crypto.GenerateToken(svc.cfg.TokenBytes) }
	svc.newCode = func() (string, error) { return crypto.GenerateNumericCode(svc.cfg.CodeLength) }
	svc.newLink = func() (string, error) { return crypto.GenerateToken(svc.cfg.TokenBytes) }

	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// WithDB returns a copy of the service bound to tx.
func (s *Service) WithDB(tx *gorm.DB) *Service {
	clone := *s
	clone.db = tx
	return &clone
}

// MaxApprovalAttempts exposes the configured approval attempt budget.
func (s *Service) MaxApprovalAttempts() int {
	return s.cfg.MaxApprovalAttempts
}

// Get loads a device by its primary key.
func (s *Service) Get(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).Take(&device, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("device service: load device: %w", err)
	}
	return &device, nil
}

// Find looks a device up by exact device id first and falls back to the fingerprint.
// The boolean reports a fingerprint match; the stored device id is moved to the new id
// when no other row holds it. Trust is never altered by the lookup.
func (s *Service) Find(ctx context.Context, userID, deviceID, fingerprint string) (*models.Device, bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	fingerprint = strings.TrimSpace(fingerprint)
	db := s.db.WithContext(ctx)

	var device models.Device
	if deviceID != "" {
		err := db.Where("user_id = ? AND device_id = ?", userID, deviceID).Take(&device).Error
		if err == nil {
			return &device, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("device service: find by id: %w", err)
		}
	}

	if fingerprint == "" {
		return nil, false, ErrDeviceNotFound
	}

	err := db.Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		Order("updated_at DESC").
		Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrDeviceNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("device service: find by fingerprint: %w", err)
	}

	if deviceID != "" && device.DeviceID != deviceID {
		s.log.Info("device id changed",
			zap.String("user_id", userID),
			zap.String("device", device.ID),
		)
		result := db.Model(&models.Device{}).
			Where("id = ? AND NOT EXISTS (SELECT 1 FROM devices d2 WHERE d2.user_id = ? AND d2.device_id = ?)", device.ID, userID, deviceID).
			Update("device_id", deviceID)
		if result.Error != nil {
			s.log.Warn("update changed device id failed", zap.Error(result.Error))
		} else if result.RowsAffected == 1 {
			device.DeviceID = deviceID
		}
	}

	return &device, true, nil
}

// RegisterTrusted records a login on a trusted device, creating the row when the device
// has never been seen. Existing rows must already be trusted.
func (s *Service) RegisterTrusted(ctx context.Context, userID string, attrs Attributes, riskScore int, riskFactors []string) (*models.Device, error) {
	userID = strings.TrimSpace(userID)
	attrs.DeviceID = strings.TrimSpace(attrs.DeviceID)
	if userID == "" || attrs.DeviceID == "" {
		return nil, errors.New("device service: user id and device id are required")
	}

	now := s.now().UTC()
	var device models.Device

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND device_id = ?", userID, attrs.DeviceID).Take(&device).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			device = models.Device{
				UserID:         userID,
				Status:         models.DeviceStatusTrusted,
				TrustedAt:      &now,
				LastActivityAt: &now,
				LoginCount:     1,
				RiskScore:      riskScore,
				RiskFactors:    riskFactors,
			}
			applyAttributes(&device, attrs)
			return tx.Create(&device).Error
		case err != nil:
			return err
		case !device.IsTrusted():
			return ErrDeviceNotTrusted
		}

		applyAttributes(&device, attrs)
		device.LastActivityAt = &now
		device.LoginCount++
		device.RiskScore = riskScore
		device.RiskFactors = riskFactors
		return tx.Save(&device).Error
	})
	if errors.Is(err, ErrDeviceNotTrusted) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("device service: register trusted: %w", err)
	}
	return &device, nil
}

// CreatePending puts the device into pending_approval with fresh approval credentials,
// re-arming an existing row in place whatever its status.
func (s *Service) CreatePending(ctx context.Context, in PendingInput) (*PendingApproval, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Attributes.DeviceID = strings.TrimSpace(in.Attributes.DeviceID)
	if in.UserID == "" || in.Attributes.DeviceID == "" {
		return nil, errors.New("device service: user id and device id are required")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.ApprovalTTL)

	var signals datatypes.JSON
	if in.Signals != nil {
		raw, err := json.Marshal(in.Signals)
		if err != nil {
			return nil, fmt.Errorf("device service: encode pending signals: %w", err)
		}
		signals = datatypes.JSON(raw)
	}

	var (
		device models.Device
		creds  approvalCredentials
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("user_id = ? AND device_id = ?", in.UserID, in.Attributes.DeviceID)
		if in.ExistingID != "" {
			query = tx.Where("id = ? AND user_id = ?", in.ExistingID, in.UserID)
		}
		err := query.Take(&device).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		creds, err = s.uniqueCredentials(tx, device.ID)
		if err != nil {
			return err
		}

		if !exists {
			device = models.Device{UserID: in.UserID}
		}
		applyAttributes(&device, in.Attributes)
		device.Status = models.DeviceStatusPending
		device.ApprovalTokenHash = &creds.tokenHash
		device.ApprovalCodeHash = &creds.codeHash
		device.ApprovalLinkHash = &creds.linkHash
		device.ApprovalAttempts = 0
		device.PendingSignals = signals
		device.ApprovalExpiresAt = &expiresAt
		device.RiskScore = in.RiskScore
		device.RiskFactors = in.RiskFactors
		device.TrustedAt = nil
		device.RevokedAt = nil
		device.RevokeReason = ""

		if !exists {
			return tx.Create(&device).Error
		}
		return tx.Save(&device).Error
	})
	if err != nil {
		if errors.Is(err, ErrApprovalEntropy) {
			s.log.Error("approval credential generation exhausted", zap.String("user_id", in.UserID))
			return nil, err
		}
		return nil, fmt.Errorf("device service: create pending: %w", err)
	}

	s.blacklist.ClearSessionRevoked(ctx, device.ID)

	return &PendingApproval{
		Device:    &device,
		Token:     creds.token,
		Code:      creds.code,
		Link:      creds.link,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateApprovalToken resolves a pending device from its approval token. Expired pending
// rows are flipped to revoked on the way out.
func (s *Service) ValidateApprovalToken(ctx context.Context, token string) (*models.Device, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrApprovalNotFound
	}
	return s.pendingBy(ctx, "approval_token_hash", crypto.Digest(token))
}

// ValidateApprovalCode checks the approval code for a pending device. The attempt budget is
// checked before the code, and remaining attempts never drop below zero.
func (s *Service) ValidateApprovalCode(ctx context.Context, token, code string) (*models.Device, int, error) {
	device, err := s.ValidateApprovalToken(ctx, token)
	if err != nil {
		return nil, 0, err
	}

	limit := s.cfg.MaxApprovalAttempts
	if device.ApprovalAttempts >= limit {
		return nil, 0, ErrApprovalMaxAttempts
	}

	expected := crypto.Digest(*device.ApprovalTokenHash, strings.TrimSpace(code))
	if device.ApprovalCodeHash == nil || !crypto.EqualDigest(*device.ApprovalCodeHash, expected) {
		result := s.db.WithContext(ctx).Model(&models.Device{}).
			Where("id = ? AND status = ? AND approval_attempts < ?", device.ID, models.DeviceStatusPending, limit).
			Update("approval_attempts", gorm.Expr("approval_attempts + 1"))
		if result.Error != nil {
			return nil, 0, fmt.Errorf("device service: count approval attempt: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, 0, ErrApprovalMaxAttempts
		}

		var attempts []int
		if err := s.db.WithContext(ctx).Model(&models.Device{}).
			Where("id = ?", device.ID).
			Pluck("approval_attempts", &attempts).Error; err != nil {
			return nil, 0, fmt.Errorf("device service: reload approval attempts: %w", err)
		}
		if len(attempts) == 0 {
			return nil, 0, ErrApprovalNotFound
		}
		return nil, remainingAttempts(limit, attempts[0]), ErrApprovalCodeMismatch
	}

	return s.trustPending(ctx, device, limit)
}

// ApproveByLink trusts a pending device from the secret carried by the emailed approval
// link. The approval token held by the waiting client is not accepted here.
func (s *Service) ApproveByLink(ctx context.Context, link string) (*models.Device, error) {
	device, err := s.validateLink(ctx, link)
	if err != nil {
		return nil, err
	}
	trusted, _, err := s.trustPending(ctx, device, 0)
	return trusted, err
}

// DenyByLink revokes a pending device from the emailed approval link.
func (s *Service) DenyByLink(ctx context.Context, link string) (*models.Device, error) {
	device, err := s.validateLink(ctx, link)
	if err != nil {
		return nil, err
	}
	if _, err := s.Revoke(ctx, device.ID, revocation.ReasonApprovalDenied); err != nil {
		return nil, err
	}
	return s.Get(ctx, device.ID)
}

// MarkTrusted trusts a device outside the approval flow. Revoked devices stay revoked.
func (s *Service) MarkTrusted(ctx context.Context, id string) (*models.Device, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ? AND status <> ?", id, models.DeviceStatusRevoked).
		Updates(trustedUpdates(now))
	if result.Error != nil {
		return nil, fmt.Errorf("device service: mark trusted: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrDeviceRevoked
	}
	return s.Get(ctx, id)
}

// Revoke moves the device to revoked and revokes every linked refresh token in the same
// transaction. Blacklist entries and the revoked-session marker are written after commit.
func (s *Service) Revoke(ctx context.Context, id, reason string) (int, error) {
	now := s.now().UTC()
	var revoked []models.RefreshToken

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device models.Device
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&device, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviceNotFound
		}
		if err != nil {
			return err
		}

		if device.Status != models.DeviceStatusRevoked {
			if err := tx.Model(&models.Device{}).
				Where("id = ?", device.ID).
				Updates(revokedUpdates(now, reason)).Error; err != nil {
				return err
			}
		}

		revoked, err = revocation.RevokeDeviceTokens(tx, device.ID, revocation.ReasonDeviceRevoked, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("device service: revoke: %w", err)
	}

	s.blacklist.AddTokens(ctx, revoked, now)
	s.blacklist.MarkSessionRevoked(ctx, id, s.cfg.SessionMarkerTTL)

	s.log.Info("device revoked",
		zap.String("device", id),
		zap.String("reason", reason),
		zap.Int("tokens", len(revoked)),
	)
	return len(revoked), nil
}

// RevokeAllForUser revokes every device and refresh token belonging to the user.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	now := s.now().UTC()
	var (
		deviceIDs []string
		revoked   []models.RefreshToken
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Device{}).
			Where("user_id = ? AND status <> ?", userID, models.DeviceStatusRevoked).
			Pluck("id", &deviceIDs).Error; err != nil {
			return err
		}
		if len(deviceIDs) > 0 {
			if err := tx.Model(&models.Device{}).
				Where("id IN ?", deviceIDs).
				Updates(revokedUpdates(now, reason)).Error; err != nil {
				return err
			}
		}
		var err error
		revoked, err = revocation.RevokeUserTokens(tx, userID, revocation.ReasonUserRevoked, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("device service: revoke all: %w", err)
	}

	s.blacklist.AddTokens(ctx, revoked, now)
	for _, id := range deviceIDs {
		s.blacklist.MarkSessionRevoked(ctx, id, s.cfg.SessionMarkerTTL)
	}
	return len(deviceIDs), nil
}

// ListForUser returns the user's devices, most recently active first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Device, error) {
	var devices []models.Device
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("device service: list devices: %w", err)
	}
	return devices, nil
}

// Touch records session activity on the device.
func (s *Service) Touch(ctx context.Context, id, ip string) error {
	updates := map[string]any{"last_activity_at": s.now().UTC()}
	if ip = strings.TrimSpace(ip); ip != "" {
		updates["last_ip"] = ip
	}
	if err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("device service: touch: %w", err)
	}
	return nil
}

// IsSessionRevoked checks the cached marker first and falls back to the stored status.
// A missing device counts as revoked.
func (s *Service) IsSessionRevoked(ctx context.Context, id string) (bool, error) {
	if revoked, err := s.blacklist.IsSessionRevoked(ctx, id); err == nil && revoked {
		return true, nil
	} else if err != nil {
		s.log.Warn("session marker lookup failed", zap.Error(err))
	}

	var statuses []string
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Pluck("status", &statuses).Error
	if err != nil {
		return false, fmt.Errorf("device service: load status: %w", err)
	}
	return len(statuses) == 0 || statuses[0] == string(models.DeviceStatusRevoked), nil
}

// ExpireStale revokes pending devices whose approval window has elapsed.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("status = ? AND approval_expires_at <= ?", models.DeviceStatusPending, now).
		Updates(revokedUpdates(now, revocation.ReasonApprovalExpiry))
	if result.Error != nil {
		return 0, fmt.Errorf("device service: expire stale approvals: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) validateLink(ctx context.Context, link string) (*models.Device, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, ErrApprovalNotFound
	}
	return s.pendingBy(ctx, "approval_link_hash", crypto.Digest(linkPurpose, link))
}

// pendingBy loads the pending device whose approval credential column matches digest.
func (s *Service) pendingBy(ctx context.Context, column, digest string) (*models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).Where(column+" = ?", digest).Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("device service: lookup approval: %w", err)
	}

	if device.Status != models.DeviceStatusPending || device.ApprovalTokenHash == nil {
		return nil, ErrApprovalNotFound
	}

	now := s.now().UTC()
	if device.ApprovalExpiresAt == nil || !now.Before(*device.ApprovalExpiresAt) {
		if err := s.db.WithContext(ctx).Model(&models.Device{}).
			Where("id = ? AND status = ?", device.ID, models.DeviceStatusPending).
			Updates(revokedUpdates(now, revocation.ReasonApprovalExpiry)).Error; err != nil {
			s.log.Warn("expire pending device failed", zap.String("device", device.ID), zap.Error(err))
		}
		return nil, ErrApprovalNotFound
	}

	return &device, nil
}

// trustPending moves a pending device to trusted and absorbs its pending login signals into
// the baseline in the same transaction. With a positive attemptLimit the stored attempt
// count must still be under the limit; remaining is computed from the stored row.
func (s *Service) trustPending(ctx context.Context, device *models.Device, attemptLimit int) (*models.Device, int, error) {
	now := s.now().UTC()
	var remaining int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored models.Device
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&stored, "id = ?", device.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrApprovalNotFound
		}
		if err != nil {
			return err
		}
		if stored.Status != models.DeviceStatusPending || stored.ApprovalTokenHash == nil ||
			*stored.ApprovalTokenHash != *device.ApprovalTokenHash {
			return ErrApprovalNotFound
		}
		if attemptLimit > 0 && stored.ApprovalAttempts >= attemptLimit {
			return ErrApprovalMaxAttempts
		}

		query := tx.Model(&models.Device{}).
			Where("id = ? AND status = ? AND approval_token_hash = ?", stored.ID, models.DeviceStatusPending, *stored.ApprovalTokenHash)
		if attemptLimit > 0 {
			query = query.Where("approval_attempts < ?", attemptLimit)
		}
		result := query.Updates(trustedUpdates(now))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if attemptLimit > 0 {
				return ErrApprovalMaxAttempts
			}
			return ErrApprovalNotFound
		}
		if attemptLimit > 0 {
			remaining = remainingAttempts(attemptLimit, stored.ApprovalAttempts)
		}

		return s.absorbSignals(ctx, tx, &stored)
	})
	switch {
	case errors.Is(err, ErrApprovalNotFound), errors.Is(err, ErrApprovalMaxAttempts):
		return nil, 0, err
	case err != nil:
		return nil, 0, fmt.Errorf("device service: trust device: %w", err)
	}

	s.blacklist.ClearSessionRevoked(ctx, device.ID)
	trusted, err := s.Get(ctx, device.ID)
	if err != nil {
		return nil, 0, err
	}
	return trusted, remaining, nil
}

// absorbSignals records the login that was held for approval into the user's baseline.
func (s *Service) absorbSignals(ctx context.Context, tx *gorm.DB, device *models.Device) error {
	if s.baseline == nil || len(device.PendingSignals) == 0 {
		return nil
	}
	var signals patterns.Signals
	if err := json.Unmarshal(device.PendingSignals, &signals); err != nil {
		s.log.Warn("discarding unreadable pending signals", zap.String("device", device.ID), zap.Error(err))
		return nil
	}
	if _, err := s.baseline.WithDB(tx).Record(ctx, device.UserID, signals); err != nil {
		return err
	}
	return nil
}

type approvalCredentials struct {
	token     string
	code      string
	link      string
	tokenHash string
	codeHash  string
	linkHash  string
}

// uniqueCredentials generates a token, code and link whose hashes collide with no other device.
func (s *Service) uniqueCredentials(tx *gorm.DB, selfID string) (approvalCredentials, error) {
	for attempt := 0; attempt < s.cfg.MaxRegeneration; attempt++ {
		var (
			creds approvalCredentials
			err   error
		)
		if creds.token, err = s.newToken(); err != nil {
			return approvalCredentials{}, err
		}
		if creds.code, err = s.newCode(); err != nil {
			return approvalCredentials{}, err
		}
		if creds.link, err = s.newLink(); err != nil {
			return approvalCredentials{}, err
		}
		creds.tokenHash = crypto.Digest(creds.token)
		creds.codeHash = crypto.Digest(creds.tokenHash, creds.code)
		creds.linkHash = crypto.Digest(linkPurpose, creds.link)

		query := tx.Model(&models.Device{}).
			Where("approval_token_hash = ? OR approval_code_hash = ? OR approval_link_hash = ?", creds.tokenHash, creds.codeHash, creds.linkHash)
		if selfID != "" {
			query = query.Where("id <> ?", selfID)
		}
		var clashes int64
		if err = query.Count(&clashes).Error; err != nil {
			return approvalCredentials{}, err
		}
		if clashes == 0 {
			return creds, nil
		}
		s.log.Warn("approval credential collision; regenerating", zap.Int("attempt", attempt+1))
	}
	return approvalCredentials{}, ErrApprovalEntropy
}

func remainingAttempts(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

func applyAttributes(d *models.Device, a Attributes) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&d.DeviceID, a.DeviceID)
	set(&d.Fingerprint, a.Fingerprint)
	set(&d.Name, a.Name)
	set(&d.Browser, a.Browser)
	set(&d.BrowserVersion, a.BrowserVersion)
	set(&d.OS, a.OS)
	set(&d.OSVersion, a.OSVersion)
	set(&d.DeviceType, a.DeviceType)
	set(&d.LastCountry, a.Country)
	set(&d.LastCity, a.City)
	set(&d.LastIP, a.IP)
}

func trustedUpdates(now time.Time) map[string]any {
	return map[string]any{
		"status":              models.DeviceStatusTrusted,
		"trusted_at":          now,
		"approval_token_hash": nil,
		"approval_code_hash":  nil,
		"approval_link_hash":  nil,
		"approval_attempts":   0,
		"approval_expires_at": nil,
		"pending_signals":     nil,
		"last_activity_at":    now,
	}
}

func revokedUpdates(now time.Time, reason string) map[string]any {
	return map[string]any{
		"status":              models.DeviceStatusRevoked,
		"revoked_at":          now,
		"revoke_reason":       reason,
		"approval_token_hash": nil,
		"approval_code_hash":  nil,
		"approval_link_hash":  nil,
		"approval_expires_at": nil,
		"pending_signals":     nil,
	}
}
