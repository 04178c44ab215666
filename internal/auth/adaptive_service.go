package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/auth/devices"
	"github.com/charlesng35/authguard/internal/auth/lockout"
	"github.com/charlesng35/authguard/internal/auth/patterns"
	"github.com/charlesng35/authguard/internal/auth/revocation"
	"github.com/charlesng35/authguard/internal/auth/risk"
	"github.com/charlesng35/authguard/internal/geo"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/internal/services"
	"github.com/charlesng35/authguard/pkg/crypto"
	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/metrics"
)

// Decision is the device trust outcome of a login evaluation.
type Decision string

const (
	DecisionTrusted         Decision = "trusted"
	DecisionPendingApproval Decision = "pending_approval"
)

// Audit actions emitted by the adaptive service.
const (
	AuditLoginSuccess          = "auth.login.success"
	AuditLoginFailure          = "auth.login.failure"
	AuditLoginApproval         = "auth.login.approval_required"
	AuditLockout               = "auth.lockout"
	AuditRefresh               = "auth.refresh"
	AuditRefreshRejected       = "auth.refresh.rejected"
	AuditLogout                = "auth.logout"
	AuditDeviceApproved        = "device.approved"
	AuditDeviceApprovalFailed  = "device.approval_failed"
	AuditDeviceDenied          = "device.denied"
	AuditDeviceRevoked         = "device.revoked"
	AuditDeviceFingerprintSeen = "device.fingerprint_match"
)

var (
	// ErrInvalidCredentials is the single rejection surfaced for failed authentication.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrLoginLocked marks a login refused by the brute-force guard.
	ErrLoginLocked = errors.New("auth: login temporarily locked")
	// ErrDeviceIDRequired is returned when a login carries no device identifier.
	ErrDeviceIDRequired = errors.New("auth: device id is required")
)

// LockedError carries the remaining lockout time for a refused login.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string { return ErrLoginLocked.Error() }

func (e *LockedError) Unwrap() error { return ErrLoginLocked }

// AuditRecorder receives audit entries. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry services.AuditEntry)
}

// Notifier delivers approval requests and security notices out of band.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, notice services.ApprovalNotice)
	SendSecurityNotice(ctx context.Context, notice services.SecurityNotice)
}

// loginRecorder is implemented by user stores that track the last successful login.
type loginRecorder interface {
	RecordLogin(ctx context.Context, userID, ip string, at time.Time) error
}

// AdaptiveDeps wires the collaborators of the AdaptiveService.
type AdaptiveDeps struct {
	Users      UserStore
	Verifier   PasswordVerifier
	Sessions   *SessionService
	Devices    *devices.Service
	Patterns   *patterns.Tracker
	Risk       *risk.Engine
	Guard      *lockout.Guard
	Geo        geo.Resolver
	UserAgents geo.UserAgentParser
	Audit      AuditRecorder
	Notifier   Notifier
	Clock      func() time.Time
}

// LoginInput describes an authenticated principal attempting to start a session.
type LoginInput struct {
	UserID      string
	DeviceID    string
	Fingerprint string
	DeviceName  string
	UserAgent   string
	IPAddress   string
	RememberMe  bool
}

// LoginCredentials is the input of the full password login flow.
type LoginCredentials struct {
	Email       string
	Password    string
	DeviceID    string
	Fingerprint string
	DeviceName  string
	UserAgent   string
	IPAddress   string
	RememberMe  bool
}

// LoginResult reports the risk evaluation and, on the trusted path, the issued tokens.
type LoginResult struct {
	UserID     string
	RiskScore  int
	RiskLevel  risk.Level
	Factors    []string
	FirstLogin bool
	Decision   Decision
	// SessionID is the device row id; access tokens carry it as "sid".
	SessionID string
	Tokens    *TokenPair
	// ApprovalToken is returned to the waiting client so it can submit the emailed code.
	ApprovalToken     string
	ApprovalExpiresAt *time.Time
}

// RefreshResult is the outcome of a successful token rotation.
type RefreshResult struct {
	TokenPair
	SessionID string
}

// AdaptiveService orchestrates the login and refresh flows across the baseline tracker,
// risk engine, device trust state machine, brute-force guard and session lifecycle.
type AdaptiveService struct {
	db       *gorm.DB
	users    UserStore
	verifier PasswordVerifier
	sessions *SessionService
	devices  *devices.Service
	patterns *patterns.Tracker
	risk     *risk.Engine
	guard    *lockout.Guard
	geo      geo.Resolver
	ua       geo.UserAgentParser
	audit    AuditRecorder
	notifier Notifier
	now      func() time.Time
	log      *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAdaptiveService validates and assembles the orchestrator.
func NewAdaptiveService(db *gorm.DB, deps AdaptiveDeps) (*AdaptiveService, error) {
	switch {
	case db == nil:
		return nil, errors.New("adaptive service: db is required")
	case deps.Users == nil:
		return nil, errors.New("adaptive service: user store is required")
	case deps.Sessions == nil:
		return nil, errors.New("adaptive service: session service is required")
	case deps.Devices == nil:
		return nil, errors.New("adaptive service: device service is required")
	case deps.Patterns == nil:
		return nil, errors.New("adaptive service: pattern tracker is required")
	case deps.Risk == nil:
		return nil, errors.New("adaptive service: risk engine is required")
	case deps.Guard == nil:
		return nil, errors.New("adaptive service: lockout guard is required")
	}

	svc := &AdaptiveService{
		db:       db,
		users:    deps.Users,
		verifier: deps.Verifier,
		sessions: deps.Sessions,
		devices:  deps.Devices,
		patterns: deps.Patterns,
		risk:     deps.Risk,
		guard:    deps.Guard,
		geo:      deps.Geo,
		ua:       deps.UserAgents,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		now:      deps.Clock,
		log:      logger.WithModule("auth.adaptive"),
	}
	if svc.verifier == nil {
		svc.verifier = BcryptVerifier{}
	}
	if svc.ua == nil {
		svc.ua = geo.UAParser{}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Login runs the full password flow: guard gate, credential check, guard bookkeeping and
// login evaluation. Every credential failure returns ErrInvalidCredentials.
func (a *AdaptiveService) Login(ctx context.Context, in LoginCredentials) (*LoginResult, error) {
	email := lockout.Normalize(in.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	blocked, err := a.guard.IsBlocked(ctx, email)
	if err != nil {
		a.log.Warn("lockout check failed; continuing without guard", zap.Error(err))
	}
	if blocked {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		a.record(ctx, services.AuditEntry{
			Action:    AuditLoginFailure,
			IPAddress: in.IPAddress,
			Details:   map[string]any{"reason": "locked"},
		})
		return nil, a.lockedError(ctx, email)
	}

	user, err := a.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if user == nil {
		// Spend the same verification work as for a real account.
		a.verifier.Verify(&models.User{PasswordHash: a.timingHash()}, in.Password)
		return nil, a.failLogin(ctx, email, nil, in.IPAddress, "unknown_user")
	}
	if !a.verifier.Verify(user, in.Password) {
		return nil, a.failLogin(ctx, email, &user.ID, in.IPAddress, "bad_password")
	}
	if err := checkUsable(user, a.now().UTC()); err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		a.record(ctx, services.AuditEntry{
			Action:    AuditLoginFailure,
			TargetID:  &user.ID,
			IPAddress: in.IPAddress,
			Details:   map[string]any{"reason": "inactive"},
		})
		return nil, ErrInvalidCredentials
	}

	if err := a.guard.Reset(ctx, email); err != nil {
		a.log.Warn("reset lockout after successful login failed", zap.Error(err))
	}

	return a.EvaluateLogin(ctx, LoginInput{
		UserID:      user.ID,
		DeviceID:    in.DeviceID,
		Fingerprint: in.Fingerprint,
		DeviceName:  in.DeviceName,
		UserAgent:   in.UserAgent,
		IPAddress:   in.IPAddress,
		RememberMe:  in.RememberMe,
	})
}

// EvaluateLogin scores a login for an already authenticated user and either issues tokens
// on a trusted device or arms a device approval challenge. Risk is computed against the
// stored baseline; the baseline absorbs this login only when tokens are issued, in the same
// transaction as the device and token writes.
func (a *AdaptiveService) EvaluateLogin(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if in.DeviceID == "" {
		return nil, ErrDeviceIDRequired
	}

	now := a.now().UTC()

	user, err := a.users.GetByID(ctx, in.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if checkUsable(user, now) != nil {
		return nil, ErrInvalidCredentials
	}

	location := a.resolve(ctx, in.IPAddress)
	client := a.ua.Parse(in.UserAgent)

	pattern, err := a.patterns.GetOrCreate(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	device, byFingerprint, err := a.devices.Find(ctx, user.ID, in.DeviceID, in.Fingerprint)
	if err != nil && !errors.Is(err, devices.ErrDeviceNotFound) {
		return nil, err
	}
	if byFingerprint {
		a.record(ctx, services.AuditEntry{
			Action:     AuditDeviceFingerprintSeen,
			ActorID:    &user.ID,
			EntityType: "device",
			EntityID:   device.ID,
			IPAddress:  in.IPAddress,
		})
	}

	signals := patterns.Signals{
		Country:    location.CountryCode,
		City:       location.City,
		Hour:       now.Hour(),
		DeviceType: client.DeviceType,
		IP:         in.IPAddress,
		Latitude:   location.Latitude,
		Longitude:  location.Longitude,
		At:         now,
	}

	assessment := a.risk.Calculate(pattern, signals, device.IsTrusted())

	result := &LoginResult{
		UserID:     user.ID,
		RiskScore:  assessment.Score,
		RiskLevel:  assessment.Level,
		Factors:    assessment.FactorNames(),
		FirstLogin: assessment.FirstLogin,
	}

	attrs := devices.Attributes{
		DeviceID:       in.DeviceID,
		Fingerprint:    in.Fingerprint,
		Name:           deviceName(in.DeviceName, client),
		Browser:        client.Browser,
		BrowserVersion: client.BrowserVersion,
		OS:             client.OS,
		OSVersion:      client.OSVersion,
		DeviceType:     client.DeviceType,
		Country:        location.CountryCode,
		City:           location.City,
		IP:             in.IPAddress,
	}
	if device != nil {
		attrs.DeviceID = device.DeviceID
	}

	needsApproval := device != nil && !device.IsTrusted()
	if !needsApproval && !assessment.SeedTrust() {
		needsApproval = a.risk.RequiresApproval(assessment.Score)
	}

	if needsApproval {
		return a.requireApproval(ctx, user, device, attrs, signals, assessment, result)
	}
	return a.issueTrusted(ctx, user, device, attrs, signals, in.RememberMe, result)
}

func (a *AdaptiveService) issueTrusted(
	ctx context.Context,
	user *models.User,
	existing *models.Device,
	attrs devices.Attributes,
	signals patterns.Signals,
	rememberMe bool,
	result *LoginResult,
) (*LoginResult, error) {
	perms, err := a.users.GetPermissionNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	var (
		device *models.Device
		pair   TokenPair
	)
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		device, err = a.devices.WithDB(tx).RegisterTrusted(ctx, user.ID, attrs, result.RiskScore, result.Factors)
		if err != nil {
			return err
		}
		pair, _, err = a.sessions.WithDB(tx).Issue(ctx, IssueInput{
			UserID:      user.ID,
			UserType:    user.Type,
			DeviceID:    &device.ID,
			RememberMe:  rememberMe,
			Permissions: perms,
		})
		if err != nil {
			return err
		}
		_, err = a.patterns.WithDB(tx).Record(ctx, user.ID, signals)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adaptive service: issue credentials: %w", err)
	}

	if rec, ok := a.users.(loginRecorder); ok {
		if err := rec.RecordLogin(ctx, user.ID, signals.IP, signals.At); err != nil {
			a.log.Warn("record last login failed", zap.Error(err))
		}
	}

	result.Decision = DecisionTrusted
	result.SessionID = device.ID
	result.Tokens = &pair

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	metrics.DeviceDecisions.WithLabelValues(string(DecisionTrusted)).Inc()
	a.record(ctx, services.AuditEntry{
		Action:     AuditLoginSuccess,
		ActorID:    &user.ID,
		EntityType: "device",
		EntityID:   device.ID,
		IPAddress:  signals.IP,
		Details: map[string]any{
			"risk_score":  result.RiskScore,
			"risk_level":  string(result.RiskLevel),
			"factors":     result.Factors,
			"first_login": result.FirstLogin,
			"remember_me": rememberMe,
		},
	})

	if existing == nil && !result.FirstLogin && a.notifier != nil {
		a.notifier.SendSecurityNotice(ctx, services.SecurityNotice{
			UserID:  user.ID,
			Email:   user.Email,
			Kind:    services.NoticeNewDevice,
			Summary: "A new device signed in to your account.",
			At:      signals.At,
			Details: map[string]string{
				"device":   attrs.Name,
				"ip":       signals.IP,
				"location": joinLocation(attrs.City, attrs.Country),
			},
		})
	}

	return result, nil
}

func (a *AdaptiveService) requireApproval(
	ctx context.Context,
	user *models.User,
	existing *models.Device,
	attrs devices.Attributes,
	signals patterns.Signals,
	assessment risk.Assessment,
	result *LoginResult,
) (*LoginResult, error) {
	input := devices.PendingInput{
		UserID:      user.ID,
		Attributes:  attrs,
		RiskScore:   assessment.Score,
		RiskFactors: result.Factors,
		Signals:     &signals,
	}
	if existing != nil {
		input.ExistingID = existing.ID
	}

	pending, err := a.devices.CreatePending(ctx, input)
	if err != nil {
		return nil, err
	}

	expiresAt := pending.ExpiresAt
	result.Decision = DecisionPendingApproval
	result.SessionID = pending.Device.ID
	result.ApprovalToken = pending.Token
	result.ApprovalExpiresAt = &expiresAt

	metrics.AuthAttempts.WithLabelValues("approval_required").Inc()
	metrics.DeviceDecisions.WithLabelValues(string(DecisionPendingApproval)).Inc()
	a.record(ctx, services.AuditEntry{
		Action:     AuditLoginApproval,
		ActorID:    &user.ID,
		EntityType: "device",
		EntityID:   pending.Device.ID,
		IPAddress:  attrs.IP,
		Details: map[string]any{
			"risk_score": result.RiskScore,
			"risk_level": string(result.RiskLevel),
			"factors":    result.Factors,
		},
	})

	if a.notifier != nil {
		a.notifier.SendApprovalRequest(ctx, services.ApprovalNotice{
			UserID:     user.ID,
			Email:      user.Email,
			DeviceName: attrs.Name,
			Browser:    attrs.Browser,
			OS:         attrs.OS,
			IPAddress:  attrs.IP,
			Country:    attrs.Country,
			City:       attrs.City,
			Link:       pending.Link,
			Code:       pending.Code,
			ExpiresAt:  pending.ExpiresAt,
		})
	}

	return result, nil
}

// Refresh rotates a refresh token and returns the new pair.
func (a *AdaptiveService) Refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	pair, token, err := a.sessions.Refresh(ctx, in)
	if err != nil {
		a.refreshRejected(ctx, in, err)
		return nil, err
	}

	result := &RefreshResult{TokenPair: pair}
	if token.DeviceID != nil {
		result.SessionID = *token.DeviceID
	}

	a.record(ctx, services.AuditEntry{
		Action:     AuditRefresh,
		ActorID:    &token.UserID,
		EntityType: "refresh_token",
		EntityID:   token.ID,
		IPAddress:  in.IPAddress,
	})
	return result, nil
}

func (a *AdaptiveService) refreshRejected(ctx context.Context, in RefreshInput, err error) {
	entry := services.AuditEntry{
		Action:    AuditRefreshRejected,
		IPAddress: in.IPAddress,
		Details:   map[string]any{"reason": refreshReason(err)},
	}

	var reuse *TokenReuseError
	if errors.As(err, &reuse) {
		entry.TargetID = &reuse.UserID
		entry.EntityType = "token_family"
		entry.EntityID = reuse.FamilyID
		a.notifyUser(ctx, reuse.UserID, services.SecurityNotice{
			Kind:    services.NoticeTokenReuse,
			Summary: "A previously used sign-in token was presented again. All sessions in that chain were signed out.",
			Details: map[string]string{"ip": in.IPAddress},
		})
	}
	a.record(ctx, entry)
}

// ApproveDevice verifies the approval code for a pending device. remaining is set when a
// wrong code was counted.
func (a *AdaptiveService) ApproveDevice(ctx context.Context, token, code string) (*models.Device, *int, error) {
	device, remaining, err := a.devices.ValidateApprovalCode(ctx, token, code)
	switch {
	case err == nil:
		metrics.DeviceApprovals.WithLabelValues("approved").Inc()
		a.record(ctx, services.AuditEntry{
			Action:     AuditDeviceApproved,
			ActorID:    &device.UserID,
			EntityType: "device",
			EntityID:   device.ID,
			Details:    map[string]any{"method": "code"},
		})
		return device, nil, nil
	case errors.Is(err, devices.ErrApprovalCodeMismatch):
		metrics.DeviceApprovals.WithLabelValues("mismatch").Inc()
		a.record(ctx, services.AuditEntry{
			Action:  AuditDeviceApprovalFailed,
			Details: map[string]any{"reason": "mismatch", "remaining": remaining},
		})
		return nil, &remaining, err
	case errors.Is(err, devices.ErrApprovalMaxAttempts):
		metrics.DeviceApprovals.WithLabelValues("max_attempts").Inc()
		a.record(ctx, services.AuditEntry{
			Action:  AuditDeviceApprovalFailed,
			Details: map[string]any{"reason": "max_attempts"},
		})
		zero := 0
		return nil, &zero, err
	case errors.Is(err, devices.ErrApprovalNotFound):
		metrics.DeviceApprovals.WithLabelValues("invalid").Inc()
		a.record(ctx, services.AuditEntry{
			Action:  AuditDeviceApprovalFailed,
			Details: map[string]any{"reason": "invalid"},
		})
		return nil, nil, err
	default:
		return nil, nil, err
	}
}

// ApproveDeviceByLink trusts a pending device from the secret in the emailed approval link.
func (a *AdaptiveService) ApproveDeviceByLink(ctx context.Context, link string) (*models.Device, error) {
	device, err := a.devices.ApproveByLink(ctx, link)
	if err != nil {
		if errors.Is(err, devices.ErrApprovalNotFound) {
			metrics.DeviceApprovals.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}
	metrics.DeviceApprovals.WithLabelValues("approved").Inc()
	a.record(ctx, services.AuditEntry{
		Action:     AuditDeviceApproved,
		ActorID:    &device.UserID,
		EntityType: "device",
		EntityID:   device.ID,
		Details:    map[string]any{"method": "link"},
	})
	return device, nil
}

// DenyDevice revokes a pending device from the secret in the emailed approval link.
func (a *AdaptiveService) DenyDevice(ctx context.Context, link string) (*models.Device, error) {
	device, err := a.devices.DenyByLink(ctx, link)
	if err != nil {
		return nil, err
	}
	metrics.DeviceApprovals.WithLabelValues("denied").Inc()
	a.record(ctx, services.AuditEntry{
		Action:     AuditDeviceDenied,
		ActorID:    &device.UserID,
		EntityType: "device",
		EntityID:   device.ID,
	})
	return device, nil
}

// RecordFailedLogin counts a failed login for email.
func (a *AdaptiveService) RecordFailedLogin(ctx context.Context, email string) (lockout.Status, error) {
	status, err := a.guard.RecordFailedAttempt(ctx, email)
	if err != nil {
		return status, err
	}
	if status.IsLocked {
		a.record(ctx, services.AuditEntry{
			Action:     AuditLockout,
			EntityType: "identifier",
			EntityID:   lockout.Normalize(email),
			Details:    map[string]any{"lockout_seconds": status.LockoutSeconds},
		})
		if user, err := a.users.GetByEmail(ctx, email); err == nil && a.notifier != nil {
			a.notifier.SendSecurityNotice(ctx, services.SecurityNotice{
				UserID:  user.ID,
				Email:   user.Email,
				Kind:    services.NoticeAccountLocked,
				Summary: "Sign-in to your account was paused after repeated failed attempts.",
				At:      a.now(),
			})
		}
	}
	return status, nil
}

// IsBlocked reports whether email is currently locked out.
func (a *AdaptiveService) IsBlocked(ctx context.Context, email string) (bool, error) {
	return a.guard.IsBlocked(ctx, email)
}

// ResetLockout clears the failed-attempt state for email.
func (a *AdaptiveService) ResetLockout(ctx context.Context, email string) error {
	return a.guard.Reset(ctx, email)
}

// LockoutStatus reports remaining lockout time for UI countdowns.
func (a *AdaptiveService) LockoutStatus(ctx context.Context, email string) (lockout.Status, error) {
	return a.guard.Status(ctx, email)
}

// ListDevices returns the user's devices.
func (a *AdaptiveService) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	return a.devices.ListForUser(ctx, userID)
}

// RevokeDevice revokes one of the user's devices and every refresh token linked to it.
func (a *AdaptiveService) RevokeDevice(ctx context.Context, userID, deviceID string) (int, error) {
	device, err := a.devices.Get(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if device.UserID != userID {
		return 0, devices.ErrDeviceNotFound
	}

	count, err := a.devices.Revoke(ctx, device.ID, revocation.ReasonUserRevoked)
	if err != nil {
		return 0, err
	}

	a.record(ctx, services.AuditEntry{
		Action:     AuditDeviceRevoked,
		ActorID:    &userID,
		EntityType: "device",
		EntityID:   device.ID,
		Details:    map[string]any{"tokens_revoked": count},
	})
	a.notifyUser(ctx, userID, services.SecurityNotice{
		Kind:    services.NoticeDeviceRevoked,
		Summary: "A device was signed out of your account.",
		Details: map[string]string{"device": device.Name},
	})
	return count, nil
}

// RevokeAllDevices signs the user out everywhere.
func (a *AdaptiveService) RevokeAllDevices(ctx context.Context, userID string) (int, error) {
	count, err := a.devices.RevokeAllForUser(ctx, userID, revocation.ReasonUserRevoked)
	if err != nil {
		return 0, err
	}
	a.record(ctx, services.AuditEntry{
		Action:     AuditDeviceRevoked,
		ActorID:    &userID,
		EntityType: "user",
		EntityID:   userID,
		Details:    map[string]any{"devices_revoked": count},
	})
	return count, nil
}

// Logout revokes the refresh token identified by secret.
func (a *AdaptiveService) Logout(ctx context.Context, secret string) error {
	token, err := a.sessions.RevokeBySecret(ctx, secret, revocation.ReasonLogout)
	if err != nil {
		return err
	}
	a.record(ctx, services.AuditEntry{
		Action:     AuditLogout,
		ActorID:    &token.UserID,
		EntityType: "refresh_token",
		EntityID:   token.ID,
	})
	return nil
}

// ValidateAccessToken verifies the JWT and rejects tokens bound to a revoked session.
func (a *AdaptiveService) ValidateAccessToken(ctx context.Context, raw string) (*Claims, error) {
	claims, err := a.sessions.jwt.ValidateAccessToken(raw)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return claims, nil
	}
	revoked, err := a.devices.IsSessionRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

func (a *AdaptiveService) failLogin(ctx context.Context, email string, userID *string, ip, reason string) error {
	metrics.AuthAttempts.WithLabelValues("failure").Inc()
	a.record(ctx, services.AuditEntry{
		Action:    AuditLoginFailure,
		TargetID:  userID,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	})

	status, err := a.RecordFailedLogin(ctx, email)
	if err != nil {
		a.log.Warn("record failed login failed", zap.Error(err))
		return ErrInvalidCredentials
	}
	if status.IsLocked {
		return &LockedError{RetryAfter: time.Duration(status.LockoutSeconds) * time.Second}
	}
	return ErrInvalidCredentials
}

func (a *AdaptiveService) lockedError(ctx context.Context, email string) error {
	status, err := a.guard.Status(ctx, email)
	if err != nil {
		a.log.Warn("load lockout status failed", zap.Error(err))
		return &LockedError{}
	}
	return &LockedError{RetryAfter: time.Duration(status.LockoutSeconds) * time.Second}
}

func (a *AdaptiveService) resolve(ctx context.Context, ip string) geo.Location {
	if a.geo == nil || strings.TrimSpace(ip) == "" {
		return geo.Location{}
	}
	loc, err := a.geo.Resolve(ctx, ip)
	if err != nil {
		a.log.Warn("geoip lookup failed", zap.Error(err))
		return geo.Location{}
	}
	return loc
}

func (a *AdaptiveService) record(ctx context.Context, entry services.AuditEntry) {
	if a.audit == nil {
		return
	}
	a.audit.Record(ctx, entry)
}

func (a *AdaptiveService) notifyUser(ctx context.Context, userID string, notice services.SecurityNotice) {
	if a.notifier == nil {
		return
	}
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		a.log.Warn("resolve notice recipient failed", zap.Error(err))
		return
	}
	notice.UserID = user.ID
	notice.Email = user.Email
	if notice.At.IsZero() {
		notice.At = a.now()
	}
	a.notifier.SendSecurityNotice(ctx, notice)
}

func (a *AdaptiveService) timingHash() string {
	a.dummyOnce.Do(func() {
		seed, err := crypto.GenerateToken(16)
		if err == nil {
			a.dummyHash, _ = crypto.HashSecret(seed, 0)
		}
	})
	return a.dummyHash
}

func refreshReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenReused):
		return "reused"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrSessionRevoked):
		return "revoked"
	case errors.Is(err, ErrUnsupportedUserType):
		return "user_type"
	case errors.Is(err, ErrUserInactive):
		return "inactive"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}

func deviceName(explicit string, client geo.ClientInfo) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	return client.Name()
}

func joinLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case country != "":
		return country
	default:
		return city
	}
}
