package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/crypto"
)

var (
	// ErrUserNotFound is returned when the credential store has no matching account.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrUserInactive covers disabled and administratively locked accounts.
	ErrUserInactive = errors.New("auth: user inactive or locked")
)

// UserStore is the credential store consumed by the authentication core.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetPermissionNames(ctx context.Context, userID string) ([]string, error)
}

// PasswordVerifier checks a presented password against the stored credential.
// Hashing passwords is outside this package; only verification is required.
type PasswordVerifier interface {
	Verify(user *models.User, password string) bool
}

// BcryptVerifier verifies bcrypt password hashes produced by the account service.
type BcryptVerifier struct{}

// Verify implements PasswordVerifier.
func (BcryptVerifier) Verify(user *models.User, password string) bool {
	if user == nil || password == "" {
		return false
	}
	return crypto.VerifyPassword(user.PasswordHash, password)
}

// GormUserStore implements UserStore on the relational database.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore builds a store with the provided database handle.
func NewGormUserStore(db *gorm.DB) (*GormUserStore, error) {
	if db == nil {
		return nil, errors.New("user store: db is required")
	}
	return &GormUserStore{db: db}, nil
}

// GetByID loads a user by primary key.
func (s *GormUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}
	return s.take(ctx, "id = ?", id)
}

// GetByEmail loads a user by case-insensitive email.
func (s *GormUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrUserNotFound
	}
	return s.take(ctx, "LOWER(email) = ?", email)
}

// GetPermissionNames lists the permission names granted to the user.
func (s *GormUserStore) GetPermissionNames(ctx context.Context, userID string) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&models.UserPermission{}).
		Where("user_id = ?", userID).
		Order("name").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("user store: load permissions: %w", err)
	}
	return names, nil
}

// RecordLogin stamps the last successful login on the account.
func (s *GormUserStore) RecordLogin(ctx context.Context, userID, ip string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"last_login_at": at,
			"last_login_ip": strings.TrimSpace(ip),
		}).Error
}

func (s *GormUserStore) take(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, arg).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user store: query user: %w", err)
	}
	return &user, nil
}

// checkUsable rejects inactive or locked accounts.
func checkUsable(user *models.User, now time.Time) error {
	if user == nil || !user.IsActive || user.IsLocked(now) {
		return ErrUserInactive
	}
	return nil
}
