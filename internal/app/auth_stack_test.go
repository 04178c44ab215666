package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/internal/database/testutil"
	"github.com/charlesng35/authguard/internal/models"
)

func TestNewAuthStackRequiresInputs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	_, err := NewAuthStack(nil, db, cache.NewDatabaseStore(db), auth.AdaptiveDeps{})
	require.ErrorContains(t, err, "config is required")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	_, err = NewAuthStack(cfg, db, nil, auth.AdaptiveDeps{})
	require.ErrorContains(t, err, "cache store is required")

	_, err = NewAuthStack(cfg, db, cache.NewDatabaseStore(db), auth.AdaptiveDeps{})
	require.ErrorContains(t, err, "jwt service")
}

func TestNewAuthStackFirstLoginIsTrusted(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.Session.BcryptCost = bcrypt.MinCost

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	stack, err := NewAuthStack(cfg, db, cache.NewDatabaseStore(db), auth.AdaptiveDeps{
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NotNil(t, stack.JWT)
	require.NotNil(t, stack.Users)
	require.NotNil(t, stack.Sessions)
	require.NotNil(t, stack.Devices)
	require.NotNil(t, stack.Blacklist)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{Email: "ada@example.com", PasswordHash: string(hash), IsActive: true}
	require.NoError(t, db.Create(user).Error)

	ctx := context.Background()
	result, err := stack.Adaptive.Login(ctx, auth.LoginCredentials{
		Email:     "ada@example.com",
		Password:  "correct horse",
		DeviceID:  "laptop-1",
		IPAddress: "127.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, auth.DecisionTrusted, result.Decision)
	require.True(t, result.FirstLogin)
	require.NotNil(t, result.Tokens)

	claims, err := stack.Adaptive.ValidateAccessToken(ctx, result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, result.SessionID, claims.SessionID)
}
