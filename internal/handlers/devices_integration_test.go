package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/handlers/testutil"
	"github.com/charlesng35/authguard/internal/models"
)

type deviceItem struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Current  bool   `json:"current"`
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestDeviceHandler_ApprovalFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("DevicePassw0rd!")

	env.Login(testutil.LoginRequest{Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "laptop-1"}, http.StatusOK)

	// One hour later from across the Atlantic on a new device.
	env.Clock.Advance(time.Hour)
	remote := testutil.LoginRequest{Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "phone-1", IP: testutil.NewYorkIP}
	pending := env.Login(remote, http.StatusAccepted)
	require.Equal(t, "pending_approval", pending.Decision)
	require.Equal(t, "high", pending.RiskLevel)
	require.Nil(t, pending.Tokens)
	require.NotEmpty(t, pending.ApprovalToken)
	require.NotNil(t, pending.ApprovalExpiresAt)

	notice := env.Notifier.LastApproval(t)
	require.Equal(t, user.Email, notice.Email)
	require.Len(t, notice.Code, 6)

	mismatch := env.Request(http.MethodPost, "/api/auth/devices/approve", map[string]string{
		"token": pending.ApprovalToken,
		"code":  wrongCode(notice.Code),
	}, "")
	require.Equal(t, http.StatusUnauthorized, mismatch.Code, mismatch.Body.String())
	decoded := testutil.DecodeResponse(t, mismatch)
	require.Equal(t, "INVALID_CREDENTIALS", decoded.Error.Code)
	require.EqualValues(t, 4, decoded.Error.Details["remaining_attempts"])

	approved := env.Request(http.MethodPost, "/api/auth/devices/approve", map[string]string{
		"token": pending.ApprovalToken,
		"code":  notice.Code,
	}, "")
	require.Equal(t, http.StatusOK, approved.Code, approved.Body.String())
	var device deviceItem
	testutil.DecodeInto(t, testutil.DecodeResponse(t, approved).Data, &device)
	require.Equal(t, "phone-1", device.DeviceID)
	require.Equal(t, string(models.DeviceStatusTrusted), device.Status)

	// A consumed approval token cannot be replayed.
	replay := env.Request(http.MethodPost, "/api/auth/devices/approve", map[string]string{
		"token": pending.ApprovalToken,
		"code":  notice.Code,
	}, "")
	require.Equal(t, http.StatusUnauthorized, replay.Code)

	// The approved login joined the baseline, so signing in again from the same place is trusted.
	env.Clock.Advance(time.Minute)
	trusted := env.Login(remote, http.StatusOK)
	require.Equal(t, "trusted", trusted.Decision)
	require.Equal(t, "low", trusted.RiskLevel)
	require.NotNil(t, trusted.Tokens)
}

func TestDeviceHandler_DenyRevokesPendingDevice(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("DevicePassw0rd!")

	env.Login(testutil.LoginRequest{Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "laptop-1"}, http.StatusOK)
	env.Clock.Advance(time.Hour)
	pending := env.Login(testutil.LoginRequest{
		Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "phone-1", IP: testutil.NewYorkIP,
	}, http.StatusAccepted)

	notice := env.Notifier.LastApproval(t)

	withToken := env.Request(http.MethodPost, "/api/auth/devices/deny", map[string]string{"link": pending.ApprovalToken}, "")
	require.Equal(t, http.StatusUnauthorized, withToken.Code)

	denied := env.Request(http.MethodPost, "/api/auth/devices/deny", map[string]string{"link": notice.Link}, "")
	require.Equal(t, http.StatusOK, denied.Code, denied.Body.String())
	var device deviceItem
	testutil.DecodeInto(t, testutil.DecodeResponse(t, denied).Data, &device)
	require.Equal(t, string(models.DeviceStatusRevoked), device.Status)

	link := env.Request(http.MethodPost, "/api/auth/devices/approve-link", map[string]string{"link": notice.Link}, "")
	require.Equal(t, http.StatusUnauthorized, link.Code)
}

func TestDeviceHandler_ApproveLink(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("DevicePassw0rd!")

	env.Login(testutil.LoginRequest{Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "laptop-1"}, http.StatusOK)
	env.Clock.Advance(time.Hour)
	pending := env.Login(testutil.LoginRequest{
		Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "phone-1", IP: testutil.NewYorkIP,
	}, http.StatusAccepted)

	// The approval token returned to the waiting client is not a link secret.
	forged := env.Request(http.MethodPost, "/api/auth/devices/approve-link", map[string]string{"link": pending.ApprovalToken}, "")
	require.Equal(t, http.StatusUnauthorized, forged.Code, forged.Body.String())

	resp := env.Request(http.MethodPost, "/api/auth/devices/approve-link", map[string]string{"link": env.Notifier.LastApproval(t).Link}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var device deviceItem
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &device)
	require.Equal(t, string(models.DeviceStatusTrusted), device.Status)
}

func TestDeviceHandler_ListAndRevoke(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("DevicePassw0rd!")

	laptop := env.Login(testutil.LoginRequest{Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "laptop-1"}, http.StatusOK)
	// Same city and hour: a second device is low risk and trusted straight away.
	desktop := env.Login(testutil.LoginRequest{Email: user.Email, Password: "DevicePassw0rd!", DeviceID: "desktop-1"}, http.StatusOK)

	list := env.Request(http.MethodGet, "/api/devices", nil, laptop.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, list.Code, list.Body.String())
	var items []deviceItem
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &items)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Equal(t, item.ID == laptop.Tokens.SessionID, item.Current, item.DeviceID)
	}

	revoke := env.Request(http.MethodDelete, "/api/devices/"+desktop.Tokens.SessionID, nil, laptop.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, revoke.Code, revoke.Body.String())

	// The revoked session's access token and refresh token stop working immediately.
	me := env.Request(http.MethodGet, "/api/auth/me", nil, desktop.Tokens.AccessToken)
	require.Equal(t, http.StatusUnauthorized, me.Code)
	refresh := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": desktop.Tokens.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, refresh.Code)

	missing := env.Request(http.MethodDelete, "/api/devices/does-not-exist", nil, laptop.Tokens.AccessToken)
	require.Equal(t, http.StatusNotFound, missing.Code)

	all := env.Request(http.MethodDelete, "/api/devices", nil, laptop.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, all.Code, all.Body.String())
	me = env.Request(http.MethodGet, "/api/auth/me", nil, laptop.Tokens.AccessToken)
	require.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestDeviceHandler_RequiresAuthentication(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/devices", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.Request(http.MethodGet, "/api/devices", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}
