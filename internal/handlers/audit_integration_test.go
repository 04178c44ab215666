package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/handlers/testutil"
)

type auditItem struct {
	Action  string  `json:"action"`
	ActorID *string `json:"actor_id"`
}

func TestAuditHandler_ListsOwnHistory(t *testing.T) {
	env := testutil.NewEnv(t)
	alice := env.CreateUser("AlicePassw0rd!")
	bob := env.CreateUser("BobPassw0rd!")

	login := env.Login(testutil.LoginRequest{Email: alice.Email, Password: "AlicePassw0rd!", DeviceID: "laptop-a"}, http.StatusOK)
	env.Login(testutil.LoginRequest{Email: bob.Email, Password: "BobPassw0rd!", DeviceID: "laptop-b"}, http.StatusOK)

	refresh := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": login.Tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())

	resp := env.Request(http.MethodGet, "/api/audit?per_page=10", nil, login.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decoded := testutil.DecodeResponse(t, resp)
	require.NotNil(t, decoded.Meta)
	require.Equal(t, 10, decoded.Meta.PerPage)

	var items []auditItem
	testutil.DecodeInto(t, decoded.Data, &items)
	require.NotEmpty(t, items)

	actions := make([]string, 0, len(items))
	for _, item := range items {
		require.NotNil(t, item.ActorID)
		require.Equal(t, alice.ID, *item.ActorID)
		actions = append(actions, item.Action)
	}
	require.Contains(t, actions, iauth.AuditLoginSuccess)
	require.Contains(t, actions, iauth.AuditRefresh)

	filtered := env.Request(http.MethodGet, "/api/audit?action="+iauth.AuditRefresh, nil, login.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, filtered.Code)
	items = nil
	testutil.DecodeInto(t, testutil.DecodeResponse(t, filtered).Data, &items)
	require.Len(t, items, 1)
}

func TestAuditHandler_RequiresAuthentication(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/audit", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHealth(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decoded := testutil.DecodeResponse(t, resp)
	require.True(t, decoded.Success)
}
