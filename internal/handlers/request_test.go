package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/auditctx"
	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/middleware"
	appValidator "github.com/charlesng35/authguard/pkg/validator"
)

func newTestContext(target string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	c.Request.RemoteAddr = "192.0.2.1:5555"
	c.Request.Header.Set("User-Agent", "curl/8.0")
	return c
}

func TestClientOfPrefersRecordedActor(t *testing.T) {
	c := newTestContext("/")
	require.Equal(t, requestClient{IP: "192.0.2.1", UserAgent: "curl/8.0"}, clientOf(c))

	ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{IPAddress: "203.0.113.7"})
	c.Request = c.Request.WithContext(ctx)
	require.Equal(t, requestClient{IP: "203.0.113.7", UserAgent: "curl/8.0"}, clientOf(c))

	require.Equal(t, requestClient{}, clientOf(nil))
	require.NotNil(t, requestContext(nil))
}

func TestCurrentClaims(t *testing.T) {
	c := newTestContext("/")
	require.Nil(t, currentClaims(c))

	claims := &iauth.Claims{UserID: "user-1", SessionID: "device-1"}
	c.Set(middleware.CtxClaimsKey, claims)
	require.Same(t, claims, currentClaims(c))
}

func TestFormatValidationError(t *testing.T) {
	err := appValidator.ValidationErrors{
		{Field: "device_id", Tag: "deviceid"},
		{Field: "code", Tag: "numeric"},
		{Field: "link", Tag: "max", Param: "128"},
		{Field: "password", Tag: "excludesall", Param: "x"},
	}
	msg := formatValidationError(err)
	require.Contains(t, msg, "device id must be 1-128 printable characters without spaces")
	require.Contains(t, msg, "code must contain digits only")
	require.Contains(t, msg, "link must be at most 128 characters")
	require.Contains(t, msg, "password is invalid")
	require.NotContains(t, msg, "excludesall")

	require.Equal(t, "invalid request payload", formatValidationError(nil))
}

func TestPaginationAndTimeQuery(t *testing.T) {
	c := newTestContext("/?page=0&per_page=900&since=2024-01-02T03:04:05%2B02:00&until=yesterday")
	page, per := pagination(c, 50, 200)
	require.Equal(t, 1, page)
	require.Equal(t, 50, per)

	since := timeQuery(c, "since")
	require.NotNil(t, since)
	require.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), *since)
	require.Nil(t, timeQuery(c, "until"))

	c = newTestContext("/?page=3&per_page=20")
	page, per = pagination(c, 50, 200)
	require.Equal(t, 3, page)
	require.Equal(t, 20, per)
}
