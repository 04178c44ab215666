package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/api"
	"github.com/charlesng35/authguard/internal/app"
	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/cache/cachetest"
	sharedtestutil "github.com/charlesng35/authguard/internal/database/testutil"
	"github.com/charlesng35/authguard/internal/geo"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/internal/services"
	"github.com/charlesng35/authguard/pkg/response"
)

// Client addresses known to the static GeoIP resolver.
const (
	BerlinIP  = "203.0.113.10"
	NewYorkIP = "198.51.100.20"

	FirefoxLinux = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
)

// Clock is a settable time source shared by every service in the environment.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Notifier captures approval requests and security notices instead of mailing them.
type Notifier struct {
	mu        sync.Mutex
	approvals []services.ApprovalNotice
	notices   []services.SecurityNotice
}

func (n *Notifier) SendApprovalRequest(_ context.Context, notice services.ApprovalNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals = append(n.approvals, notice)
}

func (n *Notifier) SendSecurityNotice(_ context.Context, notice services.SecurityNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// LastApproval returns the most recent approval request.
func (n *Notifier) LastApproval(t *testing.T) services.ApprovalNotice {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.approvals, "no approval request was sent")
	return n.approvals[len(n.approvals)-1]
}

// Env encapsulates a fully-wired API instance backed by an in-memory database and a
// miniredis cache for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Redis    *miniredis.Miniredis
	Router   *gin.Engine
	Config   *app.Config
	Auth     *app.AuthStack
	Audit    *services.AuditService
	Notifier *Notifier
	Clock    *Clock
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	store, mr := cachetest.MustRedisStore(t)
	clock := &Clock{current: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}

	cfg := &app.Config{
		Server: app.ServerConfig{
			RateLimit: app.RateLimitConfig{Enabled: true, Requests: 1000, Window: time.Minute},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    15 * time.Minute,
			},
			Session: app.SessionSettings{
				RefreshTTL: 24 * time.Hour,
				BcryptCost: bcrypt.MinCost,
			},
			Risk: app.RiskSettings{Enabled: true},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}

	audit, err := services.NewAuditService(db, services.AuditConfig{Clock: clock.Now})
	require.NoError(t, err)

	berlinLat, berlinLon := 52.52, 13.405
	nyLat, nyLon := 40.7128, -74.006
	notifier := &Notifier{}

	stack, err := app.NewAuthStack(cfg, db, store, iauth.AdaptiveDeps{
		Geo: geo.StaticResolver{Locations: map[string]geo.Location{
			BerlinIP:  {CountryCode: "DE", City: "Berlin", Latitude: &berlinLat, Longitude: &berlinLon},
			NewYorkIP: {CountryCode: "US", City: "New York", Latitude: &nyLat, Longitude: &nyLon},
		}},
		Audit:    audit,
		Notifier: notifier,
		Clock:    clock.Now,
	})
	require.NoError(t, err)

	router, err := api.NewRouter(api.Deps{
		DB:       db,
		Config:   cfg,
		Adaptive: stack.Adaptive,
		Audit:    audit,
		Cache:    store,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Redis:    mr,
		Router:   router,
		Config:   cfg,
		Auth:     stack,
		Audit:    audit,
		Notifier: notifier,
		Clock:    clock,
	}
}

// CreateUser inserts an active user with a random address and the given password.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(e.T, err)

	user := &models.User{
		Email:        "user-" + uuid.NewString() + "@example.com",
		PasswordHash: string(hashed),
		IsActive:     true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// TokenPair mirrors the handler token payload.
type TokenPair struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Decision          string     `json:"decision"`
	RiskLevel         string     `json:"risk_level"`
	Tokens            *TokenPair `json:"tokens"`
	ApprovalToken     string     `json:"approval_token"`
	ApprovalExpiresAt *time.Time `json:"approval_expires_at"`
}

// LoginRequest is the login payload together with the client address it is sent from.
type LoginRequest struct {
	Email      string
	Password   string
	DeviceID   string
	RememberMe bool
	IP         string
}

// PostLogin sends a login request and returns the raw recorder.
func (e *Env) PostLogin(in LoginRequest) *httptest.ResponseRecorder {
	e.T.Helper()
	payload := map[string]any{
		"email":       in.Email,
		"password":    in.Password,
		"device_id":   in.DeviceID,
		"remember_me": in.RememberMe,
	}
	return e.RequestFrom(in.IP, http.MethodPost, "/api/auth/login", payload, "")
}

// Login authenticates and decodes the login payload, requiring the given status.
func (e *Env) Login(in LoginRequest, status int) LoginResult {
	e.T.Helper()

	w := e.PostLogin(in)
	require.Equal(e.T, status, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request from the Berlin test address.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestFrom(BerlinIP, method, path, body, token)
}

// RequestFrom executes an HTTP request against the test router from the given client IP,
// applying JSON encoding and auth headers automatically.
func (e *Env) RequestFrom(ip, method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if ip == "" {
		ip = BerlinIP
	}
	req.RemoteAddr = ip + ":41234"
	req.Header.Set("User-Agent", FirefoxLinux)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
