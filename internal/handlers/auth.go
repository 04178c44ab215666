package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/pkg/errors"
	"github.com/charlesng35/authguard/pkg/response"
)

// AuthHandler exposes the login, refresh and logout flows.
type AuthHandler struct {
	svc *iauth.AdaptiveService
}

func NewAuthHandler(svc *iauth.AdaptiveService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type loginRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DeviceID    string `json:"device_id" validate:"required,deviceid"`
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=256"`
	DeviceName  string `json:"device_name" validate:"omitempty,max=128"`
	RememberMe  bool   `json:"remember_me"`
}

type tokenResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	Decision          iauth.Decision `json:"decision"`
	RiskLevel         string         `json:"risk_level"`
	Tokens            *tokenResponse `json:"tokens,omitempty"`
	ApprovalToken     string         `json:"approval_token,omitempty"`
	ApprovalExpiresAt *time.Time     `json:"approval_expires_at,omitempty"`
}

func newTokenResponse(sessionID string, pair iauth.TokenPair) *tokenResponse {
	return &tokenResponse{
		SessionID:        sessionID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(pair.ExpiresIn.Seconds()),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// POST /api/auth/login
//
// A trusted device receives tokens (200). Otherwise the response is 202 with an approval
// token the client submits together with the emailed code.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	client := clientOf(c)
	result, err := h.svc.Login(requestContext(c), iauth.LoginCredentials{
		Email:       req.Email,
		Password:    req.Password,
		DeviceID:    req.DeviceID,
		Fingerprint: strings.TrimSpace(req.Fingerprint),
		DeviceName:  strings.TrimSpace(req.DeviceName),
		UserAgent:   client.UserAgent,
		IPAddress:   client.IP,
		RememberMe:  req.RememberMe,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}

	payload := loginResponse{
		Decision:  result.Decision,
		RiskLevel: string(result.RiskLevel),
	}
	if result.Decision == iauth.DecisionPendingApproval {
		payload.ApprovalToken = result.ApprovalToken
		payload.ApprovalExpiresAt = result.ApprovalExpiresAt
		response.Success(c, http.StatusAccepted, payload)
		return
	}

	payload.Tokens = newTokenResponse(result.SessionID, *result.Tokens)
	response.Success(c, http.StatusOK, payload)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	client := clientOf(c)
	result, err := h.svc.Refresh(requestContext(c), iauth.RefreshInput{
		Secret:    strings.TrimSpace(req.RefreshToken),
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, newTokenResponse(result.SessionID, result.TokenPair))
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.Logout(requestContext(c), strings.TrimSpace(req.RefreshToken)); err != nil {
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id":     claims.UserID,
		"session_id":  claims.SessionID,
		"user_type":   claims.UserType,
		"permissions": claims.Permissions,
	})
}
