package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/auth/devices"
	"github.com/charlesng35/authguard/internal/models"
	apperrors "github.com/charlesng35/authguard/pkg/errors"
	"github.com/charlesng35/authguard/pkg/response"
)

// DeviceHandler serves device approval and self-service session management.
type DeviceHandler struct {
	svc *iauth.AdaptiveService
}

func NewDeviceHandler(svc *iauth.AdaptiveService) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

type deviceView struct {
	ID             string              `json:"id"`
	DeviceID       string              `json:"device_id"`
	Name           string              `json:"name"`
	Browser        string              `json:"browser"`
	OS             string              `json:"os"`
	DeviceType     string              `json:"device_type"`
	Status         models.DeviceStatus `json:"status"`
	LastCountry    string              `json:"last_country,omitempty"`
	LastCity       string              `json:"last_city,omitempty"`
	LastIP         string              `json:"last_ip,omitempty"`
	LastActivityAt *time.Time          `json:"last_activity_at,omitempty"`
	TrustedAt      *time.Time          `json:"trusted_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Current        bool                `json:"current"`
}

func newDeviceView(d *models.Device, currentSession string) deviceView {
	return deviceView{
		ID:             d.ID,
		DeviceID:       d.DeviceID,
		Name:           d.Name,
		Browser:        d.Browser,
		OS:             d.OS,
		DeviceType:     d.DeviceType,
		Status:         d.Status,
		LastCountry:    d.LastCountry,
		LastCity:       d.LastCity,
		LastIP:         d.LastIP,
		LastActivityAt: d.LastActivityAt,
		TrustedAt:      d.TrustedAt,
		CreatedAt:      d.CreatedAt,
		Current:        currentSession != "" && d.ID == currentSession,
	}
}

type approveRequest struct {
	Token string `json:"token" validate:"required,max=128"`
	Code  string `json:"code" validate:"required,numeric,max=12"`
}

type approvalLinkRequest struct {
	Link string `json:"link" validate:"required,max=128"`
}

// POST /api/auth/devices/approve
func (h *DeviceHandler) Approve(c *gin.Context) {
	var req approveRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, remaining, err := h.svc.ApproveDevice(requestContext(c), strings.TrimSpace(req.Token), strings.TrimSpace(req.Code))
	if err != nil {
		if remaining != nil && errors.Is(err, devices.ErrApprovalCodeMismatch) {
			response.Error(c, apperrors.ErrInvalidCredentials.WithDetails(map[string]any{
				"remaining_attempts": *remaining,
			}))
			return
		}
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, newDeviceView(device, ""))
}

// POST /api/auth/devices/approve-link
func (h *DeviceHandler) ApproveLink(c *gin.Context) {
	var req approvalLinkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, err := h.svc.ApproveDeviceByLink(requestContext(c), strings.TrimSpace(req.Link))
	if err != nil {
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, newDeviceView(device, ""))
}

// POST /api/auth/devices/deny
func (h *DeviceHandler) Deny(c *gin.Context) {
	var req approvalLinkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, err := h.svc.DenyDevice(requestContext(c), strings.TrimSpace(req.Link))
	if err != nil {
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, newDeviceView(device, ""))
}

// GET /api/devices
func (h *DeviceHandler) List(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	list, err := h.svc.ListDevices(requestContext(c), claims.UserID)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	views := make([]deviceView, 0, len(list))
	for i := range list {
		views = append(views, newDeviceView(&list[i], claims.SessionID))
	}
	response.Success(c, http.StatusOK, views)
}

// DELETE /api/devices/:id
func (h *DeviceHandler) Revoke(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	count, err := h.svc.RevokeDevice(requestContext(c), claims.UserID, id)
	if err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			response.Error(c, apperrors.ErrNotFound)
			return
		}
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true, "tokens_revoked": count})
}

// DELETE /api/devices
func (h *DeviceHandler) RevokeAll(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	count, err := h.svc.RevokeAllDevices(requestContext(c), claims.UserID)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"devices_revoked": count})
}
