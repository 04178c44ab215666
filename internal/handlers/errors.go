package handlers

import (
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/auth/devices"
	apperrors "github.com/charlesng35/authguard/pkg/errors"
	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/response"
)

// authRejections collapse to a single client-facing error so responses never reveal which
// check failed.
var authRejections = []error{
	iauth.ErrInvalidCredentials,
	iauth.ErrSessionNotFound,
	iauth.ErrSessionRevoked,
	iauth.ErrSessionExpired,
	iauth.ErrSessionInvalidToken,
	iauth.ErrTokenReused,
	iauth.ErrUnsupportedUserType,
	iauth.ErrUserInactive,
	iauth.ErrUserNotFound,
	devices.ErrDeviceNotFound,
	devices.ErrDeviceRevoked,
	devices.ErrApprovalNotFound,
	devices.ErrApprovalMaxAttempts,
	devices.ErrApprovalCodeMismatch,
}

// respondAuthError renders an auth-path failure. Unknown errors are logged and surface as 500.
func respondAuthError(c *gin.Context, err error) {
	var locked *iauth.LockedError
	if errors.As(err, &locked) {
		response.Error(c, apperrors.NewLocked(int(math.Ceil(locked.RetryAfter.Seconds()))))
		return
	}
	if errors.Is(err, iauth.ErrDeviceIDRequired) {
		response.Error(c, apperrors.NewBadRequest("device id is required"))
		return
	}
	for _, target := range authRejections {
		if errors.Is(err, target) {
			response.Error(c, apperrors.ErrInvalidCredentials)
			return
		}
	}

	logger.WithModule("http").Error("auth request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	response.Error(c, apperrors.ErrInternalServer)
}
