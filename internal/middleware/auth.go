package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/auditctx"
	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/pkg/errors"
	"github.com/charlesng35/authguard/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
)

// TokenValidator verifies a bearer access token, including its session revocation state.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (*iauth.Claims, error)
}

// Auth enforces bearer authentication. Tokens whose session (device) has been revoked are
// rejected exactly like malformed or expired ones.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), strings.TrimSpace(authz[7:]))
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}
		c.Request = c.Request.WithContext(auditctx.Merge(c.Request.Context(), auditctx.Actor{
			UserID:    claims.UserID,
			SessionID: claims.SessionID,
		}))

		c.Next()
	}
}
