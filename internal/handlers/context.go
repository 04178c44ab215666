package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/auditctx"
	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/middleware"
)

// requestContext returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// requestClient is the caller address and user agent fed to risk scoring.
type requestClient struct {
	IP        string
	UserAgent string
}

// clientOf prefers the actor stored by the Actor middleware so the address that is scored is
// the one that ends up in the audit trail.
func clientOf(c *gin.Context) requestClient {
	var client requestClient
	if c == nil {
		return client
	}
	client.IP = strings.TrimSpace(c.ClientIP())
	if c.Request != nil {
		client.UserAgent = strings.TrimSpace(c.Request.UserAgent())
	}
	if actor, ok := auditctx.FromContext(requestContext(c)); ok {
		if actor.IPAddress != "" {
			client.IP = actor.IPAddress
		}
		if actor.UserAgent != "" {
			client.UserAgent = actor.UserAgent
		}
	}
	return client
}

// currentClaims returns the access token claims stored by the auth middleware.
func currentClaims(c *gin.Context) *iauth.Claims {
	v, ok := c.Get(middleware.CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*iauth.Claims)
	return claims
}
