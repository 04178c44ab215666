package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/auditctx"
)

// Actor stores the caller's address and user agent on the request context so audit
// entries written further down carry them.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.Merge(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
